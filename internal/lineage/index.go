package lineage

import "github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"

// DefaultMaxDepth 祖先链默认最大长度（包含叶子进程）
const DefaultMaxDepth = 4

// Index 按 process_guid 索引的只读进程表，每次运行构建一次
type Index struct {
	byKey map[string]*models.Process
}

// NewIndex 构建索引，重复 key 以后出现者为准
func NewIndex(procs []*models.Process) *Index {
	byKey := make(map[string]*models.Process, len(procs))
	for _, p := range procs {
		if p != nil {
			byKey[p.ProcessKey] = p
		}
	}
	return &Index{byKey: byKey}
}

// Len 进程数量
func (i *Index) Len() int {
	return len(i.byKey)
}

// Get 根据 key 查询
func (i *Index) Get(key string) (*models.Process, bool) {
	p, ok := i.byKey[key]
	return p, ok
}

// Parent 返回已解析的父进程，未解析或父进程不存在时返回 nil
func (i *Index) Parent(p *models.Process) *models.Process {
	if p == nil || !p.HasParent() {
		return nil
	}
	return i.byKey[*p.ParentKey]
}

// Chain 从叶子进程沿 parent_guid 向上收集，最多 maxDepth 个节点，返回根在前的顺序
//
// 达到深度上限属于正常截断；parent_guid 成环时同样在上限处终止。
func (i *Index) Chain(leafKey string, maxDepth int) []*models.Process {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	chain := make([]*models.Process, 0, maxDepth)
	key := leafKey
	for key != "" && len(chain) < maxDepth {
		p, ok := i.byKey[key]
		if !ok {
			break
		}
		chain = append(chain, p)
		if !p.HasParent() {
			break
		}
		key = *p.ParentKey
	}

	for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
		chain[l], chain[r] = chain[r], chain[l]
	}
	return chain
}
