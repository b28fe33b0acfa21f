// Package enricher 提供进程富化与评分
package enricher

import (
	"context"
	"errors"
	"fmt"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// Enricher 进程富化器接口
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, p *models.Process) error
	Enabled() bool
	Close() error
}

// EnricherChain 按注册顺序执行的富化器链，跳过未启用的富化器
type EnricherChain struct {
	enrichers []Enricher
}

// NewEnricherChain 创建富化器链，nil 富化器被忽略
func NewEnricherChain(enrichers ...Enricher) *EnricherChain {
	c := &EnricherChain{}
	for _, e := range enrichers {
		if e != nil {
			c.enrichers = append(c.enrichers, e)
		}
	}
	return c
}

// Names 返回已启用的富化器名称
func (c *EnricherChain) Names() []string {
	names := make([]string, 0, len(c.enrichers))
	for _, e := range c.enrichers {
		if e.Enabled() {
			names = append(names, e.Name())
		}
	}
	return names
}

// Enrich 对单个进程执行全部富化，第一个错误终止该进程的富化
func (c *EnricherChain) Enrich(ctx context.Context, p *models.Process) error {
	if p == nil {
		return nil
	}
	for _, e := range c.enrichers {
		if !e.Enabled() {
			continue
		}
		if err := e.Enrich(ctx, p); err != nil {
			return fmt.Errorf("%s enricher %s: %w", e.Name(), p.ProcessKey, err)
		}
	}
	return nil
}

// Close 关闭所有富化器并合并错误
func (c *EnricherChain) Close() error {
	var errs []error
	for _, e := range c.enrichers {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s enricher: %w", e.Name(), err))
		}
	}
	return errors.Join(errs...)
}
