// Package models 定义数据库模型和公共类型
package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// FlagList 命令行可疑关键字列表，以逗号拼接存储为 TEXT
type FlagList []string

// Value 实现 driver.Valuer 接口
func (f FlagList) Value() (driver.Value, error) {
	return f.String(), nil
}

// Scan 实现 sql.Scanner 接口
func (f *FlagList) Scan(value interface{}) error {
	if value == nil {
		*f = FlagList{}
		return nil
	}

	var str string
	switch v := value.(type) {
	case []byte:
		str = string(v)
	case string:
		str = v
	default:
		return fmt.Errorf("failed to scan FlagList: expected []byte or string, got %T", value)
	}

	if str == "" {
		*f = FlagList{}
		return nil
	}
	*f = strings.Split(str, ",")
	return nil
}

// String 返回逗号拼接形式
func (f FlagList) String() string {
	return strings.Join(f, ",")
}

// GeoInfo 目的地址地理位置信息
type GeoInfo struct {
	CountryCode string `json:"country_code,omitempty"`
	CountryName string `json:"country_name,omitempty"`
	CityName    string `json:"city_name,omitempty"`
}
