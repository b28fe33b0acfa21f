package enricher

import (
	"net"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

// GeoIPConfig GeoIP 配置
type GeoIPConfig struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	DatabasePath string `yaml:"database_path" mapstructure:"database_path"`
}

// GeoIPResolver 目的地址地理位置解析
type GeoIPResolver struct {
	db      *geoip2.Reader
	enabled bool
	logger  *zap.Logger
}

// NewGeoIPResolver 创建 GeoIP 解析器，数据库打开失败时降级为禁用
func NewGeoIPResolver(cfg *GeoIPConfig, logger *zap.Logger) *GeoIPResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("geoip")

	if cfg == nil || !cfg.Enabled {
		return &GeoIPResolver{enabled: false, logger: logger}
	}

	db, err := geoip2.Open(cfg.DatabasePath)
	if err != nil {
		logger.Warn("failed to open GeoIP database, resolver disabled",
			zap.String("path", cfg.DatabasePath), zap.Error(err))
		return &GeoIPResolver{enabled: false, logger: logger}
	}

	logger.Info("GeoIP resolver initialized", zap.String("database_path", cfg.DatabasePath))
	return &GeoIPResolver{db: db, enabled: true, logger: logger}
}

// Enabled 返回是否启用
func (r *GeoIPResolver) Enabled() bool { return r != nil && r.enabled }

// Locate 查询 IP 的地理位置，私有地址、无法解析或未启用时返回 nil
func (r *GeoIPResolver) Locate(ipStr string) *models.GeoInfo {
	if !r.Enabled() || r.db == nil || ipStr == "" {
		return nil
	}

	ip := net.ParseIP(ipStr)
	if ip == nil || isPrivateIP(ip) {
		return nil
	}

	record, err := r.db.City(ip)
	if err != nil {
		r.logger.Debug("GeoIP lookup failed", zap.String("ip", ipStr), zap.Error(err))
		return nil
	}
	if record.Country.IsoCode == "" && len(record.City.Names) == 0 {
		return nil
	}

	return &models.GeoInfo{
		CountryCode: record.Country.IsoCode,
		CountryName: record.Country.Names["en"],
		CityName:    record.City.Names["en"],
	}
}

// Close 关闭数据库
func (r *GeoIPResolver) Close() error {
	if r != nil && r.db != nil {
		return r.db.Close()
	}
	return nil
}

var privateBlocks = mustParseCIDRs(
	"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
	"127.0.0.0/8", "169.254.0.0/16", "::1/128", "fe80::/10", "fc00::/7",
)

func mustParseCIDRs(blocks ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(blocks))
	for _, block := range blocks {
		_, cidr, err := net.ParseCIDR(block)
		if err != nil {
			panic(err)
		}
		out = append(out, cidr)
	}
	return out
}

// isPrivateIP 判断是否为私有 IP
func isPrivateIP(ip net.IP) bool {
	for _, cidr := range privateBlocks {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
