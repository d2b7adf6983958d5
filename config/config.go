// Package config 从 YAML 文件加载引擎配置。
//
// 字符串值中的 ${VAR} 在解析前按环境变量展开。
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tablecore/data/db"
	"tablecore/errors"
)

// Config 根配置
type Config struct {
	Database db.DBConfig   `yaml:"database"`
	Engine   EngineConfig  `yaml:"engine"`
	Cache    CacheConfig   `yaml:"cache"`
	Hooks    HooksConfig   `yaml:"hooks"`
	Logging  LoggingConfig `yaml:"logging"`
}

// EngineConfig 读写引擎参数
type EngineConfig struct {
	// ReadChunkSize 批量读取时每次 IN 查询的主键数量
	ReadChunkSize int `yaml:"read_chunk_size"`
	// UpdateChunkSize 每条批量 UPDATE 覆盖的行数
	UpdateChunkSize int `yaml:"update_chunk_size"`
	DefaultLimit    int `yaml:"default_limit"`
	MinLimit        int `yaml:"min_limit"`
	MaxLimit        int `yaml:"max_limit"`
	// ServerTimezone 不带时区的日期时间所在时区，Local 表示进程时区
	ServerTimezone string `yaml:"server_timezone"`
}

// CacheConfig 记录与元数据缓存
type CacheConfig struct {
	// Driver local | redis | none
	Driver      string        `yaml:"driver"`
	MaxSize     int           `yaml:"max_size"`
	TTL         time.Duration `yaml:"ttl"`
	SchemaTTL   time.Duration `yaml:"schema_ttl"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisDB     int           `yaml:"redis_db"`
	RedisPass   string        `yaml:"redis_password"`
	RedisPrefix string        `yaml:"redis_prefix"`
}

// HooksConfig 事件分发
type HooksConfig struct {
	// Transport sync | nats | none
	Transport     string `yaml:"transport"`
	NatsURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Queue         string `yaml:"queue"`
}

// LoggingConfig 日志
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default 返回默认配置：内存 sqlite、本地缓存、同步事件
func Default() *Config {
	return &Config{
		Database: db.DBConfig{Driver: "sqlite", Database: ":memory:"},
		Engine:   DefaultEngine(),
		Cache: CacheConfig{
			Driver:    "local",
			MaxSize:   10000,
			TTL:       5 * time.Minute,
			SchemaTTL: time.Minute,
		},
		Hooks:   HooksConfig{Transport: "sync", SubjectPrefix: "tablecore."},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultEngine 引擎默认参数
func DefaultEngine() EngineConfig {
	return EngineConfig{
		ReadChunkSize:   100,
		UpdateChunkSize: 100,
		DefaultLimit:    25,
		MinLimit:        1,
		MaxLimit:        1000,
		ServerTimezone:  "Local",
	}
}

// Load 读取并解析文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, fmt.Sprintf("读取配置文件 %s 失败", path))
	}
	return Parse(data)
}

// Parse 在默认配置之上解析 YAML，未出现的字段保持默认值
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "解析配置失败")
	}
	cfg.Engine = cfg.Engine.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithDefaults 把非正数字段替换为默认值
func (e EngineConfig) WithDefaults() EngineConfig {
	d := DefaultEngine()
	if e.ReadChunkSize <= 0 {
		e.ReadChunkSize = d.ReadChunkSize
	}
	if e.UpdateChunkSize <= 0 {
		e.UpdateChunkSize = d.UpdateChunkSize
	}
	if e.DefaultLimit <= 0 {
		e.DefaultLimit = d.DefaultLimit
	}
	if e.MinLimit <= 0 {
		e.MinLimit = d.MinLimit
	}
	if e.MaxLimit <= 0 {
		e.MaxLimit = d.MaxLimit
	}
	if e.ServerTimezone == "" {
		e.ServerTimezone = d.ServerTimezone
	}
	return e
}

// ClampLimit 把请求的条数限制到 [MinLimit, MaxLimit]，0 或负数取默认值
func (e EngineConfig) ClampLimit(limit int) int {
	if limit <= 0 {
		limit = e.DefaultLimit
	}
	if limit < e.MinLimit {
		limit = e.MinLimit
	}
	if limit > e.MaxLimit {
		limit = e.MaxLimit
	}
	return limit
}

// Validate 校验配置
func (c *Config) Validate() error {
	problems := map[string]string{}
	if c.Database.Driver == "" {
		problems["database.driver"] = "不能为空"
	}
	e := c.Engine
	if e.MinLimit > e.MaxLimit {
		problems["engine.min_limit"] = "不能大于 max_limit"
	}
	if e.DefaultLimit < e.MinLimit || e.DefaultLimit > e.MaxLimit {
		problems["engine.default_limit"] = "必须位于 [min_limit, max_limit]"
	}
	if e.ServerTimezone != "Local" {
		if _, err := time.LoadLocation(e.ServerTimezone); err != nil {
			problems["engine.server_timezone"] = err.Error()
		}
	}
	switch c.Cache.Driver {
	case "", "none", "local":
	case "redis":
		if c.Cache.RedisAddr == "" {
			problems["cache.redis_addr"] = "redis 缓存需要地址"
		}
	default:
		problems["cache.driver"] = "只支持 local、redis、none"
	}
	switch c.Hooks.Transport {
	case "", "none", "sync":
	case "nats":
		if c.Hooks.NatsURL == "" {
			problems["hooks.nats_url"] = "nats 传输需要地址"
		}
	default:
		problems["hooks.transport"] = "只支持 sync、nats、none"
	}
	if len(problems) > 0 {
		return errors.NewValidationError("配置不合法", problems)
	}
	return nil
}
