package main

import (
	"fmt"
	"os"
	"time"

	"codesandbox/internal/common/cache"
	"codesandbox/internal/common/db"
	"codesandbox/internal/common/mq"
	"codesandbox/internal/common/storage"
	"codesandbox/internal/sandbox"
	"codesandbox/internal/sandbox/backend/container"
	"codesandbox/internal/sandbox/backend/native"
	"codesandbox/internal/sandbox/profile"
	"codesandbox/internal/sandbox/spec"
	"codesandbox/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 5 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultStatusTTL       = 30 * time.Minute
	defaultStatusTimeout   = 2 * time.Second
	defaultPublishTimeout  = 5 * time.Second
	defaultFinalTopic      = "sandbox.report.final"
	defaultMetricsPath     = "/metrics"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// NativeConfig holds native backend settings.
type NativeConfig struct {
	HelperPath         string        `yaml:"helperPath"`
	SeccompProfile     string        `yaml:"seccompProfile"`
	EnableCgroup       bool          `yaml:"enableCgroup"`
	CgroupRoot         string        `yaml:"cgroupRoot"`
	MemoryPollInterval time.Duration `yaml:"memoryPollInterval"`
}

// DockerConfig holds containerized backend settings.
type DockerConfig struct {
	Host        string        `yaml:"host"`
	User        string        `yaml:"user"`
	PullImages  bool          `yaml:"pullImages"`
	CPUs        float64       `yaml:"cpus"`
	TmpfsSizeMB int64         `yaml:"tmpfsSizeMB"`
	APITimeout  time.Duration `yaml:"apiTimeout"`
}

// SandboxConfig holds engine settings. Mode is "native" or "docker".
type SandboxConfig struct {
	Mode           string             `yaml:"mode"`
	WorkRoot       string             `yaml:"workRoot"`
	CompileTimeout time.Duration      `yaml:"compileTimeout"`
	DefaultLimits  spec.ResourceLimit `yaml:"defaultLimits"`
	MaxLimits      spec.ResourceLimit `yaml:"maxLimits"`
	Native         NativeConfig       `yaml:"native"`
	Docker         DockerConfig       `yaml:"docker"`
}

// LanguageConfig holds language definitions.
type LanguageConfig struct {
	Languages []profile.LanguageSpec `yaml:"languages"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	PoolSize       int           `yaml:"poolSize"`
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxSourceBytes int           `yaml:"maxSourceBytes"`
	MaxTests       int           `yaml:"maxTests"`
}

// StatusConfig holds status persistence settings.
type StatusConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
}

// KafkaConfig holds final report publishing settings.
type KafkaConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Brokers        []string      `yaml:"brokers"`
	ClientID       string        `yaml:"clientID"`
	FinalTopic     string        `yaml:"finalTopic"`
	BatchSize      int           `yaml:"batchSize"`
	BatchTimeout   time.Duration `yaml:"batchTimeout"`
	DialTimeout    time.Duration `yaml:"dialTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	PublishTimeout time.Duration `yaml:"publishTimeout"`
}

// ArchiveConfig holds report archive settings.
type ArchiveConfig struct {
	Enabled bool                `yaml:"enabled"`
	Prefix  string              `yaml:"prefix"`
	MinIO   storage.MinIOConfig `yaml:"minio"`
}

// HistoryConfig holds submission history settings.
type HistoryConfig struct {
	Enabled bool           `yaml:"enabled"`
	Migrate bool           `yaml:"migrate"`
	MySQL   db.MySQLConfig `yaml:"mysql"`
}

// MetricsConfig holds the prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AppConfig holds sandbox-service config.
type AppConfig struct {
	Server   ServerConfig      `yaml:"server"`
	Logger   logger.Config     `yaml:"logger"`
	Sandbox  SandboxConfig     `yaml:"sandbox"`
	Language LanguageConfig    `yaml:"language"`
	Worker   WorkerConfig      `yaml:"worker"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Status   StatusConfig      `yaml:"status"`
	Kafka    KafkaConfig       `yaml:"kafka"`
	Archive  ArchiveConfig     `yaml:"archive"`
	History  HistoryConfig     `yaml:"history"`
	Metrics  MetricsConfig     `yaml:"metrics"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Status.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required when status is enabled")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required when publishing is enabled")
	}
	if cfg.Archive.Enabled && cfg.Archive.MinIO.Bucket == "" {
		return nil, fmt.Errorf("archive.minio.bucket is required when the archive is enabled")
	}
	if cfg.History.Enabled && cfg.History.MySQL.DSN == "" {
		return nil, fmt.Errorf("history.mysql.dsn is required when history is enabled")
	}
	if cfg.Sandbox.Native.EnableCgroup && cfg.Sandbox.Native.CgroupRoot == "" {
		return nil, fmt.Errorf("sandbox.native.cgroupRoot is required when cgroups are enabled")
	}
	applyRedisDefaults(&cfg.Redis)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 1
	}
	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = defaultStatusTTL
	}
	if cfg.Status.Timeout == 0 {
		cfg.Status.Timeout = defaultStatusTimeout
	}
	if cfg.Kafka.FinalTopic == "" {
		cfg.Kafka.FinalTopic = defaultFinalTopic
	}
	if cfg.Kafka.PublishTimeout == 0 {
		cfg.Kafka.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
	if cfg.Sandbox.DefaultLimits == (spec.ResourceLimit{}) {
		cfg.Sandbox.DefaultLimits = spec.ResourceLimit{TimeLimitMs: 2000, MemoryMB: 256, OutputBytes: 1 << 20, PIDs: 64}
	}
	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
}

func (s SandboxConfig) nativeConfig() native.Config {
	return native.Config{
		WorkRoot:           s.WorkRoot,
		CompileTimeout:     s.CompileTimeout,
		HelperPath:         s.Native.HelperPath,
		SeccompProfile:     s.Native.SeccompProfile,
		EnableCgroup:       s.Native.EnableCgroup,
		CgroupRoot:         s.Native.CgroupRoot,
		MemoryPollInterval: s.Native.MemoryPollInterval,
	}
}

func (s SandboxConfig) containerConfig() container.Config {
	return container.Config{
		WorkRoot:       s.WorkRoot,
		CompileTimeout: s.CompileTimeout,
		User:           s.Docker.User,
		PullImages:     s.Docker.PullImages,
		APITimeout:     s.Docker.APITimeout,
	}
}

func (s SandboxConfig) dockerRuntimeConfig() container.DockerConfig {
	return container.DockerConfig{
		Host:        s.Docker.Host,
		CPUs:        s.Docker.CPUs,
		TmpfsSizeMB: s.Docker.TmpfsSizeMB,
	}
}

func (s SandboxConfig) orchestratorConfig() sandbox.Config {
	return sandbox.Config{DefaultLimits: s.DefaultLimits, MaxLimits: s.MaxLimits}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		WriteTimeout: k.WriteTimeout,
	}
}
