package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 RIGFORGE_PROCESSING_WORKERS
const EnvPrefix = "RIGFORGE"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Download   DownloadConfig   `mapstructure:"download"`
	Preview    PreviewConfig    `mapstructure:"preview"`
}

type ServerConfig struct {
	Port          string `mapstructure:"port"`
	Mode          string `mapstructure:"mode"`           // gin 运行模式: debug / release / test
	AdminEmail    string `mapstructure:"admin_email"`    // 启动时同步的管理员账户
	AdminPassword string `mapstructure:"admin_password"` // 为空则跳过
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	Dir        string `mapstructure:"dir"`         // 文件输出目录
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type JWTConfig struct {
	Secret     string `mapstructure:"secret"`      // JWT 密钥
	ExpireTime int    `mapstructure:"expire_time"` // 过期时间（小时）
	Issuer     string `mapstructure:"issuer"`      // 签发者
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite 或 postgres
	DSN    string `mapstructure:"dsn"`    // sqlite 时为文件路径
}

// StorageConfig 结果文件存储，provider 为 filesystem / aws-s3 / minio
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
	BasePath string `mapstructure:"base_path"`
	ID       string `mapstructure:"id"`
	Secret   string `mapstructure:"secret"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
}

// ProcessingConfig 执行引擎配置
type ProcessingConfig struct {
	Workers           int           `mapstructure:"workers"`
	Embedded          bool          `mapstructure:"embedded"` // server 进程内是否运行 worker
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	ReapSchedule      string        `mapstructure:"reap_schedule"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown_grace"`
	StepDelay         time.Duration `mapstructure:"step_delay"` // 内置打包器每个阶段的模拟耗时
	RendererURL       string        `mapstructure:"renderer_url"`
	RendererTimeout   time.Duration `mapstructure:"renderer_timeout"`
}

type DownloadConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type PreviewConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Width    int           `mapstructure:"width"`
	Height   int           `mapstructure:"height"`
}

// Load 读取 viper 中的配置，出错直接退出
func Load() *Config {
	setDefaults(viper.GetViper())

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	cfg, err := Parse(viper.GetViper())
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

// Parse 解码并校验配置
func Parse(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解码配置: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &config, nil
}

// BindEnv 开启环境变量覆盖，key 中的 "." 映射为 "_"
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8001")
	v.SetDefault("server.mode", "release")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.dir", "data/logs")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	// JWT默认配置
	v.SetDefault("jwt.secret", "your-secret-key-change-in-production")
	v.SetDefault("jwt.expire_time", 24)
	v.SetDefault("jwt.issuer", "rigforge")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/rigforge.db")

	v.SetDefault("storage.provider", "filesystem")
	v.SetDefault("storage.base_path", "data/uploads")
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("processing.workers", 2)
	v.SetDefault("processing.embedded", true)
	v.SetDefault("processing.poll_interval", "2s")
	v.SetDefault("processing.heartbeat_interval", "5s")
	v.SetDefault("processing.stale_after", "1m")
	v.SetDefault("processing.reap_schedule", "@every 30s")
	v.SetDefault("processing.job_timeout", "10m")
	v.SetDefault("processing.shutdown_grace", "10s")
	v.SetDefault("processing.step_delay", "1s")
	v.SetDefault("processing.renderer_url", "")
	v.SetDefault("processing.renderer_timeout", "30s")

	v.SetDefault("download.ttl", "1h")

	v.SetDefault("preview.cache_ttl", "10m")
	v.SetDefault("preview.width", 640)
	v.SetDefault("preview.height", 360)
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT密钥未设置")
	}
	switch config.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", config.Database.Driver)
	}
	if config.Database.DSN == "" {
		return fmt.Errorf("数据库连接串未设置")
	}

	p := config.Processing
	if p.Workers < 1 {
		return fmt.Errorf("processing.workers 必须大于 0")
	}
	if p.PollInterval <= 0 || p.HeartbeatInterval <= 0 {
		return fmt.Errorf("processing 轮询和心跳间隔必须大于 0")
	}
	// 过期判定至少要覆盖两次心跳，否则正常任务会被误判
	if p.StaleAfter < 2*p.HeartbeatInterval {
		return fmt.Errorf("processing.stale_after 必须不小于两倍心跳间隔")
	}
	if config.Download.TTL <= 0 {
		return fmt.Errorf("download.ttl 必须大于 0")
	}
	return nil
}
