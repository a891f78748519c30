// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置（服务端使用）。
var Conf Config

// Config 是服务端的配置结构体，与 configs/config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	OAuth         OAuthConfig         `mapstructure:"oauth"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时不启用审计日志投递。
type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	AuditTopic string `mapstructure:"audit_topic"`
	GroupID    string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	URLExpireMins   int    `mapstructure:"url_expire_minutes"`
}

// WebhookConfig 存储 chat-webhook 转发目标（第三方消息端点）的配置。
type WebhookConfig struct {
	URL            string `mapstructure:"url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// OAuthConfig 存储第三方登录的配置。
type OAuthConfig struct {
	GoogleClientID string `mapstructure:"google_client_id"`
}

// ClientConfig 是 companion 命令行客户端的配置。
type ClientConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	StateDir        string        `mapstructure:"state_dir"`
	RestoreTimeout  time.Duration `mapstructure:"restore_timeout"`
	GuardLocalWait  time.Duration `mapstructure:"guard_local_wait"`
	RefreshMargin   time.Duration `mapstructure:"refresh_margin"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	LoginRoute      string        `mapstructure:"login_route"`
	OnboardingRoute string        `mapstructure:"onboarding_route"`
	Log             LogConfig     `mapstructure:"log"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 同目录或工作目录下的 .env 会先被加载，COMPANION_ 前缀的环境变量可覆盖文件中的值。
func Init(configPath string) {
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setServerDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := v.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

// LoadClient 读取客户端配置。配置文件可选，缺失时全部使用默认值。
func LoadClient(configPath string) (ClientConfig, error) {
	_ = godotenv.Load()

	v := newViper()
	setClientDefaults(v)
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return ClientConfig{}, fmt.Errorf("读取客户端配置失败: %w", err)
			}
		}
	}

	// 通过 AllSettings 合并默认值与文件中的部分覆盖
	var wrapper struct {
		Client ClientConfig `mapstructure:"client"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return ClientConfig{}, fmt.Errorf("无法解析客户端配置: %w", err)
	}
	return wrapper.Client, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("COMPANION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("jwt.access_token_expire_hours", 1)
	v.SetDefault("jwt.refresh_token_expire_days", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.audit_topic", "auth-audit")
	v.SetDefault("kafka.group_id", "companion-audit")
	v.SetDefault("elasticsearch.index_name", "clinicians")
	v.SetDefault("minio.url_expire_minutes", 60)
	v.SetDefault("webhook.timeout_seconds", 60)
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("client.base_url", "http://localhost:8081")
	v.SetDefault("client.state_dir", ".companion")
	// 启动时会话恢复的绝对上限，路由守卫的本地等待上限要短得多
	v.SetDefault("client.restore_timeout", 30*time.Second)
	v.SetDefault("client.guard_local_wait", time.Second)
	v.SetDefault("client.refresh_margin", time.Minute)
	v.SetDefault("client.request_timeout", 90*time.Second)
	v.SetDefault("client.login_route", "/login")
	v.SetDefault("client.onboarding_route", "/onboarding")
	v.SetDefault("client.log.level", "warn")
	v.SetDefault("client.log.format", "console")
}
