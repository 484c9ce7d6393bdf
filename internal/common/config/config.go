// Package config 提供应用配置管理功能
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	globalConfig *Config
	once         sync.Once
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	SMS       SMSConfig       `mapstructure:"sms"`
	OSS       OSSConfig       `mapstructure:"oss"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Business  BusinessConfig  `mapstructure:"business"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Name            string `mapstructure:"name"`
	Mode            string `mapstructure:"mode"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Name            string `mapstructure:"name"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogMode         bool   `mapstructure:"log_mode"`
	SlowThreshold   int    `mapstructure:"slow_threshold"`
	// TxMaxRetries 序列化冲突时事务最大重试次数
	TxMaxRetries int `mapstructure:"tx_max_retries"`
	// AutoMigrate 启动时自动建表
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode, d.Timezone,
	)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  int    `mapstructure:"dial_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// Addr 返回 Redis 地址
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MQTTConfig MQTT配置，订单完成事件经由 MQTT 投递
type MQTTConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Broker         string `mapstructure:"broker"`
	ClientIDPrefix string `mapstructure:"client_id_prefix"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	KeepAlive      int    `mapstructure:"keep_alive"`
	AutoReconnect  bool   `mapstructure:"auto_reconnect"`
	ConnectTimeout int    `mapstructure:"connect_timeout"`
	QoS            byte   `mapstructure:"qos"`
	TopicPrefix    string `mapstructure:"topic_prefix"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret            string `mapstructure:"secret"`
	AccessTokenExpire int    `mapstructure:"access_token_expire"`
	Issuer            string `mapstructure:"issuer"`
}

// AccessTokenDuration 返回访问令牌有效期
func (j *JWTConfig) AccessTokenDuration() time.Duration {
	return time.Duration(j.AccessTokenExpire) * time.Hour
}

// CryptoConfig 加密配置
type CryptoConfig struct {
	// ReferralCodeKey 推荐码派生密钥
	ReferralCodeKey string `mapstructure:"referral_code_key"`
}

// SMSConfig 短信配置
type SMSConfig struct {
	Provider        string `mapstructure:"provider"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	SignName        string `mapstructure:"sign_name"`
	// PayoutFailedTemplate 提现失败通知模板
	PayoutFailedTemplate string `mapstructure:"payout_failed_template"`
}

// OSSConfig 对象存储配置
type OSSConfig struct {
	Provider        string `mapstructure:"provider"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	Bucket          string `mapstructure:"bucket"`
	CustomDomain    string `mapstructure:"custom_domain"`
	StatementDir    string `mapstructure:"statement_dir"`
}

// StripeConfig Stripe Connect 转账通道配置
type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	// VerifyAccounts 为 true 时查询 Stripe 确认收款账户已开通转账
	VerifyAccounts bool `mapstructure:"verify_accounts"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Caller     bool   `mapstructure:"caller"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// PayoutPerMinute 每个用户每分钟可发起的提现次数
	PayoutPerMinute int `mapstructure:"payout_per_minute"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// BusinessConfig 业务配置
type BusinessConfig struct {
	Commission CommissionConfig `mapstructure:"commission"`
	Referral   ReferralConfig   `mapstructure:"referral"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Payout     PayoutConfig     `mapstructure:"payout"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

// CommissionConfig 分佣配置，比例以十进制字符串表示，避免浮点误差
type CommissionConfig struct {
	DefaultBrandRate string `mapstructure:"default_brand_rate"`
	BrandRateMin     string `mapstructure:"brand_rate_min"`
	BrandRateMax     string `mapstructure:"brand_rate_max"`
	ReferralRate     string `mapstructure:"referral_rate"`
	// ExclusiveCarveOuts 为 true 时推广员分佣与推荐分佣互斥（有推广员则不计推荐分佣）
	ExclusiveCarveOuts bool `mapstructure:"exclusive_carve_outs"`
}

// ReferralConfig 推荐关系生效策略
type ReferralConfig struct {
	RequireCompleted bool `mapstructure:"require_completed"`
	// LifetimeDays 推荐分佣有效天数，0 表示永久
	LifetimeDays int `mapstructure:"lifetime_days"`
	// LinkBaseURL 推荐链接前缀，链接为 <LinkBaseURL>/invite/<code>
	LinkBaseURL string `mapstructure:"link_base_url"`
	// QRCodeSize 推荐二维码边长（像素）
	QRCodeSize int `mapstructure:"qrcode_size"`
}

// Lifetime 返回推荐分佣有效期，0 表示永久
func (r *ReferralConfig) Lifetime() time.Duration {
	return time.Duration(r.LifetimeDays) * 24 * time.Hour
}

// LedgerConfig 账本配置
type LedgerConfig struct {
	DefaultCurrency string `mapstructure:"default_currency"`
	// BalanceCacheTTL 看板余额缓存秒数
	BalanceCacheTTL int `mapstructure:"balance_cache_ttl"`
}

// PayoutConfig 提现配置
type PayoutConfig struct {
	Gateway        string  `mapstructure:"gateway"`
	MinAmount      string  `mapstructure:"min_amount"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
	InitialBackoff int     `mapstructure:"initial_backoff_ms"`
	MaxBackoff     int     `mapstructure:"max_backoff_ms"`
	CallTimeout    int     `mapstructure:"call_timeout_seconds"`
	LeaseSeconds   int     `mapstructure:"lease_seconds"`
	GatewayRPS     float64 `mapstructure:"gateway_rps"`
	GatewayBurst   int     `mapstructure:"gateway_burst"`
}

// SchedulerConfig 定时任务间隔（秒）
type SchedulerConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	BanExpiryInterval      int  `mapstructure:"ban_expiry_interval"`
	StalePayoutInterval    int  `mapstructure:"stale_payout_interval"`
	UnmatchedEventInterval int  `mapstructure:"unmatched_event_interval"`
}

// Load 加载配置文件，.env 中的变量先于 viper 注入环境
func Load(configPath string) (*Config, error) {
	var err error
	once.Do(func() {
		if envErr := godotenv.Load(); envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
			err = fmt.Errorf("load .env: %w", envErr)
			return
		}
		globalConfig, err = load(configPath)
	})

	return globalConfig, err
}

func load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		globalConfig = Default()
	}
	return globalConfig
}

// Default 返回仅包含默认值的配置
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	_ = v.Unmarshal(cfg)
	return cfg
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "merch-settlement")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 10)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "merch_settlement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_mode", true)
	v.SetDefault("database.slow_threshold", 200)
	v.SetDefault("database.tx_max_retries", 3)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.dial_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id_prefix", "merch-settlement-")
	v.SetDefault("mqtt.keep_alive", 60)
	v.SetDefault("mqtt.auto_reconnect", true)
	v.SetDefault("mqtt.connect_timeout", 10)
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.topic_prefix", "merch/")

	v.SetDefault("jwt.secret", "your-super-secret-key-change-in-production")
	v.SetDefault("jwt.access_token_expire", 168)
	v.SetDefault("jwt.issuer", "merch-settlement")

	v.SetDefault("crypto.referral_code_key", "change-me-referral-code-key")

	v.SetDefault("sms.provider", "mock")
	v.SetDefault("sms.access_key_id", "")
	v.SetDefault("sms.access_key_secret", "")
	v.SetDefault("sms.sign_name", "")
	v.SetDefault("sms.payout_failed_template", "SMS_PAYOUT_FAILED")

	v.SetDefault("oss.provider", "aliyun")
	v.SetDefault("oss.endpoint", "")
	v.SetDefault("oss.access_key_id", "")
	v.SetDefault("oss.access_key_secret", "")
	v.SetDefault("oss.bucket", "")
	v.SetDefault("oss.statement_dir", "statements")

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.verify_accounts", false)

	v.SetDefault("logger.level", "debug")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "./logs/app.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.caller", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "merch-settlement")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.payout_per_minute", 5)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", "Stripe-Signature"})
	v.SetDefault("cors.exposed_headers", []string{"X-Request-ID"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 86400)

	v.SetDefault("business.commission.default_brand_rate", "0.5")
	v.SetDefault("business.commission.brand_rate_min", "0.2")
	v.SetDefault("business.commission.brand_rate_max", "0.8")
	v.SetDefault("business.commission.referral_rate", "0.05")
	v.SetDefault("business.commission.exclusive_carve_outs", false)
	v.SetDefault("business.referral.require_completed", true)
	v.SetDefault("business.referral.lifetime_days", 0)
	v.SetDefault("business.referral.link_base_url", "http://localhost:3000")
	v.SetDefault("business.referral.qrcode_size", 256)
	v.SetDefault("business.ledger.default_currency", "USD")
	v.SetDefault("business.ledger.balance_cache_ttl", 30)
	v.SetDefault("business.payout.gateway", "mock")
	v.SetDefault("business.payout.min_amount", "1.00")
	v.SetDefault("business.payout.max_attempts", 4)
	v.SetDefault("business.payout.initial_backoff_ms", 200)
	v.SetDefault("business.payout.max_backoff_ms", 2000)
	v.SetDefault("business.payout.call_timeout_seconds", 10)
	v.SetDefault("business.payout.lease_seconds", 120)
	v.SetDefault("business.payout.gateway_rps", 20)
	v.SetDefault("business.payout.gateway_burst", 5)
	v.SetDefault("business.scheduler.enabled", true)
	v.SetDefault("business.scheduler.ban_expiry_interval", 300)
	v.SetDefault("business.scheduler.stale_payout_interval", 60)
	v.SetDefault("business.scheduler.unmatched_event_interval", 60)
}

// IsDebug 是否为调试模式
func (c *Config) IsDebug() bool {
	return c.Server.Mode == "debug"
}

// IsRelease 是否为发布模式
func (c *Config) IsRelease() bool {
	return c.Server.Mode == "release"
}
