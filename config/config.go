package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	OSS         OSSConfig         `mapstructure:"oss"`
	Email       EmailConfig       `mapstructure:"email"`
	Queue       QueueConfig       `mapstructure:"queue"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Payment     PaymentConfig     `mapstructure:"payment"`
	Entitlement EntitlementConfig `mapstructure:"entitlement"`
	Plans       []PlanConfig      `mapstructure:"plans"`
	Reconcile   ReconcileConfig   `mapstructure:"reconcile"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	Prefix          string `mapstructure:"prefix"`
}

type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type QueueConfig struct {
	SyncQueue  string `mapstructure:"sync_queue"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// PaymentConfig 支付网关与轮询参数
type PaymentConfig struct {
	Provider        string        `mapstructure:"provider"` // paystack
	PublicKey       string        `mapstructure:"public_key"`
	SecretKey       string        `mapstructure:"secret_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Currency        string        `mapstructure:"currency"`
	ReferencePrefix string        `mapstructure:"reference_prefix"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPolls        int           `mapstructure:"max_polls"`
	VerifyTimeout   time.Duration `mapstructure:"verify_timeout"`
	DismissGrace    time.Duration `mapstructure:"dismiss_grace"`  // 用户关闭支付窗口后继续轮询的时间，0 表示立即判定取消
	TrustCallback   bool          `mapstructure:"trust_callback"` // 客户端回调的 success 是否直接视为确认
	WebhookSecret   string        `mapstructure:"webhook_secret"`
}

// EntitlementConfig 权益策略（免费日、免费变体等）
type EntitlementConfig struct {
	DaysCap        int      `mapstructure:"days_cap"`
	FreeAccessDays []string `mapstructure:"free_access_days"` // monday, tuesday ...
	Timezone       string   `mapstructure:"timezone"`
	FreeVariants   []string `mapstructure:"free_variants"`
	DaysPerMonth   int      `mapstructure:"days_per_month"`
}

type PlanConfig struct {
	ID             string   `mapstructure:"id"`
	Tier           string   `mapstructure:"tier"`
	Name           string   `mapstructure:"name"`
	Price          string   `mapstructure:"price"` // 十进制字符串，如 "2.00"
	DurationMonths int      `mapstructure:"duration_months"`
	Features       []string `mapstructure:"features"`
	Limitations    []string `mapstructure:"limitations"`
}

type ReconcileConfig struct {
	OrphanAfter  time.Duration `mapstructure:"orphan_after"`
	SyncRetryAge time.Duration `mapstructure:"sync_retry_age"`
	Interval     time.Duration `mapstructure:"interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

func Load(configPath string) (*Config, error) {
	// .env 中的密钥（支付 secret key、数据库密码）优先加载到环境变量
	_ = godotenv.Load(filepath.Join(filepath.Dir(configPath), ".env"))

	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults 为未配置的字段填充默认值
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Queue.SyncQueue == "" {
		c.Queue.SyncQueue = "ledger_sync"
	}
	if c.Queue.MaxWorkers <= 0 {
		c.Queue.MaxWorkers = 2
	}
	if c.JWT.ExpireHours <= 0 {
		c.JWT.ExpireHours = 72
	}

	p := &c.Payment
	if p.Provider == "" {
		p.Provider = "paystack"
	}
	if p.BaseURL == "" {
		p.BaseURL = "https://api.paystack.co"
	}
	if p.Currency == "" {
		p.Currency = "NGN"
	}
	if p.ReferencePrefix == "" {
		p.ReferencePrefix = "pg"
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 3 * time.Second
	}
	if p.MaxPolls <= 0 {
		p.MaxPolls = 60
	}
	if p.VerifyTimeout <= 0 {
		p.VerifyTimeout = 10 * time.Second
	}
	if p.WebhookSecret == "" {
		p.WebhookSecret = p.SecretKey
	}

	e := &c.Entitlement
	if e.DaysCap <= 0 {
		e.DaysCap = 999
	}
	if e.DaysPerMonth <= 0 {
		e.DaysPerMonth = 30
	}
	if e.Timezone == "" {
		e.Timezone = "UTC"
	}

	r := &c.Reconcile
	if r.OrphanAfter <= 0 {
		// 轮询预算（3s * 60）之后再留一些余量
		r.OrphanAfter = 10 * time.Minute
	}
	if r.SyncRetryAge <= 0 {
		r.SyncRetryAge = 5 * time.Minute
	}
	if r.Interval <= 0 {
		r.Interval = 5 * time.Minute
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 100
	}
}
