package config

import (
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

type Config struct {
	// 服务配置
	ServerPort  string `env:"SERVER_PORT" envDefault:"8888"`
	ServerHost  string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName string `env:"SERVICE_NAME" envDefault:"legacyvault"`

	// PostgreSQL 配置
	PostgreSQLHost     string `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort     string `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser     string `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword string `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase string `env:"POSTGRESQL_DATABASE" envDefault:"legacyvault"`
	PostgreSQLSchema   string `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode  string `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle  int    `env:"POSTGRESQL_MAX_IDLE" envDefault:"30"`
	PostgreSQLMaxOpen  int    `env:"POSTGRESQL_MAX_OPEN" envDefault:"200"`

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"lv"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`

	// 所有者鉴权 JWT
	JWTSecret        string `env:"JWT_SECRET"` // 必填
	JWTExpireMinutes int    `env:"JWT_EXPIRE_MINUTES" envDefault:"30"`
	JWTRefreshDays   int    `env:"JWT_REFRESH_DAYS" envDefault:"7"`
	// 可以操作 Monitor 与代他人评估的运维账号
	AdminUserIDs []string `env:"ADMIN_USER_IDS" envSeparator:","`

	// 紧急访问令牌
	TokenSigningSecret     string `env:"TOKEN_SIGNING_SECRET"` // 必填，与 JWT_SECRET 分开
	TokenDefaultExpireHrs  int    `env:"TOKEN_DEFAULT_EXPIRE_HOURS" envDefault:"72"`
	TokenMaxExpireHrs      int    `env:"TOKEN_MAX_EXPIRE_HOURS" envDefault:"720"`
	TokenDefaultMaxUses    int    `env:"TOKEN_DEFAULT_MAX_USES" envDefault:"10"`
	AccessLogIPSalt        string `env:"ACCESS_LOG_IP_SALT"`
	TokenValidateWindowMin int    `env:"TOKEN_VALIDATE_WINDOW_MINUTES" envDefault:"60"`
	TokenValidateMaxTries  int    `env:"TOKEN_VALIDATE_MAX_ATTEMPTS" envDefault:"20"`

	// 限流器：memory 或 redis
	RateLimitBackend         string `env:"RATE_LIMIT_BACKEND" envDefault:"redis"`
	RateLimitCleanupInterval int    `env:"RATE_LIMIT_CLEANUP_MINUTES" envDefault:"10"`
	APIRateLimitPerMinute    int    `env:"API_RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	// 只有来自这些地址的请求才读取 X-Forwarded-For / X-Real-IP，默认不信任任何代理
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Monitor 配置
	MonitorIntervalSeconds   int  `env:"MONITOR_INTERVAL_SECONDS" envDefault:"300"`
	MonitorConcurrency       int  `env:"MONITOR_CONCURRENCY" envDefault:"8"`
	MonitorAutoStart         bool `env:"MONITOR_AUTO_START" envDefault:"true"`
	MonitorLockSeconds       int  `env:"MONITOR_LOCK_SECONDS" envDefault:"60"`
	ReleaseGrantDelayHours   int  `env:"RELEASE_GRANT_DELAY_HOURS" envDefault:"0"`
	ReleaseOverrideExpireHrs int  `env:"RELEASE_OVERRIDE_EXPIRE_HOURS" envDefault:"168"`
	MaxHolidayDays           int  `env:"MAX_HOLIDAY_DAYS" envDefault:"90"`

	// 触发规则引擎
	TriggerRulesFile       string `env:"TRIGGER_RULES_FILE" envDefault:""`
	TriggerDriverSeconds   int    `env:"TRIGGER_DRIVER_SECONDS" envDefault:"60"`
	TriggerHistoryRetained int    `env:"TRIGGER_HISTORY_RETAINED" envDefault:"500"`

	// 通知投递
	NotifyExchange   string  `env:"NOTIFY_EXCHANGE" envDefault:"legacy.notify"`
	NotifyQueue      string  `env:"NOTIFY_QUEUE" envDefault:"legacy.notify.deliver"`
	NotifyRatePerSec float64 `env:"NOTIFY_RATE_PER_SEC" envDefault:"5"`
	WebhookTimeout   int     `env:"WEBHOOK_TIMEOUT_SECONDS" envDefault:"10"`
	WebhookSecret    string  `env:"WEBHOOK_SIGNING_SECRET"`

	// 短信服务配置
	// AccessKey 通过阿里云 SDK 的环境变量获取：ALIBABA_CLOUD_ACCESS_KEY_ID / ALIBABA_CLOUD_ACCESS_KEY_SECRET
	SMSProvider     string `env:"SMS_PROVIDER" envDefault:"aliyun"` // aliyun, mock
	SMSSignName     string `env:"SMS_SIGN_NAME"`
	SMSTemplateCode string `env:"SMS_TEMPLATE_CODE"`

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`

	// 链路追踪
	OTLPEndpoint string  `env:"OTLP_ENDPOINT" envDefault:""`
	OTLPSampler  float64 `env:"OTLP_SAMPLER" envDefault:"0.1"`
}

// Load 读取 .env 与环境变量，由各个 cmd 在启动时调用
func Load() error {
	if err := godotenv.Load(); err != nil {
		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return err
	}

	Cfg = cfg
	return nil
}

// MustLoad 失败直接退出
func MustLoad() {
	if err := Load(); err != nil {
		log.Fatal(err)
	}
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.TokenSigningSecret == "" {
		return fmt.Errorf("TOKEN_SIGNING_SECRET is required")
	}
	if c.TokenSigningSecret == c.JWTSecret {
		return fmt.Errorf("TOKEN_SIGNING_SECRET must differ from JWT_SECRET")
	}
	if c.MonitorIntervalSeconds <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL_SECONDS must be positive")
	}
	if c.TokenValidateMaxTries <= 0 || c.TokenValidateWindowMin <= 0 {
		return fmt.Errorf("token validation rate limit must be positive")
	}
	if c.RateLimitBackend != "memory" && c.RateLimitBackend != "redis" {
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND: %s", c.RateLimitBackend)
	}
	if _, err := c.TrustedProxyCIDRs(); err != nil {
		return err
	}

	if c.AccessLogIPSalt == "" {
		log.Printf("WARN: ACCESS_LOG_IP_SALT is not set, access log IP hashes are unsalted")
	}
	if c.SMSProvider == "aliyun" && (c.SMSSignName == "" || c.SMSTemplateCode == "") {
		log.Printf("WARN: SMS_SIGN_NAME or SMS_TEMPLATE_CODE is not set, SMS delivery may not work properly")
	}
	return nil
}

func (c *Config) GetDSN() string {
	return "host=" + c.PostgreSQLHost +
		" port=" + c.PostgreSQLPort +
		" user=" + c.PostgreSQLUser +
		" password=" + c.PostgreSQLPassword +
		" dbname=" + c.PostgreSQLDatabase +
		" sslmode=" + c.PostgreSQLSSLMode +
		" search_path=" + c.PostgreSQLSchema
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

// TrustedProxyCIDRs 单个 IP 按 /32 或 /128 处理
func (c *Config) TrustedProxyCIDRs() ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry: %s", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, cidr, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry: %s", entry)
		}
		out = append(out, cidr)
	}
	return out, nil
}

func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSeconds) * time.Second
}

func (c *Config) TokenValidateWindow() time.Duration {
	return time.Duration(c.TokenValidateWindowMin) * time.Minute
}

func (c *Config) MaxHolidayDuration() time.Duration {
	return time.Duration(c.MaxHolidayDays) * 24 * time.Hour
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
