package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Security SecurityConfig `json:"security"`
	Telegram TelegramConfig `json:"telegram"`
	Email    EmailConfig    `json:"email"`
	Storage  StorageConfig  `json:"storage"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env            string        `json:"env"`              // 运行环境: local / prod
	LogLevel       string        `json:"log_level"`        // 日志级别: debug / info / warn / error
	HTTPAddr       string        `json:"http_addr"`        // API 服务监听地址
	CodeTTL        time.Duration `json:"code_ttl"`         // 验证码有效期（如 "10m"）
	TokenTTL       time.Duration `json:"token_ttl"`        // 会话令牌有效期（如 "168h"）
	ResendCooldown time.Duration `json:"resend_cooldown"`  // 同一手机号重发验证码的冷却时间
	CodeRateLimit  float64       `json:"code_rate_limit"`  // 验证码签发全局限流速率（token/s）
	CodeRateBurst  float64       `json:"code_rate_burst"`  // 验证码签发限流桶容量
	MaxUploadBytes int64         `json:"max_upload_bytes"` // 单个媒体文件上限（字节）
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"` // JWT 签名密钥
	AdminKey  string `json:"admin_key"`  // 管理端 API Key（为空表示禁用管理路由）
}

// TelegramConfig Telegram 转发配置。
type TelegramConfig struct {
	APIBaseURL string `json:"api_base_url"` // Bot API 地址，默认 https://api.telegram.org
	BotToken   string `json:"bot_token"`    // Bot Token
	ChatID     string `json:"chat_id"`      // 接收报告的聊天/频道 ID
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost   string `json:"smtp_host"`
	SMTPPort   int    `json:"smtp_port"`
	SMTPUser   string `json:"smtp_user"`
	SMTPPass   string `json:"smtp_pass"`
	FromEmail  string `json:"from_email"`
	AdminEmail string `json:"admin_email"` // 接收报告通知的邮箱
}

// StorageConfig 媒体对象存储配置。
type StorageConfig struct {
	RootDir string `json:"root_dir"` // 磁盘存储根目录
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值；
// 环境变量始终优先于配置文件。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:            "local",
			LogLevel:       "info",
			HTTPAddr:       ":8080",
			CodeTTL:        10 * time.Minute,
			TokenTTL:       7 * 24 * time.Hour,
			ResendCooldown: 60 * time.Second,
			CodeRateLimit:  5,
			CodeRateBurst:  10,
			MaxUploadBytes: 25 << 20,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/secretchek?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Security: SecurityConfig{
			JWTSecret: "dev_secret_change_me",
			AdminKey:  "",
		},
		Telegram: TelegramConfig{
			APIBaseURL: "https://api.telegram.org",
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Storage: StorageConfig{
			RootDir: "data/media",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.CodeTTL == 0 {
		cfg.App.CodeTTL = defaults.App.CodeTTL
	}
	if cfg.App.TokenTTL == 0 {
		cfg.App.TokenTTL = defaults.App.TokenTTL
	}
	if cfg.App.ResendCooldown == 0 {
		cfg.App.ResendCooldown = defaults.App.ResendCooldown
	}
	if cfg.App.CodeRateLimit == 0 {
		cfg.App.CodeRateLimit = defaults.App.CodeRateLimit
	}
	if cfg.App.CodeRateBurst == 0 {
		cfg.App.CodeRateBurst = defaults.App.CodeRateBurst
	}
	if cfg.App.MaxUploadBytes == 0 {
		cfg.App.MaxUploadBytes = defaults.App.MaxUploadBytes
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Telegram.APIBaseURL == "" {
		cfg.Telegram.APIBaseURL = defaults.Telegram.APIBaseURL
	}
	if cfg.Email.SMTPHost == "" {
		cfg.Email.SMTPHost = defaults.Email.SMTPHost
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Storage.RootDir == "" {
		cfg.Storage.RootDir = defaults.Storage.RootDir
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("admin_key", "ADMIN_KEY")
	_ = viper.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
	_ = viper.BindEnv("report_chat_id", "REPORT_CHAT_ID")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	} else if v := os.Getenv("PORT"); v != "" {
		// Railway/Render 只注入 PORT
		cfg.App.HTTPAddr = ":" + v
	}
	if v := os.Getenv("APP_CODE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.CodeTTL = d
		}
	}
	if v := os.Getenv("APP_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.TokenTTL = d
		}
	}
	if v := os.Getenv("APP_RESEND_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.ResendCooldown = d
		}
	}
	if v := os.Getenv("APP_CODE_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.CodeRateLimit = f
		}
	}
	if v := os.Getenv("APP_CODE_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.CodeRateBurst = f
		}
	}
	if v := os.Getenv("APP_MAX_UPLOAD_BYTES"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.App.MaxUploadBytes = i
		}
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := viper.GetString("admin_key"); v != "" {
		cfg.Security.AdminKey = v
	}
	if v := viper.GetString("telegram_bot_token"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := viper.GetString("report_chat_id"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("TELEGRAM_API_BASE_URL"); v != "" {
		cfg.Telegram.APIBaseURL = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("ADMIN_EMAIL"); v != "" {
		cfg.Email.AdminEmail = v
	}

	if v := os.Getenv("STORAGE_ROOT_DIR"); v != "" {
		cfg.Storage.RootDir = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Passwd: "",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "secretchek",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		CodeTTL        string `json:"code_ttl"`
		TokenTTL       string `json:"token_ttl"`
		ResendCooldown string `json:"resend_cooldown"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.CodeTTL != "" {
		d, err := time.ParseDuration(aux.CodeTTL)
		if err != nil {
			return fmt.Errorf("invalid code_ttl format: %w", err)
		}
		a.CodeTTL = d
	}
	if aux.TokenTTL != "" {
		d, err := time.ParseDuration(aux.TokenTTL)
		if err != nil {
			return fmt.Errorf("invalid token_ttl format: %w", err)
		}
		a.TokenTTL = d
	}
	if aux.ResendCooldown != "" {
		d, err := time.ParseDuration(aux.ResendCooldown)
		if err != nil {
			return fmt.Errorf("invalid resend_cooldown format: %w", err)
		}
		a.ResendCooldown = d
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		CodeTTL        string `json:"code_ttl"`
		TokenTTL       string `json:"token_ttl"`
		ResendCooldown string `json:"resend_cooldown"`
		*Alias
	}{
		CodeTTL:        a.CodeTTL.String(),
		TokenTTL:       a.TokenTTL.String(),
		ResendCooldown: a.ResendCooldown.String(),
		Alias:          (*Alias)(&a),
	})
}
