package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config 报警订阅服务配置
type Config struct {
	// 上游 API 配置（经网关访问 UserService / MotionService）
	API struct {
		BaseURL           string `yaml:"base_url"`            // 如 http://localhost:13000/api
		SessionCookieName string `yaml:"session_cookie_name"` // 会话 Cookie 名（HTTP-only JWT）
		SessionCookie     string `yaml:"session_cookie"`      // 会话 Cookie 值
		RequestTimeoutSec int    `yaml:"request_timeout_sec"` // HTTP 请求超时（秒）
	} `yaml:"api"`

	// 订阅/轮询配置
	Feed struct {
		PollIntervalMs      int      `yaml:"poll_interval_ms"`      // 状态轮询间隔（毫秒），默认 1000
		ReconnectDelayMs    int      `yaml:"reconnect_delay_ms"`    // 推送通道重连延迟（毫秒），默认 5000
		DirectoryRefreshSec int      `yaml:"directory_refresh_sec"` // 患者目录刷新间隔（秒），默认 30
		DistressPhrases     []string `yaml:"distress_phrases"`      // 危险语句子串（默认求助语 + 疼痛语）
	} `yaml:"feed"`

	// 本地 HTTP 视图
	HTTP struct {
		Addr string `yaml:"addr"` // 监听地址，默认 :8090
	} `yaml:"http"`

	// Redis 配置（报警抑制缓存；Addr 为空时退化为内存实现）
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	// 报警日志库配置（可选，Enabled=false 时不落库）
	Database struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`

	// 外部通知（toast 面）配置
	Notify struct {
		WebhookURL string `yaml:"webhook_url"` // 为空时只走日志通知
	} `yaml:"notify"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultDistressPhrases 默认危险语句子串：求助语、疼痛语（子串匹配，容忍前后标点和上下文）
var DefaultDistressPhrases = []string{"도와주세요", "아파요"}

// Load 加载配置
// 先填默认值，再用环境变量覆盖；CONFIG_FILE 指定 YAML 文件时最后整体覆盖。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.API.BaseURL = getEnv("API_BASE_URL", "http://localhost:13000/api")
	cfg.API.SessionCookieName = getEnv("SESSION_COOKIE_NAME", "jwtAccessToken")
	cfg.API.SessionCookie = getEnv("SESSION_COOKIE", "")
	cfg.API.RequestTimeoutSec = getEnvInt("API_REQUEST_TIMEOUT_SEC", 10)

	cfg.Feed.PollIntervalMs = getEnvInt("POLL_INTERVAL_MS", 1000)
	cfg.Feed.ReconnectDelayMs = getEnvInt("RECONNECT_DELAY_MS", 5000)
	cfg.Feed.DirectoryRefreshSec = getEnvInt("DIRECTORY_REFRESH_SEC", 30)
	cfg.Feed.DistressPhrases = append([]string(nil), DefaultDistressPhrases...)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Database.Enabled = getEnvBool("JOURNAL_ENABLED", false)
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "cuecode")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		if err := loadFile(cfg, file); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// GetDSN 构建报警日志库连接字符串
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// loadFile 从 YAML 文件覆盖配置
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
