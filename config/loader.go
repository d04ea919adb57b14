// =============================================================================
// 📦 chatrelay 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CHATRELAY").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 chatrelay 的完整配置结构
type Config struct {
	// Server 监听与连接配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Backend 上游生成后端配置
	Backend BackendConfig `yaml:"backend" env:"BACKEND"`

	// Models 模型上下文与分词器配置
	Models ModelsConfig `yaml:"models" env:"MODELS"`

	// Session 会话存储配置
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Redis 配置（session.backend=redis 时使用）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Usage 用量台账配置
	Usage UsageConfig `yaml:"usage" env:"USAGE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// 运行模式
const (
	ModeWS   = "ws"
	ModeHTTP = "http"
	ModeBoth = "both"
)

// ServerConfig 服务器配置
type ServerConfig struct {
	// 运行模式: ws, http, both
	Mode string `yaml:"mode" env:"MODE"`
	// WebSocket（交互式传输）端口
	WSPort int `yaml:"ws_port" env:"WS_PORT"`
	// HTTP 流式（纯文本传输）端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时（仅作用于请求头/请求体读取）
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 单次发送超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// WebSocket ping 间隔
	PingInterval time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	// WebSocket ping 超时
	PingTimeout time.Duration `yaml:"ping_timeout" env:"PING_TIMEOUT"`
	// 单条客户端消息最大字节数
	MaxMessageBytes int64 `yaml:"max_message_bytes" env:"MAX_MESSAGE_BYTES"`
	// 每个连接排队等待的最大 prompt 数
	MaxPendingPrompts int `yaml:"max_pending_prompts" env:"MAX_PENDING_PROMPTS"`
	// 允许的 WebSocket Origin 模式
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// BackendConfig 上游后端配置
type BackendConfig struct {
	// 流式聊天端点
	URL string `yaml:"url" env:"URL"`
	// 建连超时（不设整体超时，响应可以长时间流式输出）
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	// 等待响应头的超时
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout" env:"RESPONSE_HEADER_TIMEOUT"`
	// 连续空行上限，超过视为上游异常
	MaxBlankLines int `yaml:"max_blank_lines" env:"MAX_BLANK_LINES"`
}

// ModelsConfig 模型配置
type ModelsConfig struct {
	// 模型 → 上下文窗口大小
	ContextLimits map[string]int `yaml:"context_limits" env:"CONTEXT_LIMITS"`
	// 模型 → tiktoken 编码名（或 "estimator"）
	Encodings map[string]string `yaml:"encodings" env:"ENCODINGS"`
	// 未单独配置编码时使用的编码
	DefaultEncoding string `yaml:"default_encoding" env:"DEFAULT_ENCODING"`
	// BPE 文件目录，为空时使用 tiktoken 默认加载方式
	TokenizerDir string `yaml:"tokenizer_dir" env:"TOKENIZER_DIR"`
	// 为生成预留的 token 数
	ResponseTokens int `yaml:"response_tokens" env:"RESPONSE_TOKENS"`
}

// 会话存储后端
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// SessionConfig 会话存储配置
type SessionConfig struct {
	// 后端类型: memory, redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// 内存后端分片数
	Shards int `yaml:"shards" env:"SHARDS"`
	// Redis 后端的滑动过期时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// Key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// UsageConfig 用量台账配置
type UsageConfig struct {
	// 驱动类型: "", sqlite, postgres（为空表示关闭）
	Driver string `yaml:"driver" env:"DRIVER"`
	// 连接串（sqlite 为文件路径）
	DSN string `yaml:"dsn" env:"DSN"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CHATRELAY",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}

	case reflect.Map:
		return setMapValue(field, value)
	}

	return nil
}

// setMapValue 解析 "k1=v1,k2=v2" 形式的映射，覆盖同名键。
// 以最后一个 '=' 切分，模型名可以包含 ':' 和 '/'。
func setMapValue(field reflect.Value, value string) error {
	mt := field.Type()
	if mt.Key().Kind() != reflect.String {
		return nil
	}
	if field.IsNil() {
		field.Set(reflect.MakeMap(mt))
	}

	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.LastIndex(pair, "=")
		if idx <= 0 {
			return fmt.Errorf("invalid map entry %q, expected key=value", pair)
		}
		key := strings.TrimSpace(pair[:idx])
		raw := strings.TrimSpace(pair[idx+1:])

		elem := reflect.New(mt.Elem()).Elem()
		if err := setFieldValue(elem, raw); err != nil {
			return fmt.Errorf("entry %q: %w", key, err)
		}
		field.SetMapIndex(reflect.ValueOf(key), elem)
	}
	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	switch c.Server.Mode {
	case ModeWS, ModeHTTP, ModeBoth:
	default:
		errs = append(errs, fmt.Sprintf("unknown server mode %q", c.Server.Mode))
	}
	if c.ServesWS() && !validPort(c.Server.WSPort) {
		errs = append(errs, "invalid WebSocket port")
	}
	if c.ServesHTTP() && !validPort(c.Server.HTTPPort) {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort != 0 && !validPort(c.Server.MetricsPort) {
		errs = append(errs, "invalid metrics port")
	}

	if c.Backend.URL == "" {
		errs = append(errs, "backend url is required")
	} else if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "backend url must be absolute")
	}

	if c.Models.ResponseTokens <= 0 {
		errs = append(errs, "response_tokens must be positive")
	}
	for model, limit := range c.Models.ContextLimits {
		if limit <= 0 {
			errs = append(errs, fmt.Sprintf("context limit for %q must be positive", model))
		}
	}

	switch c.Session.Backend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		errs = append(errs, fmt.Sprintf("unknown session backend %q", c.Session.Backend))
	}

	switch c.Usage.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("unsupported usage driver %q", c.Usage.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ServesWS 是否启动交互式 WebSocket 传输
func (c *Config) ServesWS() bool {
	return c.Server.Mode == ModeWS || c.Server.Mode == ModeBoth
}

// ServesHTTP 是否启动纯文本 HTTP 流式传输
func (c *Config) ServesHTTP() bool {
	return c.Server.Mode == ModeHTTP || c.Server.Mode == ModeBoth
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
