package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/eddielth/digitanimal-trans/logger"
)

// EnvPrefix 是环境变量覆盖的前缀，例如 DIGITANIMAL_AUTH_PASSWORD
const EnvPrefix = "DIGITANIMAL"

// Config 表示应用程序的配置
type Config struct {
	Integration IntegrationConfig `mapstructure:"integration"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Vendor      VendorConfig      `mapstructure:"vendor"`
	Actions     ActionsConfig     `mapstructure:"actions"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Ingestion   IngestionConfig   `mapstructure:"ingestion"`
	State       StateConfig       `mapstructure:"state"`
	Transformer TransformerConfig `mapstructure:"transformer"`
	Server      ServerConfig      `mapstructure:"server"`
	Logger      LoggerConfig      `mapstructure:"logger"`
}

// IntegrationConfig 表示连接器实例的标识
type IntegrationConfig struct {
	ID      string `mapstructure:"id"`
	BaseURL string `mapstructure:"base_url"`
}

// AuthConfig 表示厂商账号配置
type AuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// VendorConfig 表示厂商HTTP客户端的配置
type VendorConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PoolTimeout    time.Duration `mapstructure:"pool_timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
}

// ActionsConfig 表示各动作的配置
type ActionsConfig struct {
	PullObservations           PullObservationsConfig           `mapstructure:"pull_observations"`
	PullHistoricalObservations PullHistoricalObservationsConfig `mapstructure:"pull_historical_observations"`
}

// PullObservationsConfig 表示增量拉取的配置
type PullObservationsConfig struct {
	// GMTOffset 厂商时钟相对UTC的偏移小时数，可以是小数
	GMTOffset float64 `mapstructure:"gmt_offset"`
}

// PullHistoricalObservationsConfig 表示按日期范围拉取的配置
type PullHistoricalObservationsConfig struct {
	StartDate string  `mapstructure:"start_date"`
	EndDate   string  `mapstructure:"end_date"`
	GMTOffset float64 `mapstructure:"gmt_offset"`
}

// DateRange 解析 StartDate 和 EndDate
func (c PullHistoricalObservationsConfig) DateRange() (time.Time, time.Time, error) {
	start, err := ParseDate(c.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := ParseDate(c.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date %s is before start_date %s", c.EndDate, c.StartDate)
	}
	return start, end, nil
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// ParseDate 支持 "YYYY-MM-DD HH:MM:SS"、ISO-8601 和纯日期格式
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date format %q", value)
}

// DispatchConfig 表示向接收端分批发送的配置
type DispatchConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	// RateLimit 每秒发送的批次数，0 表示不限速
	RateLimit float64 `mapstructure:"rate_limit"`
}

// IngestionConfig 表示下游接收端的配置
type IngestionConfig struct {
	Type         string         `mapstructure:"type"`
	ConnectRetry time.Duration  `mapstructure:"connect_retry"`
	MQTT         MQTTConfig     `mapstructure:"mqtt"`
	Kafka        KafkaConfig    `mapstructure:"kafka"`
	HTTP         HTTPSinkConfig `mapstructure:"http"`
}

// MQTTConfig 表示MQTT连接的配置
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

// KafkaConfig 表示Kafka生产者的配置
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	RequiredAcks int           `mapstructure:"required_acks"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// HTTPSinkConfig 表示HTTP接收端的配置
type HTTPSinkConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StateConfig 表示状态存储的配置
type StateConfig struct {
	Type  string          `mapstructure:"type"`
	File  FileStateConfig `mapstructure:"file"`
	Redis RedisConfig     `mapstructure:"redis"`
	DSN   string          `mapstructure:"dsn"`
}

// FileStateConfig 表示文件状态存储的配置
type FileStateConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig 表示Redis连接的配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TransformerConfig 表示可选的观测数据转换脚本配置
type TransformerConfig struct {
	ScriptPath string `mapstructure:"script_path"`
	ScriptCode string `mapstructure:"script_code"`
}

// ServerConfig 表示触发API的监听配置
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggerConfig 表示日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

var (
	sinkTypes  = map[string]bool{"mqtt": true, "kafka": true, "http": true}
	stateTypes = map[string]bool{"memory": true, "file": true, "redis": true, "mysql": true, "postgresql": true}
)

// Validate 一次性返回所有无效的配置项
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Integration.ID) == "" {
		errs = append(errs, errors.New("integration.id is required"))
	}
	if strings.TrimSpace(c.Auth.Username) == "" {
		errs = append(errs, errors.New("auth.username is required"))
	}
	if !sinkTypes[c.Ingestion.Type] {
		errs = append(errs, fmt.Errorf("ingestion.type %q is not one of mqtt, kafka, http", c.Ingestion.Type))
	}
	if !stateTypes[c.State.Type] {
		errs = append(errs, fmt.Errorf("state.type %q is not one of memory, file, redis, mysql, postgresql", c.State.Type))
	}
	if c.Dispatch.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.batch_size must be positive, got %d", c.Dispatch.BatchSize))
	}
	if c.Dispatch.RateLimit < 0 {
		errs = append(errs, errors.New("dispatch.rate_limit must not be negative"))
	}
	h := c.Actions.PullHistoricalObservations
	if h.StartDate != "" || h.EndDate != "" {
		if _, _, err := h.DateRange(); err != nil {
			errs = append(errs, fmt.Errorf("actions.pull_historical_observations: %w", err))
		}
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("integration.id", "")
	v.SetDefault("integration.base_url", "")
	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")

	v.SetDefault("vendor.connect_timeout", 10*time.Second)
	v.SetDefault("vendor.read_timeout", 30*time.Second)
	v.SetDefault("vendor.write_timeout", 15*time.Second)
	v.SetDefault("vendor.pool_timeout", 5*time.Second)
	v.SetDefault("vendor.max_connections", 100)

	v.SetDefault("actions.pull_observations.gmt_offset", 0)
	v.SetDefault("actions.pull_historical_observations.start_date", "")
	v.SetDefault("actions.pull_historical_observations.end_date", "")
	v.SetDefault("actions.pull_historical_observations.gmt_offset", 0)

	v.SetDefault("dispatch.batch_size", 200)
	v.SetDefault("dispatch.rate_limit", 0)

	v.SetDefault("ingestion.type", "mqtt")
	v.SetDefault("ingestion.connect_retry", time.Minute)
	v.SetDefault("ingestion.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("ingestion.mqtt.client_id", "")
	v.SetDefault("ingestion.mqtt.username", "")
	v.SetDefault("ingestion.mqtt.password", "")
	v.SetDefault("ingestion.mqtt.topic_prefix", "observations")
	v.SetDefault("ingestion.mqtt.qos", 1)
	v.SetDefault("ingestion.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("ingestion.kafka.topic", "observations")
	v.SetDefault("ingestion.kafka.required_acks", 1)
	v.SetDefault("ingestion.kafka.write_timeout", 10*time.Second)
	v.SetDefault("ingestion.http.url", "")
	v.SetDefault("ingestion.http.api_key", "")
	v.SetDefault("ingestion.http.timeout", 30*time.Second)

	v.SetDefault("state.type", "file")
	v.SetDefault("state.file.path", "./data/state")
	v.SetDefault("state.redis.addr", "localhost:6379")
	v.SetDefault("state.redis.password", "")
	v.SetDefault("state.redis.db", 0)
	v.SetDefault("state.dsn", "")

	v.SetDefault("transformer.script_path", "")
	v.SetDefault("transformer.script_code", "")

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("logger.level", "INFO")
	v.SetDefault("logger.file_path", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.console", true)
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig 从指定路径加载配置文件，并应用默认值和 DIGITANIMAL_* 环境变量覆盖
func LoadConfig(configPath string) (*Config, error) {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", configPath, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("配置文件 %s 无效: %w", configPath, err)
	}
	return cfg, nil
}

// ConfigChangeCallback 配置变更时的回调函数类型
type ConfigChangeCallback func(cfg *Config) error

// WatchConfig 监控配置文件变化，文件被改写为有效配置时调用回调函数
// 防抖间隔内的多次变更只触发一次
func WatchConfig(configPath string, callback ConfigChangeCallback) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	v := newViper(absPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("读取配置文件 %s 失败: %w", absPath, err)
	}

	var (
		mu               sync.Mutex
		lastChangeTime   time.Time
		debounceInterval = 2 * time.Second
	)

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		mu.Lock()
		now := time.Now()
		if now.Sub(lastChangeTime) < debounceInterval {
			mu.Unlock()
			return
		}
		lastChangeTime = now
		mu.Unlock()

		logger.Info("配置文件已更改: %s", e.Name)

		newConfig, err := decode(v)
		if err != nil {
			logger.Error("忽略无效的配置更新: %v", err)
			return
		}
		if err := callback(newConfig); err != nil {
			logger.Error("应用新配置失败: %v", err)
			return
		}
		logger.Info("配置已重新加载")
	})
	v.WatchConfig()

	return nil
}
