package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// ServerConfig 定义了 HTTP 服务的配置。
type ServerConfig struct {
	Address         string `yaml:"address"`         // 监听地址 (例如: ":8080")
	Mode            string `yaml:"mode"`            // gin 模式: "debug", "release", "test"
	ShutdownTimeout string `yaml:"shutdownTimeout"` // 优雅关闭的超时时间 (例如: "5s")
}

// CoordinatorConfig 定义了任务协调器的配置。
type CoordinatorConfig struct {
	Workers int `yaml:"workers"` // 争用执行闸门的 worker 数量，闸门始终只允许一个任务运行
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // Kafka Broker 地址列表
	Topic   string   `yaml:"topic"`   // 主题
	GroupID string   `yaml:"groupID"` // 消费者组 (仅用于消费)
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// NotifyConfig 定义了任务事件通知的配置。
type NotifyConfig struct {
	WebSocket      bool                 `yaml:"websocket"`      // 是否启用 /ws/subscribe
	Kafka          bool                 `yaml:"kafka"`          // 是否把事件发布到 Kafka
	KafkaEvents    KafkaConfig          `yaml:"kafkaEvents"`    // 事件主题配置
	WriteTimeout   string               `yaml:"writeTimeout"`   // 单次发布的超时时间
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"` // 发布器的熔断配置
}

// IntakeConfig 定义了从 Kafka 接收意图的配置。
type IntakeConfig struct {
	Kafka        bool        `yaml:"kafka"`        // 是否启用 Kafka 意图消费
	KafkaIntents KafkaConfig `yaml:"kafkaIntents"` // 意图主题配置
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App         AppInfo           `yaml:"app"`
	Logger      LoggerConfig      `yaml:"logger"`
	Server      ServerConfig      `yaml:"server"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Notify      NotifyConfig      `yaml:"notify"`
	Intake      IntakeConfig      `yaml:"intake"`
}

// Default 返回所有字段都已填充默认值的配置。
func Default() *AppConfig {
	cfg := &AppConfig{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件。
//
// 参数:
//
//	path: YAML 配置文件的路径。
//
// 返回值:
//
//	*AppConfig: 解析后的应用程序配置结构体，缺失的字段已填充默认值。
//	error: 如果文件读取、解析或校验失败，则返回错误。
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	return Parse(yamlFile)
}

// Parse 解析 YAML 内容并应用默认值和校验。
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "thalos-prime"
	}
	if c.App.Version == "" {
		c.App.Version = "0.1.0"
	}
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "5s"
	}
	if c.Coordinator.Workers <= 0 {
		c.Coordinator.Workers = 1
	}
	if c.Notify.KafkaEvents.Topic == "" {
		c.Notify.KafkaEvents.Topic = "thalos_task_events"
	}
	if c.Notify.WriteTimeout == "" {
		c.Notify.WriteTimeout = "2s"
	}
	cb := &c.Notify.CircuitBreaker
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 3
	}
	if cb.SuccessThreshold == 0 {
		cb.SuccessThreshold = 1
	}
	if cb.Timeout == "" {
		cb.Timeout = "30s"
	}
	if c.Intake.KafkaIntents.Topic == "" {
		c.Intake.KafkaIntents.Topic = "thalos_intents"
	}
	if c.Intake.KafkaIntents.GroupID == "" {
		c.Intake.KafkaIntents.GroupID = "thalos-intake-group"
	}
}

// Validate 检查配置之间的约束。
func (c *AppConfig) Validate() error {
	var errs []error
	// 按固定顺序检查，保证错误信息稳定
	durations := []struct{ name, raw string }{
		{"server.shutdownTimeout", c.Server.ShutdownTimeout},
		{"notify.writeTimeout", c.Notify.WriteTimeout},
		{"notify.circuitBreaker.timeout", c.Notify.CircuitBreaker.Timeout},
	}
	for _, d := range durations {
		if _, err := time.ParseDuration(d.raw); err != nil {
			errs = append(errs, fmt.Errorf("%s 不是合法的时长: %w", d.name, err))
		}
	}
	if c.Notify.Kafka && len(c.Notify.KafkaEvents.Brokers) == 0 {
		errs = append(errs, errors.New("notify.kafka 已启用但未配置 notify.kafkaEvents.brokers"))
	}
	if c.Intake.Kafka && len(c.Intake.KafkaIntents.Brokers) == 0 {
		errs = append(errs, errors.New("intake.kafka 已启用但未配置 intake.kafkaIntents.brokers"))
	}
	return errors.Join(errs...)
}

// ShutdownTimeout 返回解析后的优雅关闭超时时间。
func (c *AppConfig) ShutdownTimeout() time.Duration {
	return mustDuration(c.Server.ShutdownTimeout, 5*time.Second)
}

// NotifyWriteTimeout 返回解析后的事件发布超时时间。
func (c *AppConfig) NotifyWriteTimeout() time.Duration {
	return mustDuration(c.Notify.WriteTimeout, 2*time.Second)
}

// BreakerTimeout 返回熔断器从打开到半开的等待时间。
func (c *AppConfig) BreakerTimeout() time.Duration {
	return mustDuration(c.Notify.CircuitBreaker.Timeout, 30*time.Second)
}

func mustDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
