package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvent string `mapstructure:"ledger_event"`
}

type BusinessConfig struct {
	OpTimeoutSeconds int `mapstructure:"op_timeout_seconds"` // 单次账务操作的超时上限
	MaxRetryCount    int `mapstructure:"max_retry_count"`    // 出盒消息最大重试次数
}

// OpTimeout 账务操作超时时间，未配置时取 5 秒
func (c *BusinessConfig) OpTimeout() time.Duration {
	if c.OpTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.OpTimeoutSeconds) * time.Second
}

type WorkerConfig struct {
	OutboxIntervalMs int `mapstructure:"outbox_interval_ms"`
	OutboxBatchSize  int `mapstructure:"outbox_batch_size"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
