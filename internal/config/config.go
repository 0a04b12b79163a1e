package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
	Payment  PaymentConfig  `mapstructure:"payment"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
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
	SettleResult string `mapstructure:"settle_result"`
}

type AuthConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes"`
	AdminUser       string `mapstructure:"admin_user"`
	AdminPassword   string `mapstructure:"admin_password"`
}

type BusinessConfig struct {
	OrderTimeoutMinutes  int `mapstructure:"order_timeout_minutes"`
	SettleTimeoutSeconds int `mapstructure:"settle_timeout_seconds"` // 单次结算的执行预算，超时放弃让渠道重试
	MaxRetryCount        int `mapstructure:"max_retry_count"`
}

type PaymentConfig struct {
	NotifyBaseURL string                    `mapstructure:"notify_base_url"` // 回调地址前缀，如 https://blog.example.com
	Simulated     bool                      `mapstructure:"simulated"`       // 开发模式：用模拟网关代替真实渠道
	Channels      map[string]ChannelDefault `mapstructure:"channels"`
}

// ChannelDefault 渠道兜底配置：数据库没有对应渠道记录时使用
type ChannelDefault struct {
	MerchantID string `mapstructure:"merchant_id"`
	Secret     string `mapstructure:"secret"`
	GatewayURL string `mapstructure:"gateway_url"`
	Enabled    bool   `mapstructure:"enabled"`
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
