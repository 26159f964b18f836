// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "configs/config.yaml"

// 运行模式
const (
	ModeKafka    = "kafka"    // 订阅 / 发布走 Kafka
	ModeEmbedded = "embedded" // 进程内 broker + 内存存储，调试和端到端测试使用
)

// 库存 / 去重存储后端
const (
	BackendMySQL  = "mysql"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Infra    InfraConfig    `yaml:"infra"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type AppConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"logLevel"`
	HTTPPort int    `yaml:"httpPort"`
}

type InfraConfig struct {
	Jaeger JaegerConfig `yaml:"jaeger"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	MySQL  MySQLConfig  `yaml:"mysql"`
	Redis  RedisConfig  `yaml:"redis"`
	Nacos  NacosConfig  `yaml:"nacos"`
}

type JaegerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

type MySQLConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	MaxIdleConns int    `yaml:"maxIdleConns"`
	AutoMigrate  bool   `yaml:"autoMigrate"`
}

type RedisConfig struct {
	Addrs string `yaml:"addrs"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

// PipelineConfig 下单 / 对账流水线的业务配置
type PipelineConfig struct {
	Mode            string `yaml:"mode"`
	StockBackend    string `yaml:"stockBackend"`
	DispatchTopic   string `yaml:"dispatchTopic"`
	OutcomeTopic    string `yaml:"outcomeTopic"`
	DeadLetterTopic string `yaml:"deadLetterTopic"`
	ConsumerGroup   string `yaml:"consumerGroup"`
	Workers         int    `yaml:"workers"`
	Partitions      int    `yaml:"partitions"`

	StoreTimeout    time.Duration `yaml:"storeTimeout"`
	PublishTimeout  time.Duration `yaml:"publishTimeout"`
	RedeliveryDelay time.Duration `yaml:"redeliveryDelay"`
	MaxRetryBackoff time.Duration `yaml:"maxRetryBackoff"`

	// AdmissionRules 是一组 CEL 布尔表达式，任意一条为 false 即拒绝下单
	AdmissionRules []string `yaml:"admissionRules"`
}

// Default 返回所有字段都已填充默认值的配置
func Default() *Config {
	return &Config{
		App: AppConfig{Env: "dev", LogLevel: "info", HTTPPort: 8080},
		Infra: InfraConfig{
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces", SampleRatio: 1},
			Kafka:  KafkaConfig{Brokers: []string{"localhost:9092"}},
			MySQL: MySQLConfig{
				DSN:          "root:root@tcp(localhost:3306)/stockflow?parseTime=true&charset=utf8mb4&loc=Local",
				MaxOpenConns: 20,
				MaxIdleConns: 5,
				AutoMigrate:  true,
			},
			Redis: RedisConfig{Addrs: "localhost:6379"},
			Nacos: NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
		},
		Pipeline: PipelineConfig{
			Mode:            ModeKafka,
			StockBackend:    BackendMySQL,
			DispatchTopic:   "orders",
			OutcomeTopic:    "order-outcomes",
			DeadLetterTopic: "orders.dlt",
			ConsumerGroup:   "warehouse-group",
			Workers:         3,
			Partitions:      3,
			StoreTimeout:    3 * time.Second,
			PublishTimeout:  5 * time.Second,
			RedeliveryDelay: 500 * time.Millisecond,
			MaxRetryBackoff: 30 * time.Second,
		},
	}
}

// Load 读取 YAML 配置文件并叠加环境变量。path 不存在时只使用默认值和环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		cfg.Infra.Kafka.Brokers = splitList(v)
	}
	if v, ok := os.LookupEnv("MYSQL_DSN"); ok {
		cfg.Infra.MySQL.DSN = v
	}
	if v, ok := os.LookupEnv("REDIS_ADDRS"); ok {
		cfg.Infra.Redis.Addrs = v
	}
	if v, ok := os.LookupEnv("JAEGER_ENDPOINT"); ok {
		cfg.Infra.Jaeger.Enabled = true
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v, ok := os.LookupEnv("NACOS_SERVER_ADDRS"); ok {
		cfg.Infra.Nacos.Enabled = true
		cfg.Infra.Nacos.ServerAddrs = v
	}
	if v, ok := os.LookupEnv("NACOS_NAMESPACE"); ok {
		cfg.Infra.Nacos.Namespace = v
	}
	if v, ok := os.LookupEnv("HTTP_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.App.HTTPPort = port
		}
	}
	if v, ok := os.LookupEnv("STOCK_BACKEND"); ok {
		cfg.Pipeline.StockBackend = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv("PIPELINE_MODE"); ok {
		cfg.Pipeline.Mode = strings.ToLower(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate 检查配置的一致性
func (c *Config) Validate() error {
	p := c.Pipeline
	switch p.Mode {
	case ModeKafka, ModeEmbedded:
	default:
		return fmt.Errorf("config: unknown pipeline.mode %q", p.Mode)
	}
	switch p.StockBackend {
	case BackendMySQL, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("config: unknown pipeline.stockBackend %q", p.StockBackend)
	}
	if p.Mode == ModeKafka && len(c.Infra.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: infra.kafka.brokers is required in kafka mode")
	}
	if p.Mode == ModeKafka && p.StockBackend == BackendMemory {
		return fmt.Errorf("config: memory stock backend cannot be shared across processes, use embedded mode")
	}
	if p.DispatchTopic == "" || p.ConsumerGroup == "" {
		return fmt.Errorf("config: pipeline.dispatchTopic and pipeline.consumerGroup are required")
	}
	if p.Workers < 1 {
		return fmt.Errorf("config: pipeline.workers must be >= 1, got %d", p.Workers)
	}
	if p.StoreTimeout <= 0 || p.PublishTimeout <= 0 {
		return fmt.Errorf("config: storeTimeout and publishTimeout must be positive")
	}
	if p.StockBackend == BackendMySQL {
		if _, err := mysql.ParseDSN(c.Infra.MySQL.DSN); err != nil {
			return errors.Wrap(err, "config: invalid infra.mysql.dsn")
		}
	}
	return nil
}

// MySQLTarget 返回不含密码的 DSN 描述，用于日志
func (c *Config) MySQLTarget() string {
	dsn, err := mysql.ParseDSN(c.Infra.MySQL.DSN)
	if err != nil {
		return "invalid-dsn"
	}
	return fmt.Sprintf("%s@%s(%s)/%s", dsn.User, dsn.Net, dsn.Addr, dsn.DBName)
}

var (
	currentMu     sync.RWMutex
	currentConfig = Default()
)

// Init 从 CONFIG_FILE (默认 configs/config.yaml) 加载全局配置
func Init() error {
	path := defaultConfigFile
	if v, ok := os.LookupEnv("CONFIG_FILE"); ok {
		path = v
	}
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	SetCurrentConfig(cfg)
	return nil
}

func GetCurrentConfig() *Config {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return currentConfig
}

func SetCurrentConfig(cfg *Config) {
	currentMu.Lock()
	defer currentMu.Unlock()
	currentConfig = cfg
}
