package conf

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Config is the deployment configuration of the aggregation service.
type Config struct {
	Publish       PublishConfig       `mapstructure:"publish"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Processing    ProcessingConfig    `mapstructure:"processing"`
	Specs         SpecsConfig         `mapstructure:"specs"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	ClickHouse    ClickHouseConfig    `mapstructure:"clickhouse"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Server        ServerConfig        `mapstructure:"server"`
}

// PublishConfig is the identity stamped on every output metric.
type PublishConfig struct {
	TenantID string `mapstructure:"tenant_id"`
	Region   string `mapstructure:"region"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	InputTopic     string   `mapstructure:"input_topic"`
	OutputTopic    string   `mapstructure:"output_topic"`
	PreHourlyTopic string   `mapstructure:"pre_hourly_topic"`
	Partitions     []int    `mapstructure:"partitions"`

	// Producer driver: "kafka-go" or "sarama".
	Driver string `mapstructure:"driver"`

	MaxBatchMessages int           `mapstructure:"max_batch_messages"`
	BatchInterval    time.Duration `mapstructure:"batch_interval"`
}

type ProcessingConfig struct {
	Workers int         `mapstructure:"workers"`
	Retry   RetryConfig `mapstructure:"retry"`

	// Pre-hourly records go to "clickhouse", "kafka" or nowhere ("").
	PreHourlySink string `mapstructure:"pre_hourly_sink"`

	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type RetryConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

type CircuitBreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxRequests uint32        `mapstructure:"max_requests"`
	MinRequests uint32        `mapstructure:"min_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Threshold   float64       `mapstructure:"threshold"`
}

type SpecsConfig struct {
	// "file" or "postgres".
	Source string `mapstructure:"source"`
	Path   string `mapstructure:"path"`

	RedisCache bool          `mapstructure:"redis_cache"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

type LedgerConfig struct {
	// "memory", "redis" or "postgres".
	Backend string `mapstructure:"backend"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Password string `mapstructure:"password"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ClickHouseConfig struct {
	Addr     string `mapstructure:"addr"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
}

type ServerConfig struct {
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

const envPrefix = "METRICAGG"

func setDefaults(v *viper.Viper) {
	v.SetDefault("publish.region", "useast")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.input_topic", "metrics")
	v.SetDefault("kafka.output_topic", "metrics")
	v.SetDefault("kafka.pre_hourly_topic", "metrics_pre_hourly")
	v.SetDefault("kafka.partitions", []int{0})
	v.SetDefault("kafka.driver", "kafka-go")
	v.SetDefault("kafka.max_batch_messages", 10000)
	v.SetDefault("kafka.batch_interval", 10*time.Second)

	v.SetDefault("processing.workers", 4)
	v.SetDefault("processing.retry.max_retries", 3)
	v.SetDefault("processing.retry.initial_delay", 100*time.Millisecond)
	v.SetDefault("processing.retry.max_delay", 10*time.Second)
	v.SetDefault("processing.retry.backoff_multiplier", 2.0)
	v.SetDefault("processing.circuit_breaker.max_requests", 1)
	v.SetDefault("processing.circuit_breaker.min_requests", 10)
	v.SetDefault("processing.circuit_breaker.interval", time.Minute)
	v.SetDefault("processing.circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("processing.circuit_breaker.threshold", 0.5)

	v.SetDefault("specs.source", "file")
	v.SetDefault("specs.path", "./configs/specs")
	v.SetDefault("specs.cache_ttl", 5*time.Minute)

	v.SetDefault("ledger.backend", "memory")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("clickhouse.addr", "localhost:9000")
	v.SetDefault("clickhouse.database", "default")
	v.SetDefault("clickhouse.username", "default")

	v.SetDefault("observability.service_name", "metricagg")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")

	v.SetDefault("server.metrics_addr", ":9102")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
}

// Load reads configPath, or metricagg.yaml from ./configs when empty, then
// applies METRICAGG_* environment overrides. A missing default file is not
// an error; a missing explicit file is.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("metricagg")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if password := os.Getenv("POSTGRES_PASSWORD"); password != "" {
		config.Postgres.Password = password
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if password := os.Getenv("CLICKHOUSE_PASSWORD"); password != "" {
		config.ClickHouse.Password = password
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Kafka.Driver {
	case "kafka-go", "sarama":
	default:
		return errors.Newf("kafka.driver must be kafka-go or sarama, got %q", c.Kafka.Driver)
	}
	switch c.Specs.Source {
	case "file", "postgres":
	default:
		return errors.Newf("specs.source must be file or postgres, got %q", c.Specs.Source)
	}
	switch c.Ledger.Backend {
	case "memory", "redis", "postgres":
	default:
		return errors.Newf("ledger.backend must be memory, redis or postgres, got %q", c.Ledger.Backend)
	}
	switch c.Processing.PreHourlySink {
	case "", "clickhouse", "kafka":
	default:
		return errors.Newf("processing.pre_hourly_sink must be clickhouse or kafka, got %q", c.Processing.PreHourlySink)
	}
	if len(c.Kafka.Partitions) == 0 {
		return errors.New("kafka.partitions must not be empty")
	}
	if (c.Specs.Source == "postgres" || c.Ledger.Backend == "postgres") && c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	return nil
}
