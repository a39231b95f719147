// Package config loads and validates pipeline configuration from a YAML file
// with environment-variable overrides. Broker client settings can additionally
// be overlaid from a vendor-issued key=value properties file. Missing required
// fields are reported as fatal configuration errors before any component
// starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/streamparse/docflow/pkg/errors"
)

// Failure policies applied by the consumer when a message cannot be processed.
const (
	FailurePolicyAck        = "ack"
	FailurePolicyDeadLetter = "deadLetter"
)

// Config is the top-level pipeline configuration.
type Config struct {
	S3       S3Config             `yaml:"s3"`
	Parser   ParserConfig         `yaml:"parser"`
	Kafka    KafkaConfig          `yaml:"kafka"`
	Registry SchemaRegistryConfig `yaml:"schemaRegistry"`
	Mongo    MongoConfig          `yaml:"mongo"`
	Redis    RedisConfig          `yaml:"redis"`
	Ledger   LedgerConfig         `yaml:"ledger"`
	Consumer ConsumerConfig       `yaml:"consumer"`
	Logging  LoggingConfig        `yaml:"logging"`
	Metrics  MetricsConfig        `yaml:"metrics"`
}

// S3Config holds object store access parameters. Credentials are optional;
// when absent the AWS default credential chain is used. SessionToken supports
// temporary credentials.
type S3Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Extension       string `yaml:"extension"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	SessionToken    string `yaml:"sessionToken"`
}

// ParserConfig holds the document parse service endpoint and retry limits.
type ParserConfig struct {
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"apiKey"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
}

// KafkaConfig holds broker, topic, and client authentication settings.
type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	ProduceTopic     string   `yaml:"produceTopic"`
	ConsumeTopic     string   `yaml:"consumeTopic"`
	ConsumerGroup    string   `yaml:"consumerGroup"`
	SecurityProtocol string   `yaml:"securityProtocol"`
	SASLUsername     string   `yaml:"saslUsername"`
	SASLPassword     string   `yaml:"saslPassword"`
	// PropertiesFile points to an optional key=value client config
	// (confluent-style) overlaid on top of the fields above.
	PropertiesFile string `yaml:"propertiesFile"`
}

// SchemaRegistryConfig holds the schema registry endpoint and basic-auth
// credentials used to resolve writer schemas for inbound messages.
type SchemaRegistryConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
}

// MongoConfig holds the document store connection target.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// RedisConfig holds the dedup store connection parameters. When disabled the
// consumer processes every delivery without idempotency suppression.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// LedgerConfig holds the optional PostgreSQL document-status ledger.
type LedgerConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// ConsumerConfig controls failure handling and idempotency for the ingest
// consumer.
type ConsumerConfig struct {
	// FailurePolicy is "ack" (commit and drop a failed message) or
	// "deadLetter" (publish it to DeadLetterTopic before committing).
	FailurePolicy   string        `yaml:"failurePolicy"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
	DedupTTL        time.Duration `yaml:"dedupTtl"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides, overlays the broker properties file when one is configured, and
// validates the result. Validation failures are fatal configuration errors.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrConfig, "reading config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, apperrors.Newf(apperrors.ErrConfig, "parsing config file %s: %v", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if cfg.Kafka.PropertiesFile != "" {
		props, err := LoadProperties(cfg.Kafka.PropertiesFile)
		if err != nil {
			return nil, err
		}
		applyProperties(cfg, props)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		S3: S3Config{
			Region:    "us-east-1",
			Extension: ".pdf",
		},
		Parser: ParserConfig{
			Timeout:    60 * time.Second,
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ProduceTopic:  "document-chunks",
			ConsumeTopic:  "document-records",
			ConsumerGroup: "docflow-group-1",
		},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "docflow",
			Collection: "records",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Ledger: LedgerConfig{
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "docflow",
				User:            "docflow",
				Password:        "localdev",
				SSLMode:         "disable",
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Consumer: ConsumerConfig{
			FailurePolicy: FailurePolicyDeadLetter,
			DedupTTL:      24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate checks the required-field and cross-field constraints that must
// hold before the pipeline starts.
func (c *Config) Validate() error {
	if c.S3.Bucket == "" {
		return apperrors.New(apperrors.ErrConfig, "s3.bucket is required")
	}
	if c.Parser.URL == "" {
		return apperrors.New(apperrors.ErrConfig, "parser.url is required")
	}
	if c.Parser.APIKey == "" {
		return apperrors.New(apperrors.ErrConfig, "parser.apiKey is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return apperrors.New(apperrors.ErrConfig, "kafka.brokers is required")
	}
	if c.Kafka.ProduceTopic == "" || c.Kafka.ConsumeTopic == "" {
		return apperrors.New(apperrors.ErrConfig, "kafka.produceTopic and kafka.consumeTopic are required")
	}
	if c.Kafka.ConsumerGroup == "" {
		return apperrors.New(apperrors.ErrConfig, "kafka.consumerGroup is required")
	}
	if c.Registry.URL == "" {
		return apperrors.New(apperrors.ErrConfig, "schemaRegistry.url is required")
	}
	if c.Mongo.URI == "" || c.Mongo.Database == "" || c.Mongo.Collection == "" {
		return apperrors.New(apperrors.ErrConfig, "mongo.uri, mongo.database, and mongo.collection are required")
	}
	switch c.Consumer.FailurePolicy {
	case FailurePolicyAck:
	case FailurePolicyDeadLetter:
		if c.Consumer.DeadLetterTopic == "" {
			c.Consumer.DeadLetterTopic = c.Kafka.ConsumeTopic + ".dlq"
		}
	default:
		return apperrors.Newf(apperrors.ErrConfig,
			"consumer.failurePolicy must be %q or %q, got %q",
			FailurePolicyAck, FailurePolicyDeadLetter, c.Consumer.FailurePolicy)
	}
	if !strings.HasPrefix(c.S3.Extension, ".") {
		return apperrors.Newf(apperrors.ErrConfig, "s3.extension must start with a dot, got %q", c.S3.Extension)
	}
	return nil
}

// LoadProperties parses a key=value properties file. Blank lines and lines
// starting with '#' are ignored; values may contain '=' (split on the first).
func LoadProperties(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrConfig, "reading properties file %s: %v", path, err)
	}
	props := make(map[string]string)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrConfig,
				"properties file %s line %d: expected key=value, got %q", path, i+1, line)
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return props, nil
}

// applyProperties maps well-known broker client properties onto KafkaConfig.
// Unknown keys are ignored so vendor-issued files can be used unmodified.
func applyProperties(cfg *Config, props map[string]string) {
	if v, ok := props["bootstrap.servers"]; ok && v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := props["security.protocol"]; ok {
		cfg.Kafka.SecurityProtocol = v
	}
	if v, ok := props["sasl.username"]; ok {
		cfg.Kafka.SASLUsername = v
	}
	if v, ok := props["sasl.password"]; ok {
		cfg.Kafka.SASLPassword = v
	}
	if v, ok := props["group.id"]; ok && v != "" {
		cfg.Kafka.ConsumerGroup = v
	}
}

// applyEnvOverrides reads DF_* environment variables (and the standard AWS
// credential variables) and overrides the corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DF_S3_REGION"); v != "" {
		cfg.S3.Region = v
	}
	if v := os.Getenv("DF_S3_BUCKET"); v != "" {
		cfg.S3.Bucket = v
	}
	if v := os.Getenv("DF_S3_PREFIX"); v != "" {
		cfg.S3.Prefix = v
	}
	if v := os.Getenv("DF_S3_ENDPOINT"); v != "" {
		cfg.S3.Endpoint = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.S3.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.S3.SecretAccessKey = v
	}
	if v := os.Getenv("AWS_SESSION_TOKEN"); v != "" {
		cfg.S3.SessionToken = v
	}
	if v := os.Getenv("DF_PARSER_URL"); v != "" {
		cfg.Parser.URL = v
	}
	if v := os.Getenv("DF_PARSER_API_KEY"); v != "" {
		cfg.Parser.APIKey = v
	}
	if v := os.Getenv("DF_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DF_KAFKA_PRODUCE_TOPIC"); v != "" {
		cfg.Kafka.ProduceTopic = v
	}
	if v := os.Getenv("DF_KAFKA_CONSUME_TOPIC"); v != "" {
		cfg.Kafka.ConsumeTopic = v
	}
	if v := os.Getenv("DF_KAFKA_PROPERTIES_FILE"); v != "" {
		cfg.Kafka.PropertiesFile = v
	}
	if v := os.Getenv("DF_SCHEMA_REGISTRY_URL"); v != "" {
		cfg.Registry.URL = v
	}
	if v := os.Getenv("DF_SCHEMA_REGISTRY_API_KEY"); v != "" {
		cfg.Registry.APIKey = v
	}
	if v := os.Getenv("DF_SCHEMA_REGISTRY_API_SECRET"); v != "" {
		cfg.Registry.APISecret = v
	}
	if v := os.Getenv("DF_MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("DF_MONGO_DATABASE"); v != "" {
		cfg.Mongo.Database = v
	}
	if v := os.Getenv("DF_MONGO_COLLECTION"); v != "" {
		cfg.Mongo.Collection = v
	}
	if v := os.Getenv("DF_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("DF_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DF_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DF_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DF_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if v := os.Getenv("DF_CONSUMER_FAILURE_POLICY"); v != "" {
		cfg.Consumer.FailurePolicy = v
	}
}
