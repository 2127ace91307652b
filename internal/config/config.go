package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/feral-file/ff-gift-engine/internal/domain"
)

const (
	EventLogBackendRedis    = "redis"
	EventLogBackendPostgres = "postgres"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// RedisConfig holds the primary store configuration
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`     // Maximum number of open connections to the database
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`     // Maximum number of idle connections in the pool
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`  // Maximum amount of time a connection may be reused (e.g., "5m", "1h")
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"` // Maximum amount of time a connection may be idle (e.g., "10m", "30m")
}

// EventLogConfig selects the canonical event log backend
type EventLogConfig struct {
	Backend string `mapstructure:"backend"` // redis or postgres
}

// EthereumConfig holds chain and contract configuration
type EthereumConfig struct {
	RPCURL         string `mapstructure:"rpc_url"`
	ChainID        int64  `mapstructure:"chain_id"`
	EscrowAddress  string `mapstructure:"escrow_address"`
	NFTAddress     string `mapstructure:"nft_address"`
	StartBlock     uint64 `mapstructure:"start_block"`
	BlockBatchSize uint64 `mapstructure:"block_batch_size"`
	Confirmations  uint64 `mapstructure:"confirmations"`
}

// ResolverConfig bounds the tokenId probe
type ResolverConfig struct {
	MaxScanDepth    int           `mapstructure:"max_scan_depth"`
	ScanTimeout     time.Duration `mapstructure:"scan_timeout"`
	ScanConcurrency int           `mapstructure:"scan_concurrency"`
	MissTTL         time.Duration `mapstructure:"miss_ttl"` // how long a probe miss is remembered, 0 disables
}

// ClaimConfig holds claim verification configuration
type ClaimConfig struct {
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"` // attempts per device, 0 disables throttling
}

// RetryConfig holds the bounded retry policy for store and RPC calls
type RetryConfig struct {
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// MaterializerConfig holds roll-up projection configuration
type MaterializerConfig struct {
	PageSize   int `mapstructure:"page_size"`
	CASRetries int `mapstructure:"cas_retries"`
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
	// CORSOrigins restricts browser origins, empty allows all
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// AuthConfig holds authentication configuration for operator endpoints
type AuthConfig struct {
	JWTPublicKey string   `mapstructure:"jwt_public_key"`
	APIKeys      []string `mapstructure:"api_keys"`
}

// LoopConfig holds the scheduled reconciliation loop configuration
type LoopConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	HeaderWorkers  int           `mapstructure:"header_workers"`
	RepairOnCycle  bool          `mapstructure:"repair_on_cycle"`
	PublishEnabled bool          `mapstructure:"publish_enabled"`
}

// EngineConfig holds the sections shared by every binary
type EngineConfig struct {
	BaseConfig   `mapstructure:",squash"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Database     DatabaseConfig     `mapstructure:"database"`
	EventLog     EventLogConfig     `mapstructure:"event_log"`
	Ethereum     EthereumConfig     `mapstructure:"ethereum"`
	Resolver     ResolverConfig     `mapstructure:"resolver"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Materializer MaterializerConfig `mapstructure:"materializer"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Reconciler   LoopConfig         `mapstructure:"reconciler"`
	// Campaigns maps a lowercase creator address to a campaign id
	Campaigns map[string]string `mapstructure:"campaigns"`
}

// APIConfig holds configuration for the API server
type APIConfig struct {
	EngineConfig `mapstructure:",squash"`
	Server       ServerConfig `mapstructure:"server"`
	Auth         AuthConfig   `mapstructure:"auth"`
	Claim        ClaimConfig  `mapstructure:"claim"`
}

// ReconcilerConfig holds configuration for the reconciler binary
type ReconcilerConfig struct {
	EngineConfig `mapstructure:",squash"`
}

// LoadAPIConfig loads configuration for API server
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	setEngineDefaults(v)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("claim.rate_limit_per_minute", 10)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config APIConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadReconcilerConfig loads configuration for the reconciler binary
func LoadReconcilerConfig(configFile string, envPath string) (*ReconcilerConfig, error) {
	v := configureViper("reconciler", configFile, envPath)

	setEngineDefaults(v)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config ReconcilerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setEngineDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")
	v.SetDefault("event_log.backend", EventLogBackendRedis)
	v.SetDefault("ethereum.block_batch_size", 2000)
	v.SetDefault("ethereum.confirmations", 12)
	v.SetDefault("resolver.max_scan_depth", 500)
	v.SetDefault("resolver.scan_timeout", "10s")
	v.SetDefault("resolver.scan_concurrency", 8)
	v.SetDefault("resolver.miss_ttl", "30s")
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_interval", "200ms")
	v.SetDefault("retry.max_interval", "2s")
	v.SetDefault("materializer.page_size", 500)
	v.SetDefault("materializer.cas_retries", 5)
	v.SetDefault("nats.subject_prefix", "gifts.events")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("reconciler.interval", "1m")
	v.SetDefault("reconciler.header_workers", 8)
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Validate fails fast on missing or malformed contract and chain parameters
func (c *EngineConfig) Validate() error {
	if c.Ethereum.RPCURL == "" {
		return fmt.Errorf("%w: ethereum.rpc_url is required", domain.ErrConfiguration)
	}
	if c.Ethereum.ChainID <= 0 {
		return fmt.Errorf("%w: ethereum.chain_id must be positive", domain.ErrConfiguration)
	}
	if !validContract(c.Ethereum.EscrowAddress) {
		return fmt.Errorf("%w: ethereum.escrow_address is missing or invalid", domain.ErrConfiguration)
	}
	if !validContract(c.Ethereum.NFTAddress) {
		return fmt.Errorf("%w: ethereum.nft_address is missing or invalid", domain.ErrConfiguration)
	}
	if c.Ethereum.BlockBatchSize == 0 {
		return fmt.Errorf("%w: ethereum.block_batch_size must be positive", domain.ErrConfiguration)
	}
	if c.Resolver.MaxScanDepth <= 0 || c.Resolver.ScanConcurrency <= 0 || c.Resolver.ScanTimeout <= 0 {
		return fmt.Errorf("%w: resolver bounds must be positive", domain.ErrConfiguration)
	}

	switch c.EventLog.Backend {
	case EventLogBackendRedis:
	case EventLogBackendPostgres:
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("%w: database.host and database.dbname are required for the postgres event log", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown event_log.backend %q", domain.ErrConfiguration, c.EventLog.Backend)
	}

	return nil
}

// EscrowContract returns the parsed escrow address
func (c *EngineConfig) EscrowContract() common.Address {
	return common.HexToAddress(c.Ethereum.EscrowAddress)
}

// NFTContract returns the parsed NFT contract address
func (c *EngineConfig) NFTContract() common.Address {
	return common.HexToAddress(c.Ethereum.NFTAddress)
}

// CampaignFor returns the campaign a creator's gifts roll up into
func (c *EngineConfig) CampaignFor(creator common.Address) string {
	if id, ok := c.Campaigns[strings.ToLower(creator.Hex())]; ok && id != "" {
		return id
	}
	return domain.DEFAULT_CAMPAIGN_ID
}

func validContract(addr string) bool {
	return common.IsHexAddress(addr) && common.HexToAddress(addr) != common.HexToAddress(domain.ETHEREUM_ZERO_ADDRESS)
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search order: current directory, service directory (cmd/api/), config directory
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("FF_GIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables
// This is required for viper to map env vars to config struct fields when no config file exists
func bindAllEnvVars(v *viper.Viper) {
	commonKeys := []string{
		"debug",
		"sentry_dsn",
		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.key_prefix",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// Event log
		"event_log.backend",
		// Ethereum
		"ethereum.rpc_url",
		"ethereum.chain_id",
		"ethereum.escrow_address",
		"ethereum.nft_address",
		"ethereum.start_block",
		"ethereum.block_batch_size",
		"ethereum.confirmations",
		// Resolver
		"resolver.max_scan_depth",
		"resolver.scan_timeout",
		"resolver.scan_concurrency",
		"resolver.miss_ttl",
		// Retry
		"retry.max_retries",
		"retry.initial_interval",
		"retry.max_interval",
		// Materializer
		"materializer.page_size",
		"materializer.cas_retries",
		// NATS
		"nats.url",
		"nats.subject_prefix",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		// Reconciler
		"reconciler.interval",
		"reconciler.header_workers",
		"reconciler.repair_on_cycle",
		"reconciler.publish_enabled",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		"server.cors_origins",
		// Auth
		"auth.jwt_public_key",
		"auth.api_keys",
		// Claim
		"claim.rate_limit_per_minute",
	}

	for _, key := range commonKeys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
