package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"strategy-coordinator/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. COORDINATOR_CHAIN_RPC_URL.
const EnvPrefix = "COORDINATOR"

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Venue      VenueConfig      `mapstructure:"venue"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name            string        `mapstructure:"name"`
	Environment     string        `mapstructure:"environment"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StatusInterval  time.Duration `mapstructure:"status_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects
// the in-memory journal.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// ChainConfig covers the vault contract and its RPC endpoint.
type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	ChainID        int64         `mapstructure:"chain_id"`
	VaultAddress   string        `mapstructure:"vault_address"`
	PrivateKey     string        `mapstructure:"private_key"`
	StartBlock     uint64        `mapstructure:"start_block"`
	LookbackBlocks uint64        `mapstructure:"lookback_blocks"`
	Confirmations  uint64        `mapstructure:"confirmations"`
	BatchSize      uint64        `mapstructure:"batch_size"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
	ReceiptPoll    time.Duration `mapstructure:"receipt_poll"`
	GasBufferPct   uint64        `mapstructure:"gas_buffer_pct"`
}

// VenueConfig captures prediction-market connectivity and order policy.
type VenueConfig struct {
	CLOBURL        string        `mapstructure:"clob_url"`
	GammaURL       string        `mapstructure:"gamma_url"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	APIPassphrase  string        `mapstructure:"api_passphrase"`
	SignerKey      string        `mapstructure:"signer_key"`
	NegRisk        bool          `mapstructure:"neg_risk"`
	Concurrency    int64         `mapstructure:"concurrency"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	CloseFloorBps  uint32        `mapstructure:"close_floor_bps"`
	DryRun         bool          `mapstructure:"dry_run"`
}

// MonitorConfig governs both pollers.
type MonitorConfig struct {
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	MaturityInterval     time.Duration `mapstructure:"maturity_interval"`
	StartupDelay         time.Duration `mapstructure:"startup_delay"`
	Simulate             bool          `mapstructure:"simulate"`
	SimulationInterval   time.Duration `mapstructure:"simulation_interval"`
	SimulationStrategyID uint64        `mapstructure:"simulation_strategy_id"`
	SimulationNetAmount  uint64        `mapstructure:"simulation_net_amount"`
}

// StrategiesConfig locates the strategy definitions.
type StrategiesConfig struct {
	Path string `mapstructure:"path"`
}

// AlertingConfig configures operator notifications.
type AlertingConfig struct {
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig configures Telegram notifications.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv exports ./.env into the process environment without overriding
// variables that are already set.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "strategy-coordinator")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.advisory_lock_key", int64(0x53545243))
	v.SetDefault("app.status_interval", "1m")
	v.SetDefault("app.shutdown_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.chain_id", 137)
	v.SetDefault("chain.vault_address", "")
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.start_block", 0)
	v.SetDefault("chain.lookback_blocks", 1000)
	v.SetDefault("chain.confirmations", 2)
	v.SetDefault("chain.batch_size", 1000)
	v.SetDefault("chain.receipt_timeout", "2m")
	v.SetDefault("chain.receipt_poll", "2s")
	v.SetDefault("chain.gas_buffer_pct", 20)

	v.SetDefault("venue.clob_url", "https://clob.polymarket.com")
	v.SetDefault("venue.gamma_url", "https://gamma-api.polymarket.com")
	v.SetDefault("venue.api_key", "")
	v.SetDefault("venue.api_secret", "")
	v.SetDefault("venue.api_passphrase", "")
	v.SetDefault("venue.signer_key", "")
	v.SetDefault("venue.neg_risk", false)
	v.SetDefault("venue.concurrency", 4)
	v.SetDefault("venue.retry_attempts", 3)
	v.SetDefault("venue.retry_delay", "2s")
	v.SetDefault("venue.rate_per_second", 5.0)
	v.SetDefault("venue.burst", 5)
	v.SetDefault("venue.request_timeout", "15s")
	v.SetDefault("venue.user_agent", "")
	v.SetDefault("venue.close_floor_bps", 100)
	v.SetDefault("venue.dry_run", false)

	v.SetDefault("monitor.poll_interval", "5s")
	v.SetDefault("monitor.retry_delay", "10s")
	v.SetDefault("monitor.maturity_interval", "5m")
	v.SetDefault("monitor.startup_delay", "0s")
	v.SetDefault("monitor.simulate", false)
	v.SetDefault("monitor.simulation_interval", "30s")
	v.SetDefault("monitor.simulation_strategy_id", 1)
	v.SetDefault("monitor.simulation_net_amount", 196_000_000)

	v.SetDefault("strategies.path", "strategies.yaml")

	v.SetDefault("alerting.cooldown", "15m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Strategies.Path) == "" {
		return fmt.Errorf("strategies.path must be set")
	}
	if c.Chain.BatchSize == 0 {
		return fmt.Errorf("chain.batch_size must be greater than zero")
	}
	if c.Venue.Concurrency <= 0 {
		return fmt.Errorf("venue.concurrency must be greater than zero")
	}
	if c.Venue.RetryAttempts <= 0 {
		return fmt.Errorf("venue.retry_attempts must be at least one")
	}
	if c.Venue.RetryDelay < 0 {
		return fmt.Errorf("venue.retry_delay cannot be negative")
	}
	if c.Venue.CloseFloorBps == 0 || c.Venue.CloseFloorBps >= 10_000 {
		return fmt.Errorf("venue.close_floor_bps must be within (0, 10000)")
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be greater than zero")
	}
	if c.Monitor.RetryDelay <= 0 {
		return fmt.Errorf("monitor.retry_delay must be greater than zero")
	}
	if c.Monitor.MaturityInterval <= 0 {
		return fmt.Errorf("monitor.maturity_interval must be greater than zero")
	}
	if c.Monitor.SimulationInterval <= 0 {
		return fmt.Errorf("monitor.simulation_interval must be greater than zero")
	}
	if c.App.StatusInterval <= 0 {
		return fmt.Errorf("app.status_interval must be greater than zero")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if tg := c.Alerting.Telegram; tg.Enabled && (tg.BotToken == "" || tg.ChatID == "") {
		return fmt.Errorf("alerting.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}

// ValidateLive checks the settings needed to talk to the chain and, unless
// dry-run is enabled, to trade on the venue.
func (c *Config) ValidateLive() error {
	var missing []string
	if c.Chain.RPCURL == "" {
		missing = append(missing, "chain.rpc_url")
	}
	if c.Chain.VaultAddress == "" {
		missing = append(missing, "chain.vault_address")
	}
	if c.Chain.PrivateKey == "" {
		missing = append(missing, "chain.private_key")
	}
	if !c.Venue.DryRun {
		if c.Venue.SignerKey == "" {
			missing = append(missing, "venue.signer_key")
		}
		if c.Venue.APIKey == "" || c.Venue.APISecret == "" || c.Venue.APIPassphrase == "" {
			missing = append(missing, "venue.api_key/api_secret/api_passphrase")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}
