package faucetd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML, TOML and environment values.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for faucetd.
type Config struct {
	ListenAddress string            `yaml:"listen" toml:"listen" env:"FAUCET_LISTEN"`
	Environment   string            `yaml:"env" toml:"env" env:"FAUCET_ENV"`
	PauseOnStart  bool              `yaml:"pause" toml:"pause" env:"FAUCET_PAUSE"`
	IntentLogPath string            `yaml:"intent_log" toml:"intent_log" env:"INTENT_LOG_PATH"`
	Log           LogConfig         `yaml:"log" toml:"log"`
	Recaptcha     RecaptchaConfig   `yaml:"recaptcha" toml:"recaptcha"`
	Ledger        LedgerConfig      `yaml:"ledger" toml:"ledger"`
	Token         TokenConfig       `yaml:"token" toml:"token"`
	Quest         QuestConfig       `yaml:"quest" toml:"quest"`
	Reservations  ReservationConfig `yaml:"reservations" toml:"reservations"`
	HTTP          HTTPConfig        `yaml:"http" toml:"http"`
	Admin         AdminConfig       `yaml:"admin" toml:"admin"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level" env:"LOG_LEVEL"`
	File       string `yaml:"file" toml:"file" env:"LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb" env:"LOG_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups" env:"LOG_MAX_BACKUPS"`
}

// RecaptchaConfig configures human verification.
type RecaptchaConfig struct {
	SiteKey   string   `yaml:"site_key" toml:"site_key" env:"RECAPTCHA_SITE_KEY"`
	SecretKey string   `yaml:"-" toml:"-" env:"RECAPTCHA_SECRET_KEY"`
	Endpoint  string   `yaml:"endpoint" toml:"endpoint" env:"FAUCET_RECAPTCHA_ENDPOINT"`
	MinScore  float64  `yaml:"min_score" toml:"min_score" env:"FAUCET_MIN_SCORE"`
	Timeout   Duration `yaml:"timeout" toml:"timeout" env:"FAUCET_VERIFY_TIMEOUT"`
}

// LedgerConfig locates the ledger node and indexer.
type LedgerConfig struct {
	AlgodServer         string   `yaml:"algod_server" toml:"algod_server" env:"ALGOD_SERVER"`
	LegacyAlgodServer   string   `yaml:"-" toml:"-" env:"ALGO_SERVER"`
	AlgodPort           string   `yaml:"algod_port" toml:"algod_port" env:"ALGOD_PORT"`
	AlgodToken          string   `yaml:"-" toml:"-" env:"ALGOD_TOKEN"`
	IndexerServer       string   `yaml:"indexer_server" toml:"indexer_server" env:"INDEXER_SERVER"`
	LegacyIndexerServer string   `yaml:"-" toml:"-" env:"ALGO_INDEXER_SERVER"`
	IndexerPort         string   `yaml:"indexer_port" toml:"indexer_port" env:"INDEXER_PORT"`
	IndexerToken        string   `yaml:"-" toml:"-" env:"INDEXER_TOKEN"`
	AllowedRounds       uint64   `yaml:"allowed_rounds" toml:"allowed_rounds" env:"ALLOWED_ROUNDS"`
	ConfirmRounds       uint64   `yaml:"confirm_rounds" toml:"confirm_rounds" env:"FAUCET_CONFIRM_ROUNDS"`
	QueryTimeout        Duration `yaml:"query_timeout" toml:"query_timeout" env:"FAUCET_QUERY_TIMEOUT"`
	Timeout             Duration `yaml:"timeout" toml:"timeout" env:"FAUCET_LEDGER_TIMEOUT"`
}

// TokenConfig describes the disbursed token and amounts.
type TokenConfig struct {
	ContractID uint64 `yaml:"contract_id" toml:"contract_id" env:"FAUCET_CONTRACT_ID"`
	Decimals   int32  `yaml:"decimals" toml:"decimals" env:"FAUCET_DECIMALS"`
	// DripAmount is in whole tokens.
	DripAmount string `yaml:"drip_amount" toml:"drip_amount" env:"FAUCET_DRIP_AMOUNT"`
	// SeedAmount is in whole native units.
	SeedAmount      string `yaml:"seed_amount" toml:"seed_amount" env:"FAUCET_SEED_AMOUNT"`
	DefaultPayment  uint64 `yaml:"default_payment" toml:"default_payment" env:"FAUCET_DEFAULT_PAYMENT"`
	FallbackPayment uint64 `yaml:"fallback_payment" toml:"fallback_payment" env:"FAUCET_FALLBACK_PAYMENT"`
}

// QuestConfig configures usage reporting.
type QuestConfig struct {
	BaseURL  string   `yaml:"base_url" toml:"base_url" env:"FAUCET_QUEST_API"`
	Timeout  Duration `yaml:"timeout" toml:"timeout" env:"FAUCET_REPORT_TIMEOUT"`
	Disabled bool     `yaml:"disabled" toml:"disabled" env:"FAUCET_QUEST_DISABLED"`
}

// ReservationConfig configures the per-address reservation table.
type ReservationConfig struct {
	RedisAddr     string   `yaml:"redis_addr" toml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string   `yaml:"-" toml:"-" env:"REDIS_PASSWORD"`
	RedisDB       int      `yaml:"redis_db" toml:"redis_db" env:"REDIS_DB"`
	TTL           Duration `yaml:"ttl" toml:"ttl" env:"FAUCET_RESERVATION_TTL"`
	IndexerGrace  Duration `yaml:"indexer_grace" toml:"indexer_grace" env:"FAUCET_INDEXER_GRACE"`
}

// HTTPConfig configures the public listener.
type HTTPConfig struct {
	AllowedOrigins      []string `yaml:"allowed_origins" toml:"allowed_origins" env:"FAUCET_CORS_ORIGINS" envSeparator:","`
	SubmitRatePerMinute float64  `yaml:"submit_rate_per_minute" toml:"submit_rate_per_minute" env:"SUBMIT_RATE_PER_MINUTE"`
	SubmitBurst         int      `yaml:"submit_burst" toml:"submit_burst" env:"SUBMIT_BURST"`
	LogRequests         bool     `yaml:"log_requests" toml:"log_requests" env:"FAUCET_LOG_REQUESTS"`
}

// AdminConfig captures the admin listener and its credentials.
type AdminConfig struct {
	ListenAddress   string `yaml:"listen" toml:"listen" env:"ADMIN_LISTEN"`
	BearerToken     string `yaml:"-" toml:"-" env:"ADMIN_TOKEN"`
	BearerTokenFile string `yaml:"bearer_token_file" toml:"bearer_token_file" env:"ADMIN_TOKEN_FILE"`
}

// Enabled reports whether the admin listener should start.
func (a AdminConfig) Enabled() bool {
	return a.BearerToken != ""
}

// LoadConfig reads the optional file at path, overlays the environment,
// applies defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	// Zero is a valid min score and decimal count, so their defaults are
	// seeded before decoding rather than filled in afterwards.
	cfg := Config{
		Recaptcha: RecaptchaConfig{MinScore: 0.5},
		Token:     TokenConfig{Decimals: 6},
	}
	if path = strings.TrimSpace(path); path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin security: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	default:
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":3000"
	}
	if cfg.Ledger.AlgodServer == "" {
		cfg.Ledger.AlgodServer = cfg.Ledger.LegacyAlgodServer
	}
	if cfg.Ledger.IndexerServer == "" {
		cfg.Ledger.IndexerServer = cfg.Ledger.LegacyIndexerServer
	}
	if cfg.Ledger.AllowedRounds == 0 {
		cfg.Ledger.AllowedRounds = 1200
	}
	if cfg.Ledger.ConfirmRounds == 0 {
		cfg.Ledger.ConfirmRounds = 4
	}
	if cfg.Ledger.QueryTimeout.Duration == 0 {
		cfg.Ledger.QueryTimeout.Duration = 10 * time.Second
	}
	if cfg.Ledger.Timeout.Duration == 0 {
		cfg.Ledger.Timeout.Duration = time.Minute
	}
	if cfg.Recaptcha.Timeout.Duration == 0 {
		cfg.Recaptcha.Timeout.Duration = 10 * time.Second
	}
	if cfg.Token.ContractID == 0 {
		cfg.Token.ContractID = 6779767
	}
	if cfg.Token.DripAmount == "" {
		cfg.Token.DripAmount = "1000"
	}
	if cfg.Token.SeedAmount == "" {
		cfg.Token.SeedAmount = "10"
	}
	if cfg.Token.FallbackPayment == 0 {
		cfg.Token.FallbackPayment = 28500
	}
	if cfg.Quest.Timeout.Duration == 0 {
		cfg.Quest.Timeout.Duration = 5 * time.Second
	}
	if cfg.Reservations.TTL.Duration == 0 {
		cfg.Reservations.TTL.Duration = 2 * time.Minute
	}
	if cfg.Reservations.IndexerGrace.Duration == 0 {
		cfg.Reservations.IndexerGrace.Duration = time.Minute
	}
	if cfg.HTTP.SubmitRatePerMinute == 0 {
		cfg.HTTP.SubmitRatePerMinute = 30
	}
	if cfg.HTTP.SubmitBurst == 0 {
		cfg.HTTP.SubmitBurst = 5
	}
	if cfg.Admin.ListenAddress == "" {
		cfg.Admin.ListenAddress = "127.0.0.1:3001"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Recaptcha.SecretKey) == "" {
		return fmt.Errorf("RECAPTCHA_SECRET_KEY must be configured")
	}
	if strings.TrimSpace(cfg.Ledger.AlgodServer) == "" {
		return fmt.Errorf("ALGOD_SERVER (or ALGO_SERVER) must be configured")
	}
	if strings.TrimSpace(cfg.Ledger.IndexerServer) == "" {
		return fmt.Errorf("INDEXER_SERVER (or ALGO_INDEXER_SERVER) must be configured")
	}
	if cfg.Recaptcha.MinScore < 0 || cfg.Recaptcha.MinScore > 1 {
		return fmt.Errorf("recaptcha min_score must be within [0, 1]")
	}
	if cfg.Token.Decimals < 0 || cfg.Token.Decimals > 77 {
		return fmt.Errorf("token decimals out of range")
	}
	if _, err := cfg.DripBaseUnits(); err != nil {
		return fmt.Errorf("drip_amount: %w", err)
	}
	if _, err := cfg.SeedMicrounits(); err != nil {
		return fmt.Errorf("seed_amount: %w", err)
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	a.BearerToken = strings.TrimSpace(a.BearerToken)
	a.BearerTokenFile = strings.TrimSpace(a.BearerTokenFile)
	if a.BearerToken != "" || a.BearerTokenFile == "" {
		return nil
	}
	contents, err := os.ReadFile(a.BearerTokenFile)
	if err != nil {
		return fmt.Errorf("read bearer_token_file: %w", err)
	}
	a.BearerToken = strings.TrimSpace(string(contents))
	if a.BearerToken == "" {
		return fmt.Errorf("bearer_token_file %s is empty", a.BearerTokenFile)
	}
	return nil
}

// DripBaseUnits converts the drip amount to token base units.
func (c Config) DripBaseUnits() (*uint256.Int, error) {
	return ToBaseUnits(c.Token.DripAmount, c.Token.Decimals)
}

// SeedMicrounits converts the native seed amount to microunits.
func (c Config) SeedMicrounits() (uint64, error) {
	amount, err := ToBaseUnits(c.Token.SeedAmount, 6)
	if err != nil {
		return 0, err
	}
	if !amount.IsUint64() {
		return 0, fmt.Errorf("amount %s exceeds uint64", c.Token.SeedAmount)
	}
	return amount.Uint64(), nil
}

// ToBaseUnits scales a decimal string by 10^decimals. Fractions finer than
// the token precision are rejected.
func ToBaseUnits(amount string, decimals int32) (*uint256.Int, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount %q must be positive", amount)
	}
	scaled := value.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q exceeds %d decimal places", amount, decimals)
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %q overflows uint256", amount)
	}
	return out, nil
}
