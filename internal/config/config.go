// Package config loads gateway configuration from a YAML file with
// environment-variable overrides. Every environment-sensitive constant of
// the payment flow (receiving wallet, token contract, fee amounts, poll
// interval) lives here rather than in code.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/swissgrant/platform/internal/grant"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Supabase  SupabaseConfig  `yaml:"supabase"`
	Store     StoreConfig     `yaml:"store"`
	Chain     ChainConfig     `yaml:"chain"`
	Fees      FeeConfig       `yaml:"fees"`
	PriceFeed PriceFeedConfig `yaml:"pricefeed"`
	Admin     AdminConfig     `yaml:"admin"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr" env:"SERVER_ADDR"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	RateLimitPerSec   int           `yaml:"rate_limit_per_sec" env:"RATE_LIMIT_PER_SEC"`
	RateLimitBurst    int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

type LogConfig struct {
	Level   string `yaml:"level" env:"LOG_LEVEL"`
	Console bool   `yaml:"console" env:"LOG_CONSOLE"`
}

type SupabaseConfig struct {
	URL           string        `yaml:"url" env:"SUPABASE_URL"`
	AnonKey       string        `yaml:"anon_key" env:"SUPABASE_ANON_KEY"`
	ServiceKey    string        `yaml:"service_key" env:"SUPABASE_SERVICE_KEY"`
	JWTSecret     string        `yaml:"jwt_secret" env:"SUPABASE_JWT_SECRET"`
	StorageBucket string        `yaml:"storage_bucket" env:"SUPABASE_STORAGE_BUCKET"`
	Timeout       time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	// Driver selects the backing store: supabase, postgres or memory.
	Driver         string `yaml:"driver" env:"STORE_DRIVER"`
	PostgresDSN    string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH"`
}

type ChainConfig struct {
	RPCURL          string        `yaml:"rpc_url" env:"CHAIN_RPC_URL"`
	WSURL           string        `yaml:"ws_url" env:"CHAIN_WS_URL"`
	TokenContract   string        `yaml:"token_contract" env:"CHAIN_TOKEN_CONTRACT"`
	ReceivingWallet string        `yaml:"receiving_wallet" env:"CHAIN_RECEIVING_WALLET"`
	PollInterval    time.Duration `yaml:"poll_interval" env:"CHAIN_POLL_INTERVAL"`
	Timeout         time.Duration `yaml:"timeout"`
}

// FeeConfig carries the fee schedule as decimal strings; amounts are parsed
// once at load time into 6-decimal fixed point.
type FeeConfig struct {
	Threshold                string `yaml:"threshold" env:"FEE_THRESHOLD"`
	CEOFee                   string `yaml:"ceo_fee" env:"FEE_CEO"`
	BeneficiaryFee           string `yaml:"beneficiary_fee" env:"FEE_BENEFICIARY"`
	CEOCommissionBTC         string `yaml:"ceo_commission_btc" env:"FEE_CEO_COMMISSION_BTC"`
	BeneficiaryCommissionBTC string `yaml:"beneficiary_commission_btc" env:"FEE_BENEFICIARY_COMMISSION_BTC"`
}

type PriceFeedConfig struct {
	Endpoint        string        `yaml:"endpoint" env:"PRICEFEED_ENDPOINT"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	RedisAddr       string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

type AdminConfig struct {
	Email        string `yaml:"email" env:"ADMIN_EMAIL"`
	PasswordHash string `yaml:"password_hash" env:"ADMIN_PASSWORD_HASH"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			RateLimitPerSec:   20,
			RateLimitBurst:    40,
			ShutdownGrace:     10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Supabase: SupabaseConfig{
			StorageBucket: "pictures",
			Timeout:       30 * time.Second,
		},
		Store: StoreConfig{
			Driver:         "supabase",
			MigrationsPath: "migrations",
		},
		Chain: ChainConfig{
			PollInterval: 15 * time.Second,
			Timeout:      30 * time.Second,
		},
		Fees: FeeConfig{
			Threshold:                "6.2",
			CEOFee:                   "6.70",
			BeneficiaryFee:           "2.00",
			CEOCommissionBTC:         "0.4",
			BeneficiaryCommissionBTC: "0.14",
		},
		PriceFeed: PriceFeedConfig{
			RefreshInterval: time.Minute,
			CacheTTL:        time.Minute,
		},
	}
}

// Load reads the YAML file at path (missing file falls back to defaults),
// then applies .env and process environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Defaults plus environment only.
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// .env is optional, for local runs.
	_ = godotenv.Load()

	for _, section := range []interface{}{
		&cfg.Server, &cfg.Log, &cfg.Supabase, &cfg.Store,
		&cfg.Chain, &cfg.Fees, &cfg.PriceFeed, &cfg.Admin,
	} {
		if err := envdecode.Decode(section); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
			return nil, fmt.Errorf("environment overrides: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "supabase", "postgres", "memory":
	default:
		return fmt.Errorf("store driver %q: must be supabase, postgres or memory", c.Store.Driver)
	}
	if c.Store.Driver == "supabase" && c.Supabase.URL == "" {
		return fmt.Errorf("supabase url is required for the supabase store")
	}
	if c.Store.Driver == "postgres" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("postgres dsn is required for the postgres store")
	}
	if c.Chain.PollInterval <= 0 {
		return fmt.Errorf("chain poll interval must be positive")
	}
	for name, v := range map[string]string{
		"threshold":                  c.Fees.Threshold,
		"ceo_fee":                    c.Fees.CEOFee,
		"beneficiary_fee":            c.Fees.BeneficiaryFee,
		"ceo_commission_btc":         c.Fees.CEOCommissionBTC,
		"beneficiary_commission_btc": c.Fees.BeneficiaryCommissionBTC,
	} {
		if _, err := grant.ParseAmount(v); err != nil {
			return fmt.Errorf("fees.%s: %w", name, err)
		}
	}
	return nil
}

// Schedule returns the parsed fee schedule.
func (c *Config) Schedule() FeeSchedule {
	return FeeSchedule{
		Threshold:                grant.MustAmount(c.Fees.Threshold),
		CEOFee:                   grant.MustAmount(c.Fees.CEOFee),
		BeneficiaryFee:           grant.MustAmount(c.Fees.BeneficiaryFee),
		CEOCommissionBTC:         grant.MustAmount(c.Fees.CEOCommissionBTC),
		BeneficiaryCommissionBTC: grant.MustAmount(c.Fees.BeneficiaryCommissionBTC),
	}
}

// FeeSchedule is the fee configuration in fixed-point form.
type FeeSchedule struct {
	Threshold                grant.Amount
	CEOFee                   grant.Amount
	BeneficiaryFee           grant.Amount
	CEOCommissionBTC         grant.Amount
	BeneficiaryCommissionBTC grant.Amount
}

// FeeAmount returns the configured fee for the given type; the beneficiary
// fee scales with the batch size.
func (s FeeSchedule) FeeAmount(t grant.FeeType, beneficiaries int) grant.Amount {
	switch t {
	case grant.FeeCEO:
		return s.CEOFee
	case grant.FeeBeneficiary:
		if beneficiaries < 1 {
			beneficiaries = 1
		}
		return grant.AmountFromUnits(s.BeneficiaryFee.Units() * int64(beneficiaries))
	default:
		return 0
	}
}
