// Package config defines all configuration for the market maker. Unlike the
// teacher, every value comes from the environment — there is no YAML file —
// per the target system's pure-env-var configuration surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, assembled entirely from env vars.
type Config struct {
	DryRun bool

	Wallet WalletConfig
	API    APIConfig // optional pre-derived L2 credentials

	ExchangeBaseURL string
	WSMarketURL     string
	WSUserURL       string

	Sheets SheetsConfig
	Risk   RiskConfig
	Store  StoreConfig

	Logging LoggingConfig
}

// WalletConfig holds the Ethereum wallet used for signing orders.
type WalletConfig struct {
	PrivateKey    string
	SignatureType int
	FunderAddress string
	ChainID       int
}

// APIConfig holds optional pre-derived L2 credentials. If empty, the bot
// derives them via L1 auth on startup.
type APIConfig struct {
	ApiKey     string
	Secret     string
	Passphrase string
}

// SheetsConfig points at the externally-curated market/parameter source.
type SheetsConfig struct {
	SpreadsheetURL  string
	CredentialsFile string
}

// RiskConfig holds the risk knobs read from the environment. MinMergeSize
// is passed to the position manager; MinLiquidity, MinBookRatio and
// AbsolutePositionCap are loaded but not read by the strategy loop, which
// uses fixed values for those checks.
type RiskConfig struct {
	MinLiquidity        float64
	MinBookRatio        float64
	AbsolutePositionCap float64
	MinMergeSize        float64
}

// StoreConfig sets where risk-event JSON files are persisted.
type StoreConfig struct {
	DataDir string
}

// LoggingConfig controls log level, encoding, and rotated-file directory.
type LoggingConfig struct {
	Level string
	Format string
	Dir   string
}

// Load reads configuration purely from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	bind := func(keys ...string) {
		for _, k := range keys {
			_ = v.BindEnv(k)
		}
	}
	bind(
		"PK", "BROWSER_ADDRESS", "SIGNATURE_TYPE", "CHAIN_ID",
		"POLY_API_KEY", "POLY_API_SECRET", "POLY_PASSPHRASE",
		"POLYMARKET_API_URL", "WEBSOCKET_URL", "WEBSOCKET_USER_URL",
		"SPREADSHEET_URL", "GOOGLE_CREDENTIALS_FILE",
		"MIN_LIQUIDITY", "MIN_BOOK_RATIO", "ABSOLUTE_POSITION_CAP", "MIN_MERGE_SIZE",
		"DATA_DIR", "LOG_LEVEL", "LOG_FORMAT", "LOG_DIR",
		"DRY_RUN",
	)

	wsBase := strings.TrimRight(stringOr(v.GetString("WEBSOCKET_URL"), "wss://ws-subscriptions-clob.polymarket.com/ws"), "/")

	cfg := &Config{
		Wallet: WalletConfig{
			PrivateKey:    v.GetString("PK"),
			FunderAddress: v.GetString("BROWSER_ADDRESS"),
			SignatureType: v.GetInt("SIGNATURE_TYPE"),
			ChainID:       intOr(v.GetString("CHAIN_ID"), 137),
		},
		API: APIConfig{
			ApiKey:     v.GetString("POLY_API_KEY"),
			Secret:     v.GetString("POLY_API_SECRET"),
			Passphrase: v.GetString("POLY_PASSPHRASE"),
		},
		ExchangeBaseURL: stringOr(v.GetString("POLYMARKET_API_URL"), "https://clob.polymarket.com"),
		WSMarketURL:     wsBase + "/market",
		WSUserURL:       stringOr(v.GetString("WEBSOCKET_USER_URL"), wsBase+"/user"),
		Sheets: SheetsConfig{
			SpreadsheetURL:  v.GetString("SPREADSHEET_URL"),
			CredentialsFile: stringOr(v.GetString("GOOGLE_CREDENTIALS_FILE"), "service-account.json"),
		},
		Risk: RiskConfig{
			MinLiquidity:        floatOr(v.GetString("MIN_LIQUIDITY"), 100),
			MinBookRatio:        floatOr(v.GetString("MIN_BOOK_RATIO"), 0.0),
			AbsolutePositionCap: floatOr(v.GetString("ABSOLUTE_POSITION_CAP"), 250),
			MinMergeSize:        floatOr(v.GetString("MIN_MERGE_SIZE"), 1.0),
		},
		Store: StoreConfig{
			DataDir: stringOr(v.GetString("DATA_DIR"), "positions"),
		},
		Logging: LoggingConfig{
			Level:  stringOr(v.GetString("LOG_LEVEL"), "info"),
			Format: stringOr(v.GetString("LOG_FORMAT"), "json"),
			Dir:    stringOr(v.GetString("LOG_DIR"), "logs"),
		},
		DryRun: v.GetString("DRY_RUN") == "true" || v.GetString("DRY_RUN") == "1",
	}

	return cfg, nil
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOr(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatOr(v string, def float64) float64 {
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// Validate checks all required fields and aggregates every failure into one
// error, rather than failing on the first missing field.
func (c *Config) Validate() error {
	var problems []string

	if c.Wallet.PrivateKey == "" {
		problems = append(problems, "PK is required")
	}
	if c.Wallet.FunderAddress == "" {
		problems = append(problems, "BROWSER_ADDRESS is required")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		problems = append(problems, "SIGNATURE_TYPE must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Sheets.SpreadsheetURL == "" {
		problems = append(problems, "SPREADSHEET_URL is required")
	}
	if c.Sheets.CredentialsFile == "" {
		problems = append(problems, "GOOGLE_CREDENTIALS_FILE is required")
	} else if _, err := os.Stat(c.Sheets.CredentialsFile); err != nil {
		problems = append(problems, fmt.Sprintf("GOOGLE_CREDENTIALS_FILE %q does not exist", c.Sheets.CredentialsFile))
	}
	if c.Wallet.ChainID <= 0 {
		problems = append(problems, "CHAIN_ID must be > 0")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}
