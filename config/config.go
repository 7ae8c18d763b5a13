package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nhbmarket/crypto"
	"nhbmarket/native/market"
)

type Config struct {
	Environment string    `toml:"Environment"`
	DataDir     string    `toml:"DataDir"`
	Market      Market    `toml:"market"`
	Pauses      Pauses    `toml:"pauses"`
	Logging     Logging   `toml:"logging"`
	HTTP        HTTP      `toml:"http"`
	Archive     Archive   `toml:"archive"`
	Telemetry   Telemetry `toml:"telemetry"`
}

// Load loads the configuration from the given path. A default configuration
// is written when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./market-data"
	}
	if strings.TrimSpace(cfg.HTTP.ListenAddress) == "" {
		cfg.HTTP.ListenAddress = "127.0.0.1:9464"
	}
	if cfg.HTTP.RequestsPerMinute == 0 {
		cfg.HTTP.RequestsPerMinute = 600
	}
	if cfg.HTTP.Burst == 0 {
		cfg.HTTP.Burst = 50
	}
	if cfg.Market.ExtensionInterval == 0 {
		cfg.Market.ExtensionInterval = market.DefaultExtensionInterval
	}
	if cfg.Market.FeeReceiver.IsZero() {
		cfg.Market.FeeReceiver = cfg.Market.Owner
	}
	if cfg.Market.MileagePool.IsZero() {
		cfg.Market.MileagePool = cfg.Market.Owner
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// DerivedAccount returns a deterministic placeholder account for label. It is
// used to seed default configurations and local scenarios.
func DerivedAccount(label string) crypto.Address {
	digest := ethcrypto.Keccak256([]byte("nhbmarket/" + label))
	return crypto.MustNewAddress(crypto.MarketPrefix, digest[12:])
}

// Default returns the configuration written by createDefault.
func Default() *Config {
	owner := DerivedAccount("owner")
	return &Config{
		Environment: "local",
		DataDir:     "./market-data",
		Market: Market{
			EngineAddress:     DerivedAccount("engine"),
			Owner:             owner,
			FeeReceiver:       DerivedAccount("fees"),
			MileagePool:       DerivedAccount("mileage-pool"),
			FeeBps:            market.DefaultFeeBps,
			ExtensionInterval: market.DefaultExtensionInterval,
			MileageBps:        market.DefaultMileageBps,
			PremiumMileageBps: market.DefaultPremiumMileageBps,
		},
		Logging:   Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		HTTP:      HTTP{ListenAddress: "127.0.0.1:9464", RequestsPerMinute: 600, Burst: 50},
		Archive:   Archive{Driver: ArchiveDriverSQLite, DSN: "./market-data/archive.db"},
		Telemetry: Telemetry{Endpoint: "localhost:4318", Insecure: true, Traces: true},
	}
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
