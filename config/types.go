package config

import (
	"nhbmarket/crypto"
	nativecommon "nhbmarket/native/common"
	"nhbmarket/native/market"
)

// Market captures the engine parameters applied at startup. Accounts are
// written as bech32 or 0x-prefixed hex addresses.
type Market struct {
	EngineAddress     crypto.Address `toml:"EngineAddress"`
	Owner             crypto.Address `toml:"Owner"`
	FeeReceiver       crypto.Address `toml:"FeeReceiver"`
	MileagePool       crypto.Address `toml:"MileagePool"`
	FeeBps            uint32         `toml:"FeeBps"`
	ExtensionInterval uint64         `toml:"ExtensionInterval"`
	MileageBps        uint32         `toml:"MileageBps"`
	PremiumMileageBps uint32         `toml:"PremiumMileageBps"`
}

// Params converts the section into engine parameters.
func (m Market) Params() market.Params {
	return market.Params{
		Owner:             m.Owner.Array(),
		FeeBps:            m.FeeBps,
		FeeReceiver:       m.FeeReceiver.Array(),
		ExtensionInterval: m.ExtensionInterval,
		MileageBps:        m.MileageBps,
		PremiumMileageBps: m.PremiumMileageBps,
		MileagePool:       m.MileagePool.Array(),
	}
}

// Pauses toggles trading per native module at startup.
type Pauses struct {
	Market bool `toml:"Market"`
}

// Set returns the pause switches keyed by native module name.
func (p Pauses) Set() nativecommon.PauseSet {
	set := nativecommon.PauseSet{}
	set.Set("market", p.Market)
	return set
}

// IsPaused implements the native pause view.
func (p Pauses) IsPaused(module string) bool { return p.Set().IsPaused(module) }

// Logging controls where structured logs go. An empty File keeps logs on
// stdout; otherwise the file is rotated at MaxSizeMB.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// HTTP configures the read-only marketd endpoints. Each client is limited to
// RequestsPerMinute with the given Burst.
type HTTP struct {
	ListenAddress     string  `toml:"ListenAddress"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

const (
	ArchiveDriverSQLite   = "sqlite"
	ArchiveDriverPostgres = "postgres"
)

// Archive selects the event archive backend. An empty Driver disables the
// archive.
type Archive struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Enabled reports whether events should be archived.
func (a Archive) Enabled() bool { return a.Driver != "" }

// Telemetry configures the OTLP/HTTP exporters. Headers uses the
// OTEL_EXPORTER_OTLP_HEADERS form (key=value,key2=value2).
type Telemetry struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}
