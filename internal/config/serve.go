package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// ServeConfig holds configuration for the serve command.
type ServeConfig struct {
	Engine EngineConfig

	Listen         string
	PGDSN          string
	EventsOut      string
	RPCURL         string
	RateLimitRPS   float64
	RateLimitBurst int
	SnapshotEvery  time.Duration
	LogLevel       string
	// Faucet enables POST /v1/faucet, which mints into the in-memory ledger.
	Faucet bool
	// IdentityHeader is a header set by a trusted proxy naming the acting
	// account. Empty trusts the account in the request body.
	IdentityHeader string
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := load(cfgFile, flags, engineDefaults(map[string]any{
		"listen":           ":8080",
		"events-out":       "./data/events.jsonl",
		"rate-limit-rps":   50.0,
		"rate-limit-burst": 100,
		"snapshot-every":   time.Minute,
		"log-level":        "info",
		"faucet":           false,
		"identity-header":  "",
	}))
	if err != nil {
		return ServeConfig{}, err
	}

	return ServeConfig{
		Engine:         loadEngine(v),
		Listen:         v.GetString("listen"),
		PGDSN:          v.GetString("pg-dsn"),
		EventsOut:      v.GetString("events-out"),
		RPCURL:         v.GetString("rpc"),
		RateLimitRPS:   v.GetFloat64("rate-limit-rps"),
		RateLimitBurst: v.GetInt("rate-limit-burst"),
		SnapshotEvery:  v.GetDuration("snapshot-every"),
		LogLevel:       v.GetString("log-level"),
		Faucet:         v.GetBool("faucet"),
		IdentityHeader: strings.TrimSpace(v.GetString("identity-header")),
	}, nil
}
