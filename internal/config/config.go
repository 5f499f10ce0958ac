package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "AMM"

// load merges a config file, AMM_* environment variables and flags over the
// given defaults. Without cfgFile, ./config.* is read when present.
func load(cfgFile string, flags *pflag.FlagSet, defaults map[string]any) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}

// EngineConfig is shared by the commands that run an engine.
type EngineConfig struct {
	Custody      string
	RewardToken  string
	DefaultFee   uint32
	AutoFill     bool
	MaxAutoFills int
}

func engineDefaults(defaults map[string]any) map[string]any {
	defaults["default-fee-bps"] = 30
	defaults["auto-fill"] = true
	defaults["max-auto-fills"] = 16
	return defaults
}

func loadEngine(v *viper.Viper) EngineConfig {
	return EngineConfig{
		Custody:      strings.TrimSpace(v.GetString("custody")),
		RewardToken:  strings.TrimSpace(v.GetString("reward-token")),
		DefaultFee:   v.GetUint32("default-fee-bps"),
		AutoFill:     v.GetBool("auto-fill"),
		MaxAutoFills: v.GetInt("max-auto-fills"),
	}
}
