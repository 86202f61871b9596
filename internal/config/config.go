package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL               string
	WatchFile            string
	ListenAddr           string
	PGDSN                string
	Out                  string
	Retention            int
	Workers              int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int
	SeenCapacity         int
	FlushInterval        time.Duration
	NotifyMaxAttempts    int
	TelegramToken        string
	TelegramChatID       string
	MaxSubscribers       int
	LogLevel             string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("watch-file", "./watch.yaml")
	v.SetDefault("listen-addr", ":8080")
	v.SetDefault("out", "./data/transfers.jsonl")
	v.SetDefault("retention", 1000)
	v.SetDefault("workers", 4)
	v.SetDefault("reconnect-base-delay", time.Second)
	v.SetDefault("reconnect-max-attempts", 5)
	v.SetDefault("seen-capacity", 10000)
	v.SetDefault("flush-interval", 500*time.Millisecond)
	v.SetDefault("notify-max-attempts", 3)
	v.SetDefault("max-subscribers", 256)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:               v.GetString("rpc"),
		WatchFile:            v.GetString("watch-file"),
		ListenAddr:           v.GetString("listen-addr"),
		PGDSN:                v.GetString("pg-dsn"),
		Out:                  v.GetString("out"),
		Retention:            v.GetInt("retention"),
		Workers:              v.GetInt("workers"),
		ReconnectBaseDelay:   v.GetDuration("reconnect-base-delay"),
		ReconnectMaxAttempts: v.GetInt("reconnect-max-attempts"),
		SeenCapacity:         v.GetInt("seen-capacity"),
		FlushInterval:        v.GetDuration("flush-interval"),
		NotifyMaxAttempts:    v.GetInt("notify-max-attempts"),
		TelegramToken:        v.GetString("telegram-token"),
		TelegramChatID:       v.GetString("telegram-chat-id"),
		MaxSubscribers:       v.GetInt("max-subscribers"),
		LogLevel:             v.GetString("log-level"),
	}

	return cfg, nil
}
