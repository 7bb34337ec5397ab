package main

import (
	"errors"
	"io/fs"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/xgzlucario/redview/internal/conn"
	"github.com/xgzlucario/redview/internal/session"
)

const (
	defaultConfigFileName = "redview.toml"
)

func setDefaults() {
	viper.SetDefault("redis.addr", conn.DefaultOptions.Addr)
	viper.SetDefault("redis.mode", "standalone")
	viper.SetDefault("redis.pool_size", conn.DefaultOptions.PoolSize)
	viper.SetDefault("redis.workers", conn.DefaultOptions.Workers)
	viper.SetDefault("redis.command_timeout", conn.DefaultOptions.CommandTimeout)
	viper.SetDefault("scan.database_limit", session.DefaultConfig.DatabaseScanLimit)
	viper.SetDefault("scan.page_size", session.DefaultConfig.ScanCount)
	viper.SetDefault("keys.pattern", session.DefaultConfig.KeysPattern)
	viper.SetDefault("keys.separator", session.DefaultConfig.NamespaceSeparator)
	viper.SetDefault("aggregate.timeout", session.DefaultConfig.AggregateTimeout)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("view.db", 0)
}

// initConfig loads fileName. A missing default file is not an error,
// every key has a default.
func initConfig(fileName string) error {
	setDefaults()
	viper.SetConfigFile(fileName)
	if err := viper.ReadInConfig(); err != nil {
		if fileName == defaultConfigFileName && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func configGetString(key string) string { return viper.GetString(key) }

func configGetInt(key string) int { return viper.GetInt(key) }

func configGetInt64(key string) int64 { return viper.GetInt64(key) }

func configGetDuration(key string) time.Duration { return viper.GetDuration(key) }

func configGetStrings(key string) []string { return viper.GetStringSlice(key) }

func configGetLogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(configGetString("log.level"))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func configGetConnOptions(logger zerolog.Logger) conn.Options {
	return conn.Options{
		Mode:           conn.ParseMode(configGetString("redis.mode")),
		Addr:           configGetString("redis.addr"),
		Username:       configGetString("redis.username"),
		Password:       configGetString("redis.password"),
		ClusterAddrs:   configGetStrings("redis.cluster_addrs"),
		SentinelMaster: configGetString("redis.sentinel_master"),
		SentinelAddrs:  configGetStrings("redis.sentinel_addrs"),
		PoolSize:       configGetInt("redis.pool_size"),
		Workers:        configGetInt("redis.workers"),
		CommandTimeout: configGetDuration("redis.command_timeout"),
		Logger:         logger,
	}
}

func configGetSessionConfig(logger zerolog.Logger) session.Config {
	cfg := session.DefaultConfig
	cfg.DatabaseScanLimit = configGetInt("scan.database_limit")
	cfg.ScanCount = configGetInt64("scan.page_size")
	cfg.KeysPattern = configGetString("keys.pattern")
	cfg.NamespaceSeparator = configGetString("keys.separator")
	cfg.AggregateTimeout = configGetDuration("aggregate.timeout")
	cfg.Model.Logger = logger
	cfg.Logger = logger
	return cfg
}
