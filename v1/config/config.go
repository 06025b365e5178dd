package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-warden/v1/cleanup"
	"github.com/mirkobrombin/go-warden/v1/health"
	"github.com/mirkobrombin/go-warden/v1/manager"
)

// Init loads .env files and binds the LOCK_* environment variables. Call it
// once at process start, before reading any config.
func Init() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("lock")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	setDefaults()
}

// setDefaults registers defaults for every recognized key. Durations are in
// milliseconds.
func setDefaults() {
	viper.SetDefault("key-prefix", "lock:")
	viper.SetDefault("default-ttl", 300_000)
	viper.SetDefault("retry-count", 3)
	viper.SetDefault("retry-delay", 200)
	viper.SetDefault("retry-jitter", 100)
	viper.SetDefault("drift-factor", 0.01)
	viper.SetDefault("auto-extend-threshold", 0)

	viper.SetDefault("stale-timeout", 300_000)
	viper.SetDefault("cleanup-interval", 60_000)
	viper.SetDefault("retention", 3_600_000)

	viper.SetDefault("max-acquisition-duration", 30_000)
	viper.SetDefault("max-acquisition-attempts", 5)
	viper.SetDefault("max-failed-releases", 3)
	viper.SetDefault("error-window", 300_000)
	viper.SetDefault("error-threshold", 5)
	viper.SetDefault("alert-time-bucket", 300_000)
}

func ms(key string) time.Duration {
	return time.Duration(viper.GetInt64(key)) * time.Millisecond
}

// ManagerConfig reads the lock manager configuration from the environment.
func ManagerConfig() manager.Config {
	return manager.Config{
		KeyPrefix:           viper.GetString("key-prefix"),
		DefaultTTL:          ms("default-ttl"),
		RetryCount:          viper.GetInt("retry-count"),
		RetryDelay:          ms("retry-delay"),
		RetryJitter:         ms("retry-jitter"),
		DriftFactor:         viper.GetFloat64("drift-factor"),
		AutoExtendThreshold: ms("auto-extend-threshold"),
	}
}

// CleanupConfig reads the cleanup service configuration from the environment.
func CleanupConfig() cleanup.Config {
	return cleanup.Config{
		Interval:     ms("cleanup-interval"),
		StaleTimeout: ms("stale-timeout"),
		Retention:    ms("retention"),
	}
}

// MonitorConfig reads the health monitor thresholds from the environment.
func MonitorConfig() health.Config {
	return health.Config{
		MaxDuration:       ms("max-acquisition-duration"),
		MaxAttempts:       viper.GetInt("max-acquisition-attempts"),
		MaxFailedReleases: viper.GetUint64("max-failed-releases"),
		ErrorWindow:       ms("error-window"),
		ErrorThreshold:    viper.GetInt("error-threshold"),
		TimeBucket:        ms("alert-time-bucket"),
		Retention:         ms("retention"),
		PruneInterval:     ms("retention"),
	}
}
