package config

import "strings"

// Environment overrides, applied over the file before defaults. They let
// secrets stay out of the config file.
const (
	EnvLogLevel      = "FOXQ_LOG_LEVEL"
	EnvStorageDriver = "FOXQ_STORAGE_DRIVER"
	EnvStoragePath   = "FOXQ_STORAGE_PATH"
	EnvRedisAddr     = "FOXQ_REDIS_ADDR"
	EnvRedisPassword = "FOXQ_REDIS_PASSWORD"
	EnvDashboardAddr = "FOXQ_DASHBOARD_ADDR"
	EnvTelegramToken = "FOXQ_TELEGRAM_TOKEN"
)

// applyEnv copies every non-blank override into c and returns the names of
// the variables it used.
func applyEnv(c *Config, getenv func(string) string) []string {
	targets := []struct {
		name string
		dst  *string
	}{
		{EnvLogLevel, &c.Logging.Level},
		{EnvStorageDriver, &c.Storage.Driver},
		{EnvStoragePath, &c.Storage.Path},
		{EnvRedisAddr, &c.Storage.Redis.Addr},
		{EnvRedisPassword, &c.Storage.Redis.Password},
		{EnvDashboardAddr, &c.Dashboard.Addr},
		{EnvTelegramToken, &c.Telegram.Token},
	}
	var used []string
	for _, t := range targets {
		v := strings.TrimSpace(getenv(t.name))
		if v == "" {
			continue
		}
		*t.dst = v
		used = append(used, t.name)
	}
	return used
}
