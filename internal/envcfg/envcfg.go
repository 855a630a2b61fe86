// Package envcfg binds the MAEGASHIRA_* environment variables (§6) onto a
// Config struct, the way the rivaas app package's env.go binds RIVAAS_* vars:
// named constants per variable, a prefix scan, and per-field parse errors
// collected rather than returned on first failure.
package envcfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Prefix is prepended to every Maegashira environment variable name.
const Prefix = "MAEGASHIRA_"

// Environment variable name suffixes, per spec §6.
const (
	VarHostname      = "HOSTNAME"
	VarPort          = "PORT"
	VarClustering    = "CLUSTERING"
	VarRedisHost     = "REDIS_HOST"
	VarRedisPort     = "REDIS_PORT"
	VarRedisPassword = "REDIS_PASSWORD"
	VarAPIEnabled    = "API_ENABLED"
	VarAPIHostname   = "API_HOSTNAME"
	VarAPIPort       = "API_PORT"
	VarAPIKey        = "API_KEY"
	VarLogLevel      = "LOG_LEVEL"
	VarTimeout       = "TIMEOUT"
)

// Config holds the settings CLI flags default to, then environment
// variables may override. Zero values mean "not set"; ApplyTo only
// overwrites a field when the corresponding variable is present.
type Config struct {
	Hostname      string
	Port          int
	Clustering    int
	RedisHost     string
	RedisPort     int
	RedisPassword string
	APIEnabled    bool
	APIHostname   string
	APIPort       int
	APIKey        string
	LogLevel      string
	TimeoutMS     int
}

// ApplyTo overrides each field of cfg whose MAEGASHIRA_* environment
// variable is set to a non-empty value, returning every parse error
// encountered (not just the first).
func ApplyTo(cfg *Config) []error {
	var errs []error

	applyString(VarHostname, &cfg.Hostname)
	applyInt(VarPort, &cfg.Port, &errs)
	applyInt(VarClustering, &cfg.Clustering, &errs)
	applyString(VarRedisHost, &cfg.RedisHost)
	applyInt(VarRedisPort, &cfg.RedisPort, &errs)
	applyString(VarRedisPassword, &cfg.RedisPassword)
	if v, ok := applyBool(VarAPIEnabled); ok {
		cfg.APIEnabled = v
	}
	applyString(VarAPIHostname, &cfg.APIHostname)
	applyInt(VarAPIPort, &cfg.APIPort, &errs)
	applyString(VarAPIKey, &cfg.APIKey)
	applyString(VarLogLevel, &cfg.LogLevel)
	applyInt(VarTimeout, &cfg.TimeoutMS, &errs)

	return errs
}

func applyString(name string, target *string) {
	if v := os.Getenv(Prefix + name); v != "" {
		*target = v
	}
}

func applyInt(name string, target *int, errs *[]error) {
	full := Prefix + name
	v := os.Getenv(full)
	if v == "" {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid environment variable %s: %w", full, err))
		return
	}
	*target = parsed
}

func applyBool(name string) (value, isSet bool) {
	v := os.Getenv(Prefix + name)
	if v == "" {
		return false, false
	}
	v = strings.ToLower(v)
	return v == "true" || v == "1" || v == "yes", true
}
