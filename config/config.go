package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

//go:embed version
var version string

//go:embed name
var name string

type LogLevel string

const (
	Debug  LogLevel = "debug"
	Info   LogLevel = "info"
	Notice LogLevel = "notice"
	Warn   LogLevel = "warn"
	Error  LogLevel = "error"
)

func GetVersion() string {
	return strings.TrimSpace(version)
}

func GetName() string {
	return strings.TrimSpace(name)
}

func GetLogLevel() LogLevel {
	if IsDebug() {
		return Debug
	}
	logLevel := os.Getenv("MX_LOG_LEVEL")
	if logLevel == "" {
		return Info
	}
	return LogLevel(logLevel)
}

func IsDebug() bool {
	return os.Getenv("MX_DEBUG") == "true"
}

func GetDBFolderPath() string {
	dbFolderPath := os.Getenv("MX_DB_FOLDER")
	if dbFolderPath == "" {
		dbFolderPath = "/etc/multix"
	}
	return dbFolderPath
}

func GetDBPath() string {
	return fmt.Sprintf("%s/%s.db", GetDBFolderPath(), GetName())
}

func GetLogFolder() string {
	logFolderPath := os.Getenv("MX_LOG_FOLDER")
	if logFolderPath == "" {
		logFolderPath = "/var/log"
	}
	return logFolderPath
}

// GetVaultKey returns the passphrase used to derive the AES key that
// protects panel credentials at rest. An empty key makes the vault refuse
// to encrypt, so misconfiguration surfaces early instead of silently
// storing plaintext.
func GetVaultKey() string {
	return os.Getenv("MX_VAULT_KEY")
}

func GetPanelTimeout() time.Duration {
	return durationEnv("MX_PANEL_TIMEOUT", 15*time.Second)
}

func GetHealthCheckInterval() time.Duration {
	return durationEnv("MX_HEALTH_INTERVAL", 60*time.Second)
}

func GetInboundSyncInterval() time.Duration {
	return durationEnv("MX_SYNC_INTERVAL", 300*time.Second)
}

// GetPanelFanout bounds how many panels are probed or synced concurrently
// by the background jobs.
func GetPanelFanout() int {
	v, err := strconv.Atoi(os.Getenv("MX_PANEL_FANOUT"))
	if err != nil || v <= 0 {
		return 8
	}
	return v
}

func GetSessionTTL() time.Duration {
	return durationEnv("MX_SESSION_TTL", 6*time.Hour)
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return def
}
