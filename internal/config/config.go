// Package config parses the automatus server configuration from flags
// with AUTOMATUS_* environment fallbacks.
package config

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig is the full configuration snapshot consumed by the bridge.
type ServerConfig struct {
	Listen        string
	DBPath        string
	WorkspaceRoot string
	SigningSecret string
	LogLevel      string

	TLSMode      string
	TLSHost      string
	CertCacheDir string
	TLSCertFile  string
	TLSKeyFile   string

	TokenTTL          time.Duration
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	LedgerInterval    time.Duration

	MessageLimit     int
	MessageWindow    time.Duration
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerCoolDown  time.Duration
	AuditRetention   int
}

const defaultListen = ":8765"
const defaultDBPath = "./automatus.db"
const defaultCertCacheDir = "./cert"
const defaultTokenTTL = 24 * time.Hour
const defaultHeartbeatInterval = 30 * time.Second
const defaultConnectionTimeout = 30 * time.Second
const defaultLedgerInterval = time.Hour
const defaultMessageLimit = 100
const defaultMessageWindow = 60 * time.Second
const defaultBreakerThreshold = 5
const defaultBreakerWindow = 2 * time.Minute
const defaultAuditRetention = 1000

// ParseServerFlags parses the serve subcommand's flags over AUTOMATUS_*
// environment defaults and validates the result.
func ParseServerFlags(args []string) (ServerConfig, error) {
	cfg := ServerConfig{
		Listen:            envOrDefault("AUTOMATUS_LISTEN", defaultListen),
		DBPath:            envOrDefault("AUTOMATUS_DB_PATH", defaultDBPath),
		WorkspaceRoot:     envOrDefault("AUTOMATUS_WORKSPACE", "."),
		SigningSecret:     envOrDefault("AUTOMATUS_SIGNING_SECRET", ""),
		LogLevel:          envOrDefault("AUTOMATUS_LOG_LEVEL", "info"),
		TLSMode:           envOrDefault("AUTOMATUS_TLS_MODE", "off"),
		TLSHost:           envOrDefault("AUTOMATUS_TLS_HOST", ""),
		CertCacheDir:      envOrDefault("AUTOMATUS_CERT_CACHE_DIR", defaultCertCacheDir),
		TLSCertFile:       envOrDefault("AUTOMATUS_TLS_CERT_FILE", ""),
		TLSKeyFile:        envOrDefault("AUTOMATUS_TLS_KEY_FILE", ""),
		TokenTTL:          envDurationOrDefault("AUTOMATUS_TOKEN_TTL", defaultTokenTTL),
		HeartbeatInterval: envDurationOrDefault("AUTOMATUS_HEARTBEAT_INTERVAL", defaultHeartbeatInterval),
		ConnectionTimeout: envDurationOrDefault("AUTOMATUS_CONNECTION_TIMEOUT", defaultConnectionTimeout),
		LedgerInterval:    defaultLedgerInterval,
		MessageLimit:      envIntOrDefault("AUTOMATUS_MESSAGE_LIMIT", defaultMessageLimit),
		MessageWindow:     defaultMessageWindow,
		BreakerThreshold:  envIntOrDefault("AUTOMATUS_BREAKER_THRESHOLD", defaultBreakerThreshold),
		BreakerWindow:     defaultBreakerWindow,
		AuditRetention:    envIntOrDefault("AUTOMATUS_AUDIT_RETENTION", defaultAuditRetention),
	}

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "Bridge listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.WorkspaceRoot, "workspace", cfg.WorkspaceRoot, "Workspace root served by the local capability provider")
	fs.StringVar(&cfg.SigningSecret, "signing-secret", cfg.SigningSecret, "Token signing secret (generated and persisted if empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.TLSMode, "tls-mode", cfg.TLSMode, "TLS mode: off|static|auto")
	fs.StringVar(&cfg.TLSHost, "tls-host", cfg.TLSHost, "Public hostname for auto TLS")
	fs.StringVar(&cfg.CertCacheDir, "cert-cache-dir", cfg.CertCacheDir, "TLS cert cache dir")
	fs.StringVar(&cfg.TLSCertFile, "tls-cert-file", cfg.TLSCertFile, "Static TLS cert PEM file")
	fs.StringVar(&cfg.TLSKeyFile, "tls-key-file", cfg.TLSKeyFile, "Static TLS key PEM file")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "Issued token validity window")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "Connection sweep interval")
	fs.DurationVar(&cfg.ConnectionTimeout, "connection-timeout", cfg.ConnectionTimeout, "Idle connection timeout")
	fs.IntVar(&cfg.MessageLimit, "message-limit", cfg.MessageLimit, "Per-connection messages allowed per window")
	fs.IntVar(&cfg.BreakerThreshold, "breaker-threshold", cfg.BreakerThreshold, "Consecutive failures before a breaker opens")
	fs.DurationVar(&cfg.BreakerCoolDown, "breaker-cooldown", cfg.BreakerCoolDown, "Optional breaker cool-down (0 disables)")
	fs.IntVar(&cfg.AuditRetention, "audit-retention", cfg.AuditRetention, "In-memory audit trail size")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.TLSMode = strings.ToLower(strings.TrimSpace(cfg.TLSMode))
	switch cfg.TLSMode {
	case "off", "static", "auto":
	default:
		return cfg, errors.New("tls mode must be one of: off, static, auto")
	}
	if cfg.TLSMode == "static" && (cfg.TLSCertFile == "" || cfg.TLSKeyFile == "") {
		return cfg, errors.New("static tls mode requires --tls-cert-file and --tls-key-file")
	}
	if cfg.TLSMode == "auto" && cfg.TLSHost == "" {
		return cfg, errors.New("auto tls mode requires --tls-host")
	}
	if cfg.TokenTTL <= 0 {
		return cfg, errors.New("token ttl must be > 0")
	}
	if cfg.HeartbeatInterval <= 0 {
		return cfg, errors.New("heartbeat interval must be > 0")
	}
	if cfg.ConnectionTimeout <= 0 {
		return cfg, errors.New("connection timeout must be > 0")
	}
	if cfg.MessageLimit <= 0 {
		return cfg, errors.New("message limit must be > 0")
	}
	if cfg.BreakerThreshold <= 0 {
		return cfg, errors.New("breaker threshold must be > 0")
	}
	if cfg.BreakerCoolDown < 0 {
		return cfg, errors.New("breaker cool-down must be >= 0")
	}
	if cfg.AuditRetention <= 0 {
		return cfg, errors.New("audit retention must be > 0")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
