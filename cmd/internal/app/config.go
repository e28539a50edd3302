package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// NATSURL enables the NATS notification sink when set.
	NATSURL string

	// Browser origin policy for the JSON API. Entries are exact origins,
	// optionally with a trailing ":*" to accept any port.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Bootstrap admin credentials. When both are set and the username does
	// not exist yet, the user is created at startup with admin capability.
	BootstrapAdminUser     string
	BootstrapAdminPassword string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, QRPASS_CREDENTIAL_HMAC_KEY MUST be set (>= 32 bytes) and
	// credential signing must be HMAC-based.
	RequireCredentialHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("QRPASS_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("QRPASS_LOG_LEVEL", "info"),
		LogFormat: EnvString("QRPASS_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("QRPASS_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("QRPASS_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("QRPASS_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("QRPASS_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("QRPASS_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("QRPASS_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("QRPASS_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("QRPASS_DB_MIN_CONNS", 0),

		NATSURL: EnvString("QRPASS_NATS_URL", ""),

		CORSAllowedOrigins:   EnvStrings("QRPASS_CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "http://127.0.0.1:*"}),
		CORSAllowCredentials: EnvBool("QRPASS_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("QRPASS_CORS_MAX_AGE_SECONDS", 600),

		BootstrapAdminUser:     EnvString("QRPASS_BOOTSTRAP_ADMIN_USER", ""),
		BootstrapAdminPassword: EnvString("QRPASS_BOOTSTRAP_ADMIN_PASSWORD", ""),

		ReadinessRequireDB: EnvBool("QRPASS_READINESS_REQUIRE_DB", false),

		RequireCredentialHMAC: EnvBool("QRPASS_REQUIRE_CREDENTIAL_HMAC", false),
	}
}
