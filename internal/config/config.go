package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "turbo", "password",
}

type Config struct {
	Port                int    `env:"PORT" envDefault:"8000"`
	UploadDir           string `env:"UPLOAD_DIR" envDefault:"uploads"`
	DatabaseURL         string `env:"DATABASE_URL" envDefault:"sqlite://uploads/.metadata/turbo.db"`
	RedisURL            string `env:"REDIS_URL"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
	PINTTLSeconds       int    `env:"PIN_TTL_SECONDS" envDefault:"120"`
	MaxSessions         int    `env:"MAX_SESSIONS" envDefault:"0"`
	OverwriteDuplicates bool   `env:"OVERWRITE_DUPLICATES" envDefault:"false"`
	HostTokenHash       string `env:"HOST_TOKEN_HASH"`
	TrustLoopbackAsHost bool   `env:"TRUST_LOOPBACK_AS_HOST" envDefault:"true"`
	FingerprintSecret   string `env:"FINGERPRINT_SECRET" envDefault:"dev-secret-change-me"`
	PublicHost          string `env:"PUBLIC_HOST"`
	PublicScheme        string `env:"PUBLIC_SCHEME" envDefault:"https"`
	MDNSEnabled         bool   `env:"MDNS_ENABLED" envDefault:"true"`
	MDNSInstance        string `env:"MDNS_INSTANCE" envDefault:"Turbo Transfer"`
	StaticDir           string `env:"STATIC_DIR" envDefault:"static_app"`
	CommandsDryRun      bool   `env:"COMMANDS_DRY_RUN" envDefault:"false"`
	ClipboardMaxBytes   int    `env:"CLIPBOARD_MAX_BYTES" envDefault:"1048576"`
	VerifyRatePerMin    int    `env:"VERIFY_RATE_PER_MIN" envDefault:"10"`
	TLSCertFile         string `env:"TLS_CERT_FILE"`
	TLSKeyFile          string `env:"TLS_KEY_FILE"`
}

func (c *Config) PINTTL() time.Duration {
	return time.Duration(c.PINTTLSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func (c *Config) Validate() error {
	if c.PINTTLSeconds <= 0 {
		return fmt.Errorf("PIN_TTL_SECONDS must be positive")
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("MAX_SESSIONS must be zero (unbounded) or positive")
	}
	if c.PublicScheme != "http" && c.PublicScheme != "https" {
		return fmt.Errorf("PUBLIC_SCHEME must be http or https")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	if c.HostTokenHash != "" {
		if !strings.HasPrefix(c.HostTokenHash, "$2a$") &&
			!strings.HasPrefix(c.HostTokenHash, "$2b$") &&
			!strings.HasPrefix(c.HostTokenHash, "$2y$") {
			return fmt.Errorf("HOST_TOKEN_HASH must be a bcrypt hash (generate with: go run scripts/hash-password.go <token>)")
		}
	}

	if !c.TrustLoopbackAsHost && c.HostTokenHash == "" {
		return fmt.Errorf("TRUST_LOOPBACK_AS_HOST=false requires HOST_TOKEN_HASH, otherwise no request can act as host")
	}

	if err := validateSecret("FINGERPRINT_SECRET", c.FingerprintSecret); err != nil {
		log.Warn().Err(err).Msg("weak fingerprint secret: blocked-device fingerprints are guessable")
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s should be at least 32 characters (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default", name)
		}
	}
	return nil
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
