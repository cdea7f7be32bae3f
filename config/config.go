package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"escrow-backend/core/escrow"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "escrow"

// Config is read from ESCROW_* environment variables, after an optional .env file.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":3001"`
	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"` // memory | postgres
	PGDSN       string `envconfig:"PG_DSN"`

	RedisURL    string `envconfig:"REDIS_URL"`
	RedisStream string `envconfig:"REDIS_STREAM" default:"escrow:events"`
	RedisMaxLen int64  `envconfig:"REDIS_MAXLEN" default:"100000"`

	IPFSAPIURL string `envconfig:"IPFS_API_URL" default:"http://127.0.0.1:5001"`

	ProgramID     string `envconfig:"PROGRAM_ID"`
	FeeOwner      string `envconfig:"FEE_OWNER"`
	MintAuthority string `envconfig:"MINT_AUTHORITY"`
	KeyFile       string `envconfig:"KEY_FILE" default:"escrow-keypair.json"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`

	RateLimit     float64       `envconfig:"RATE_LIMIT" default:"20"`
	RateBurst     int           `envconfig:"RATE_BURST" default:"40"`
	SignatureSkew time.Duration `envconfig:"SIGNATURE_SKEW" default:"5m"`
	CORSOrigins   []string      `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load reads .env (if present) and the environment, then validates.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.PGDSN == "" {
			return errors.New("ESCROW_PG_DSN required when ESCROW_STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return errors.New("rate limit and burst must be positive")
	}
	for name, v := range map[string]string{
		"ESCROW_PROGRAM_ID":     c.ProgramID,
		"ESCROW_FEE_OWNER":      c.FeeOwner,
		"ESCROW_MINT_AUTHORITY": c.MintAuthority,
	} {
		if v == "" {
			continue
		}
		if _, err := escrow.PubkeyFromBase58(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Program builds the escrow program identities. A missing fee owner falls back
// to fallback, normally the operator key.
func (c *Config) Program(fallback escrow.Pubkey) (escrow.Config, error) {
	out := escrow.Config{ProgramID: escrow.DefaultProgramID, FeeOwner: fallback}
	var err error
	if c.ProgramID != "" {
		if out.ProgramID, err = escrow.PubkeyFromBase58(c.ProgramID); err != nil {
			return out, err
		}
	}
	if c.FeeOwner != "" {
		if out.FeeOwner, err = escrow.PubkeyFromBase58(c.FeeOwner); err != nil {
			return out, err
		}
	}
	if c.MintAuthority != "" {
		if out.MintAuthority, err = escrow.PubkeyFromBase58(c.MintAuthority); err != nil {
			return out, err
		}
	}
	return out, nil
}
