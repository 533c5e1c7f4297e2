// Package config reads service settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Ledger backends.
const (
	BackendRPC    = "rpc"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Ledger selects and tunes the key-value ledger client.
type Ledger struct {
	Backend     string        `env:"LEDGER_BACKEND" envDefault:"rpc"`
	Endpoints   []string      `env:"LEDGER_ENDPOINTS" envSeparator:"," envDefault:"http://localhost:8545"`
	Timeout     time.Duration `env:"LEDGER_TIMEOUT" envDefault:"30s"`
	RPS         int           `env:"LEDGER_RPS" envDefault:"20"`
	Burst       int           `env:"LEDGER_BURST" envDefault:"40"`
	ConfirmPoll time.Duration `env:"LEDGER_CONFIRM_POLL" envDefault:"500ms"`
	KeyPrefix   string        `env:"LEDGER_KEY_PREFIX" envDefault:"ledger:"`
}

// Server configures cmd/server.
type Server struct {
	Addr          string        `env:"ADDR" envDefault:":3000"`
	Ledger        Ledger
	RedisEnabled  bool          `env:"REDIS_ENABLED" envDefault:"false"`
	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"8h"`
	RefreshCron   string        `env:"REFRESH_CRON" envDefault:"*/15 * * * * *"`
	TxWorkers     int           `env:"TX_WORKERS" envDefault:"8"`
	TxQueue       int           `env:"TX_QUEUE" envDefault:"64"`
	TxSuccessTTL  time.Duration `env:"TX_SUCCESS_TTL" envDefault:"2s"`
	TxErrorTTL    time.Duration `env:"TX_ERROR_TTL" envDefault:"3s"`
	TxRetention   time.Duration `env:"TX_RETENTION" envDefault:"10m"`
	CORSOrigin    string        `env:"CORS_ORIGIN" envDefault:"*"`
	Production    bool          `env:"PRODUCTION" envDefault:"false"`
}

// DevLedger configures cmd/devledger.
type DevLedger struct {
	Addr         string        `env:"DEVLEDGER_ADDR" envDefault:":8545"`
	Backend      string        `env:"DEVLEDGER_BACKEND" envDefault:"memory"`
	ConfirmDelay time.Duration `env:"DEVLEDGER_CONFIRM_DELAY" envDefault:"1s"`
	RejectPrefix string        `env:"DEVLEDGER_REJECT_PREFIX"`
	KeyPrefix    string        `env:"LEDGER_KEY_PREFIX" envDefault:"ledger:"`
	TxRetention  time.Duration `env:"DEVLEDGER_TX_RETENTION" envDefault:"1h"`
}

// LoadServer parses Server and checks it.
func LoadServer() (Server, error) {
	var c Server
	if err := env.Parse(&c); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	return c, c.Validate()
}

// Validate rejects settings the server cannot run with.
func (c Server) Validate() error {
	switch c.Ledger.Backend {
	case BackendRPC:
		if len(c.Ledger.Endpoints) == 0 {
			return fmt.Errorf("LEDGER_ENDPOINTS is required for the rpc backend")
		}
	case BackendRedis:
		if !c.RedisEnabled {
			return fmt.Errorf("LEDGER_BACKEND=redis requires REDIS_ENABLED=true")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.Ledger.Backend)
	}
	if len(c.SessionSecret) < 16 {
		return fmt.Errorf("SESSION_SECRET must be at least 16 bytes")
	}
	if c.TxWorkers <= 0 {
		return fmt.Errorf("TX_WORKERS must be positive")
	}
	return nil
}

// LoadDevLedger parses DevLedger and checks it.
func LoadDevLedger() (DevLedger, error) {
	var c DevLedger
	if err := env.Parse(&c); err != nil {
		return DevLedger{}, fmt.Errorf("parse env: %w", err)
	}
	if c.Backend != BackendMemory && c.Backend != BackendRedis {
		return DevLedger{}, fmt.Errorf("DEVLEDGER_BACKEND must be memory or redis, got %q", c.Backend)
	}
	if c.ConfirmDelay < 0 {
		return DevLedger{}, fmt.Errorf("DEVLEDGER_CONFIRM_DELAY must not be negative")
	}
	return c, nil
}
