package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the environment prefix read by LoadConfig.
const EnvPrefix = "AMPD"

// Config holds the runtime settings. Zero fields take their defaults.
type Config struct {
	// QueryTimeout is the ceiling applied to every query, stream and pipe.
	QueryTimeout time.Duration `envconfig:"QUERY_TIMEOUT" default:"1m"`
	// SendTimeout bounds the mailbox offer of fire-and-forget messages.
	SendTimeout time.Duration `envconfig:"SEND_TIMEOUT" default:"1m"`
	// DebugSendTimeout replaces SendTimeout for debug proxies.
	DebugSendTimeout time.Duration `envconfig:"DEBUG_SEND_TIMEOUT" default:"10s"`
	// Debug selects the diagnostic message factory for new proxies.
	Debug bool `envconfig:"DEBUG" default:"false"`

	MailboxSize        int `envconfig:"MAILBOX_SIZE" default:"1024"`
	MaxConcurrentTasks int `envconfig:"MAX_CONCURRENT_TASKS" default:"32"`

	TimerTick      time.Duration `envconfig:"TIMER_TICK" default:"1ms"`
	TimerWheelSize int64         `envconfig:"TIMER_WHEEL_SIZE" default:"512"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		QueryTimeout:       time.Minute,
		SendTimeout:        time.Minute,
		DebugSendTimeout:   10 * time.Second,
		MailboxSize:        1024,
		MaxConcurrentTasks: 32,
		TimerTick:          time.Millisecond,
		TimerWheelSize:     512,
	}
}

// LoadConfig reads AMPD_* environment variables over the defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueryTimeout == 0 {
		c.QueryTimeout = d.QueryTimeout
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.DebugSendTimeout == 0 {
		c.DebugSendTimeout = d.DebugSendTimeout
	}
	if c.MailboxSize == 0 {
		c.MailboxSize = d.MailboxSize
	}
	if c.MaxConcurrentTasks == 0 {
		c.MaxConcurrentTasks = d.MaxConcurrentTasks
	}
	if c.TimerTick == 0 {
		c.TimerTick = d.TimerTick
	}
	if c.TimerWheelSize == 0 {
		c.TimerWheelSize = d.TimerWheelSize
	}
	return c
}

// Validate checks every setting and reports all violations.
func (c Config) Validate() error {
	var errs []error
	if c.QueryTimeout <= 0 {
		errs = append(errs, errors.New("query timeout must be positive"))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, errors.New("send timeout must be positive"))
	}
	if c.DebugSendTimeout <= 0 {
		errs = append(errs, errors.New("debug send timeout must be positive"))
	}
	if c.MailboxSize <= 0 {
		errs = append(errs, errors.New("mailbox size must be positive"))
	}
	if c.TimerTick < time.Millisecond {
		errs = append(errs, errors.New("timer tick must be at least 1ms"))
	}
	if c.TimerWheelSize <= 0 {
		errs = append(errs, errors.New("timer wheel size must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
