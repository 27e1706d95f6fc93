package watchdog

import (
	"fmt"
	"time"
)

// MinCheckInterval is the floor applied to every check interval.
const MinCheckInterval = time.Second

// Config holds the watchdog tunables.
type Config struct {
	CheckInterval      time.Duration `mapstructure:"check_interval"`
	HeartbeatTimeout   time.Duration `mapstructure:"heartbeat_timeout"`
	MaxRestartAttempts int           `mapstructure:"max_restart_attempts"`
	RestartCooldown    time.Duration `mapstructure:"restart_cooldown"`
	// RestartTimeout bounds one restart call; zero waits indefinitely.
	RestartTimeout time.Duration `mapstructure:"restart_timeout"`
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		CheckInterval:      30 * time.Second,
		HeartbeatTimeout:   300 * time.Second,
		MaxRestartAttempts: 3,
		RestartCooldown:    60 * time.Second,
	}
}

// Validate rejects negative values.
func (c Config) Validate() error {
	if c.HeartbeatTimeout < 0 {
		return fmt.Errorf("heartbeat_timeout must be >= 0, got %s", c.HeartbeatTimeout)
	}
	if c.MaxRestartAttempts < 0 {
		return fmt.Errorf("max_restart_attempts must be >= 0, got %d", c.MaxRestartAttempts)
	}
	if c.RestartCooldown < 0 {
		return fmt.Errorf("restart_cooldown must be >= 0, got %s", c.RestartCooldown)
	}
	if c.RestartTimeout < 0 {
		return fmt.Errorf("restart_timeout must be >= 0, got %s", c.RestartTimeout)
	}
	return nil
}

func clampInterval(d time.Duration) time.Duration {
	if d < MinCheckInterval {
		return MinCheckInterval
	}
	return d
}
