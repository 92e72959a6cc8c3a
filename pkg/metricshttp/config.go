package metricshttp

import "time"

// Config configures the administrative HTTP server (health + metrics).
// It mirrors the teacher's APIConfig shape but drops everything the
// control-plane REST surface needs (auth, timeouts per-route) since this
// server answers only unauthenticated, unix-timescale probes.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 9090
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
