package nodeenv

import (
	"time"

	"sskinsert/internal/netx"
	"sskinsert/internal/paths"
)

// Config is the node environment's construction-time configuration.
type Config struct {
	DataDir    string
	Name       string
	Bind       string
	Bootstraps []netx.Addr
	Debug      bool

	// RoutingTableK bounds the Routing Controller's live candidate set per
	// location bucket (routing.NewTable's k).
	RoutingTableK int

	// AdmitRate/AdmitBurst tune the per-peer admission token bucket.
	AdmitRate  float64
	AdmitBurst float64

	// MaxHops bounds an insert job's outer loop iterations.
	MaxHops int

	DataInsertTimeout time.Duration
	FetchTimeout      time.Duration

	ExecutorConcurrency int
}

func (c Config) withDefaults() Config {
	if c.DataDir == "" {
		c.DataDir = paths.DefaultDataDir()
	}
	if c.RoutingTableK <= 0 {
		c.RoutingTableK = 20
	}
	if c.AdmitRate <= 0 {
		c.AdmitRate = 20
	}
	if c.AdmitBurst <= 0 {
		c.AdmitBurst = 40
	}
	if c.MaxHops <= 0 {
		c.MaxHops = 200
	}
	if c.DataInsertTimeout <= 0 {
		c.DataInsertTimeout = 20 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 20 * time.Second
	}
	if c.ExecutorConcurrency <= 0 {
		c.ExecutorConcurrency = 32
	}
	return c
}
