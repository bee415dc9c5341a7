package testutil

import (
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/psgate/psgate/internal/config"
	"github.com/psgate/psgate/internal/gateway"
)

// GatewayConfig returns a config rooted in per-test temp directories with
// fast rate-limit and timeout settings.
func GatewayConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.General.DataDir = t.TempDir()
	cfg.General.LogsDir = t.TempDir()
	cfg.Timeouts.DefaultSecs = 5
	cfg.Timeouts.MaxSecs = 30
	cfg.RateLimit.Capacity = 100
	cfg.RateLimit.RefillMs = 100
	cfg.RateLimit.RefillAmount = 10
	return cfg
}

// NewGateway builds a gateway over temp directories. The gateway is closed
// when the test ends.
func NewGateway(t *testing.T, mutate func(*config.Config)) (*gateway.Gateway, config.Config) {
	t.Helper()
	cfg := GatewayConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	logger := log.New(testWriter{t})
	gw, err := gateway.Build(cfg, logger)
	if err != nil {
		t.Fatalf("building gateway: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return gw, cfg
}

// WaitFor polls cond until it returns true or the timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// testWriter routes component logs through the test log.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
