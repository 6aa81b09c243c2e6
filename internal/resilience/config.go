package resilience

import (
	"time"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/config"
)

// PolicyFromConfig builds the shared retry policy. Zero fields keep defaults.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	if cfg.Factor > 0 {
		p.Factor = cfg.Factor
	}
	if cfg.Jitter >= 0 {
		p.Jitter = cfg.Jitter
	}
	return p
}

// BreakerFromConfig builds a circuit breaker config. Zero fields keep defaults.
func BreakerFromConfig(failureThreshold int, resetTimeout time.Duration) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeout > 0 {
		cfg.ResetTimeout = resetTimeout
	}
	return cfg
}
