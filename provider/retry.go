package provider

import "time"

// RetryConfig holds retry configuration for provider requests.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the wait before the first retry.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffMultiplier is applied to the backoff on each further retry.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DefaultRetryConfig allows two retries, waiting 250ms then 1s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       250 * time.Millisecond,
		BackoffMultiplier: 4.0,
		MaxBackoff:        time.Second,
	}
}

// GeocoderRetryConfig allows a single retry after 250ms.
func GeocoderRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       250 * time.Millisecond,
		BackoffMultiplier: 1.0,
		MaxBackoff:        250 * time.Millisecond,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
// There is no jitter; pacing is local to one caller.
func (r RetryConfig) Backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= r.BackoffMultiplier
	}

	backoff := time.Duration(float64(r.BackoffBase) * multiplier)
	if r.MaxBackoff > 0 && backoff > r.MaxBackoff {
		backoff = r.MaxBackoff
	}
	return backoff
}
