package query

import "time"

const (
	DefaultStaleTime     = 0
	DefaultCacheTime     = 5 * time.Minute
	DefaultRetryCount    = 3
	DefaultRetryDelay    = time.Second
	DefaultMaxRetryDelay = 30 * time.Second
)

// Config controls freshness, retention, retry and background refetching of
// a query.
//
// A zero StaleTime makes data stale as soon as it is stored. CacheTime is how
// long an entry without subscribers survives; zero or negative keeps it until
// removed explicitly.
type Config struct {
	StaleTime          time.Duration
	CacheTime          time.Duration
	RetryCount         int
	RetryDelay         time.Duration
	MaxRetryDelay      time.Duration
	RefetchInterval    time.Duration
	RefetchOnReconnect bool
	Backoff            BackoffFunc
}

// DefaultConfig returns the configuration used when a cache has no explicit
// defaults.
func DefaultConfig() Config {
	return Config{
		StaleTime:          DefaultStaleTime,
		CacheTime:          DefaultCacheTime,
		RetryCount:         DefaultRetryCount,
		RetryDelay:         DefaultRetryDelay,
		MaxRetryDelay:      DefaultMaxRetryDelay,
		RefetchOnReconnect: true,
	}
}

func (c Config) backoff() BackoffFunc {
	if c.Backoff != nil {
		return c.Backoff
	}
	return ExponentialBackoff(c.RetryDelay, c.MaxRetryDelay)
}

// BackoffFunc returns the delay before retry number attempt (1-based).
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff doubles base on every attempt and never exceeds max. A
// non-positive max leaves the delay uncapped.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if base <= 0 || attempt <= 0 {
			return 0
		}
		delay := base
		for i := 1; i < attempt; i++ {
			if max > 0 && delay >= max {
				break
			}
			delay *= 2
		}
		if max > 0 && delay > max {
			return max
		}
		return delay
	}
}

// FetchOption overrides part of a query's configuration.
type FetchOption func(*Config)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) FetchOption {
	return func(c *Config) {
		*c = cfg
	}
}

// StaleAfter sets how long fetched data counts as fresh.
func StaleAfter(d time.Duration) FetchOption {
	return func(c *Config) {
		c.StaleTime = d
	}
}

// KeepFor sets how long an unobserved entry stays cached.
func KeepFor(d time.Duration) FetchOption {
	return func(c *Config) {
		c.CacheTime = d
	}
}

// Retry sets the number of retries after the first failed attempt and the
// backoff bounds between them.
func Retry(count int, delay, maxDelay time.Duration) FetchOption {
	return func(c *Config) {
		c.RetryCount = count
		c.RetryDelay = delay
		c.MaxRetryDelay = maxDelay
	}
}

// RefetchEvery refetches the query periodically while it has subscribers.
func RefetchEvery(d time.Duration) FetchOption {
	return func(c *Config) {
		c.RefetchInterval = d
	}
}

// RefetchOnReconnect toggles refetching subscribed queries when the cache
// comes back online.
func RefetchOnReconnect(enabled bool) FetchOption {
	return func(c *Config) {
		c.RefetchOnReconnect = enabled
	}
}
