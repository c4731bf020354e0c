package resilience

import (
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
)

// Document is the JSON shape of a full configuration file: a named set of
// option groups, one map per primitive kind, keyed by the name under which
// callers will look the instance up in a [Registry] (§6 "Configuration").
type Document struct {
	CircuitBreakers map[string]CircuitBreakerConfigDoc `json:"circuit_breakers,omitempty"`
	Bulkheads       map[string]BulkheadConfigDoc        `json:"bulkheads,omitempty"`
	TokenBuckets    map[string]TokenBucketConfigDoc     `json:"token_buckets,omitempty"`
	SlidingWindows  map[string]SlidingWindowConfigDoc   `json:"sliding_windows,omitempty"`
	TimeLimiters    map[string]TimeLimiterConfigDoc     `json:"time_limiters,omitempty"`
}

// CircuitBreakerConfigDoc is the JSON form of a CircuitBreaker's options
// (§6 table).
type CircuitBreakerConfigDoc struct {
	FailureThreshold      int    `json:"failure_threshold"`
	ResetTimeout          string `json:"reset_timeout"`
	HalfOpenSuccessThresh int    `json:"half_open_success_threshold"`
	HalfOpenMaxCalls      int    `json:"half_open_max_calls"`
}

// Options converts d into CircuitBreakerOption values, validating each
// populated field against the ranges in §6. A zero field is left at the
// primitive's own default rather than being rejected.
func (d CircuitBreakerConfigDoc) Options() ([]CircuitBreakerOption, error) {
	var opts []CircuitBreakerOption

	if d.FailureThreshold != 0 {
		if d.FailureThreshold <= 0 {
			return nil, InvalidArgument("failure_threshold must be > 0")
		}

		opts = append(opts, FailureThreshold(d.FailureThreshold))
	}

	if d.ResetTimeout != "" {
		dur, err := time.ParseDuration(d.ResetTimeout)
		if err != nil || dur <= 0 {
			return nil, InvalidArgument("reset_timeout must be a positive duration")
		}

		opts = append(opts, ResetTimeout(dur))
	}

	if d.HalfOpenSuccessThresh != 0 {
		if d.HalfOpenSuccessThresh <= 0 {
			return nil, InvalidArgument("half_open_success_threshold must be > 0")
		}

		opts = append(opts, HalfOpenSuccessThreshold(d.HalfOpenSuccessThresh))
	}

	if d.HalfOpenMaxCalls != 0 {
		if d.HalfOpenMaxCalls <= 0 {
			return nil, InvalidArgument("half_open_max_calls must be > 0")
		}

		opts = append(opts, HalfOpenMaxCalls(d.HalfOpenMaxCalls))
	}

	return opts, nil
}

// BulkheadConfigDoc is the JSON form of a Bulkhead's options (§6 table).
type BulkheadConfigDoc struct {
	MaxWaitDuration    string `json:"max_wait_duration"`
	MaxConcurrentCalls int    `json:"max_concurrent_calls"`
	MaxWaitingCalls    int    `json:"max_waiting_calls"`
}

// Options converts d into BulkheadOption values.
func (d BulkheadConfigDoc) Options() ([]BulkheadOption, error) {
	var opts []BulkheadOption

	if d.MaxConcurrentCalls != 0 {
		if d.MaxConcurrentCalls <= 0 {
			return nil, InvalidArgument("max_concurrent_calls must be > 0")
		}

		opts = append(opts, MaxConcurrentCalls(d.MaxConcurrentCalls))
	}

	if d.MaxWaitingCalls != 0 {
		if d.MaxWaitingCalls < 0 {
			return nil, InvalidArgument("max_waiting_calls must be >= 0")
		}

		opts = append(opts, MaxWaitingCalls(d.MaxWaitingCalls))
	}

	if d.MaxWaitDuration != "" {
		dur, err := time.ParseDuration(d.MaxWaitDuration)
		if err != nil || dur <= 0 {
			return nil, InvalidArgument("max_wait_duration must be a positive duration")
		}

		opts = append(opts, MaxWaitDuration(dur))
	}

	return opts, nil
}

// TokenBucketConfigDoc is the JSON form of a token bucket limiter's options
// (§6 table).
type TokenBucketConfigDoc struct {
	PermitsPerSecond float64 `json:"permits_per_second"`
	BurstCapacity    float64 `json:"burst_capacity"`
}

// Options converts d into TokenBucketOption values.
func (d TokenBucketConfigDoc) Options() ([]TokenBucketOption, error) {
	var opts []TokenBucketOption

	if d.PermitsPerSecond != 0 {
		if d.PermitsPerSecond <= 0 {
			return nil, InvalidArgument("permits_per_second must be > 0")
		}

		opts = append(opts, PermitsPerSecond(d.PermitsPerSecond))
	}

	if d.BurstCapacity != 0 {
		if d.BurstCapacity <= 0 {
			return nil, InvalidArgument("burst_capacity must be > 0")
		}

		opts = append(opts, BurstCapacity(d.BurstCapacity))
	}

	return opts, nil
}

// SlidingWindowConfigDoc is the JSON form of a sliding window limiter's
// options (§6 table).
type SlidingWindowConfigDoc struct {
	WindowDuration string `json:"window_duration"`
	MaxRequests    int    `json:"max_requests"`
}

// Options converts d into SlidingWindowOption values.
func (d SlidingWindowConfigDoc) Options() ([]SlidingWindowOption, error) {
	var opts []SlidingWindowOption

	if d.MaxRequests != 0 {
		if d.MaxRequests <= 0 {
			return nil, InvalidArgument("max_requests must be > 0")
		}

		opts = append(opts, MaxRequests(d.MaxRequests))
	}

	if d.WindowDuration != "" {
		dur, err := time.ParseDuration(d.WindowDuration)
		if err != nil || dur <= 0 {
			return nil, InvalidArgument("window_duration must be a positive duration")
		}

		opts = append(opts, WindowDuration(dur))
	}

	return opts, nil
}

// TimeLimiterConfigDoc is the JSON form of a time limiter's options (§6
// table).
type TimeLimiterConfigDoc struct {
	Timeout string `json:"timeout"`
}

// Options converts d into TimeLimiterOption values.
func (d TimeLimiterConfigDoc) Options() ([]TimeLimiterOption, error) {
	var opts []TimeLimiterOption

	if d.Timeout != "" {
		dur, err := time.ParseDuration(d.Timeout)
		if err != nil || dur <= 0 {
			return nil, InvalidArgument("timeout must be a positive duration")
		}

		opts = append(opts, DefaultTimeout(dur))
	}

	return opts, nil
}

// LoadDocument reads and decodes a JSON configuration document from path.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("resilience: read config document: %w", err)
	}

	var doc Document

	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("resilience: parse config document: %w", err)
	}

	return doc, nil
}
