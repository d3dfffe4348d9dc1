// Package httpclient builds the resty clients shared by every upstream
// HTTP caller in the scanner (Gamma market listing, CLOB REST book reads,
// carry's HTTP fallback fetcher). Centralizing retry/backoff policy here
// means every caller retries transient 5xx/network failures the same way
// instead of each package hand-rolling its own resty.New() chain.
package httpclient

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// Options configures a shared client's base URL, timeout, and retry
// policy. Zero values fall back to New's defaults.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RetryCount     int
	RetryWaitTime  time.Duration
	RetryMaxWait   time.Duration
}

// New builds a resty client that retries on network errors and 5xx
// responses, with exponential backoff bounded by RetryMaxWait.
func New(opts Options) *resty.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retryCount := opts.RetryCount
	if retryCount <= 0 {
		retryCount = 2
	}
	waitTime := opts.RetryWaitTime
	if waitTime <= 0 {
		waitTime = 500 * time.Millisecond
	}
	maxWait := opts.RetryMaxWait
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(waitTime).
		SetRetryMaxWaitTime(maxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	if opts.BaseURL != "" {
		client.SetBaseURL(opts.BaseURL)
	}
	return client
}
