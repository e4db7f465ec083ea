package deployment

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Prober issues a single HTTP GET against a health endpoint. The response
// body is never inspected; only the status code matters.
type Prober interface {
	Probe(ctx context.Context, url string, timeout time.Duration) (status int, err error)
}

// HTTPProber probes with the default HTTP client.
type HTTPProber struct{}

func (HTTPProber) Probe(ctx context.Context, url string, timeout time.Duration) (int, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// VerifyResult is the outcome of a bounded health verification loop.
type VerifyResult struct {
	Healthy bool
	History []HealthCheckOutcome
}

// HealthVerifier polls a health endpoint with bounded retries and a fixed
// interval between failed attempts. Fixed, not exponential: this is a short
// bounded liveness gate, not a long-running resilience policy.
type HealthVerifier struct {
	prober      Prober
	clock       Clock
	maxAttempts int
	interval    time.Duration
	timeout     time.Duration
}

// NewHealthVerifier returns a verifier issuing at most maxAttempts probes,
// each bounded by timeout, separated by interval.
func NewHealthVerifier(prober Prober, clock Clock, maxAttempts int, interval, timeout time.Duration) *HealthVerifier {
	return &HealthVerifier{
		prober:      prober,
		clock:       clock,
		maxAttempts: maxAttempts,
		interval:    interval,
		timeout:     timeout,
	}
}

// Verify probes baseURL+path until a 2xx response or attempts are exhausted.
// The first 2xx ends the loop immediately. A cancelled context aborts the
// loop and is returned as the error.
func (v *HealthVerifier) Verify(ctx context.Context, baseURL, path string) (VerifyResult, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := baseURL + path

	var history []HealthCheckOutcome
	for attempt := 1; attempt <= v.maxAttempts; attempt++ {
		status, err := v.prober.Probe(ctx, url, v.timeout)

		outcome := HealthCheckOutcome{Attempt: attempt, Timestamp: v.clock.Now()}
		switch {
		case err != nil:
			outcome.Error = err.Error()
			log.Printf("Health check %d/%d against %s failed: %v\n", attempt, v.maxAttempts, url, err)
		default:
			outcome.HTTPStatus = status
			outcome.Succeeded = status >= 200 && status < 300
			log.Printf("Health check %d/%d against %s returned %d\n", attempt, v.maxAttempts, url, status)
		}
		history = append(history, outcome)

		if outcome.Succeeded {
			return VerifyResult{Healthy: true, History: history}, nil
		}

		if attempt < v.maxAttempts {
			v.clock.Sleep(ctx, v.interval)
		}
		if ctx.Err() != nil {
			return VerifyResult{History: history}, fmt.Errorf("health verification aborted: %w", ctx.Err())
		}
	}

	return VerifyResult{History: history}, nil
}
