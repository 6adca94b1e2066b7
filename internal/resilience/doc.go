// Package resilience provides reliability and fault tolerance patterns for
// outbound calls to unreliable, rate-limited external services such as LLM
// provider APIs.
//
// The package is organised leaf-first:
//   - classify: maps a failure to a category and a retry recommendation
//   - retry: computes backoff delays (exponential, linear, fibonacci) with jitter
//   - circuitbreaker: per-destination closed/open/half-open gate
//   - metrics: per-destination outcome, latency and queue statistics
//   - dedup: collapses concurrent identical requests into one execution
//   - ratelimiter: composes a per-destination queue, token bucket, circuit
//     breaker, retry loop and metrics collector
//
// Usage Example:
//
//	limiter, err := ratelimiter.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer limiter.Close()
//
//	summary, err := ratelimiter.Do(ctx, limiter, "anthropic", func(ctx context.Context) (string, error) {
//	    return callClaude(ctx, prompt)
//	})
package resilience
