// Package resilience provides the flow-control helpers used around pipes.
//
// Retry re-runs a processing function with exponential backoff. Pipes never
// retry unless built with pipe.WithRetry. RateLimiter is a token bucket that
// throttles producers, and Bulkhead bounds how many producers work at once:
//
//	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 100, Burst: 20})
//	bh := resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 4, MaxWait: time.Second})
//
//	err := bh.Execute(ctx, func() error {
//	    for _, v := range values {
//	        if err := rl.Wait(ctx); err != nil {
//	            return err
//	        }
//	        src.Write(v)
//	    }
//	    return nil
//	})
package resilience
