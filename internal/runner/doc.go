// Package runner drives load for crankmeter.
//
// A Runner starts a fixed pool of workers and hands each of them permits from
// a single scheduler goroutine, which applies the arrival model and stops at
// the request total, the duration cap or context cancellation, whichever
// comes first. The duration cap only stops new attempts; in-flight ones
// finish and are counted.
//
//	r := runner.New(runner.Options{
//		Concurrency:   10,
//		TotalRequests: 1000,
//		RatePerSecond: 100,
//		ArrivalModel:  runner.ArrivalModelPoisson,
//		Requester:     requester,
//	})
//	result := r.Run(ctx)
//
// Uniform arrivals use a token bucket from golang.org/x/time/rate. Poisson
// arrivals draw exponential gaps with mean 1/RatePerSecond.
package runner
