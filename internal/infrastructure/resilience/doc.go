/*
Package resilience provides a circuit breaker for unreliable dependencies.

The download client runs every archive fetch through a breaker so a dead
mirror fails fast instead of hammering retries through the whole pipeline.

A breaker starts closed and passes calls through. Enough consecutive
failures open it, and while open every call fails immediately with
ErrCircuitOpen. After the configured timeout it goes half-open and admits
a small number of probes: if they all succeed the breaker closes again,
and a single failure reopens it.

	breaker := resilience.New("downloads", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	err := breaker.Do(func() error {
		return client.Fetch(url)
	})
*/
package resilience
