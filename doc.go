// Package fetchkit provides a client-side request orchestration layer on
// top of net/http: a priority queue with bounded worker concurrency,
// cooperative and forced cancellation by request, tag, or globally, a
// connection quality estimator driven by observed transfer throughput, and
// a byte-bounded in-memory response cache with LRU eviction.
//
// The client is safe for concurrent use by multiple goroutines.
//
// Basic usage:
//
//	client := fetchkit.New(nil)
//	defer client.Shutdown()
//
//	req, err := fetchkit.Get("https://api.example.com/data").
//	    Tag("screen:home").
//	    Priority(fetchkit.PriorityHigh).
//	    Build()
//	if err != nil {
//	    // ...
//	}
//	resp, err := client.Do(req)
//
// Requests sharing a tag can be cancelled as a group:
//
//	client.Cancel("screen:home")      // cooperative
//	client.ForceCancel("screen:home") // interrupts in-flight transfers
//
// The estimator classifies the smoothed bandwidth into discrete levels so
// callers can adapt behavior without polling:
//
//	client.SetQualityChangeListener(func(q fetchkit.Quality) {
//	    // switch image quality, batch sizes, ...
//	})
package fetchkit
