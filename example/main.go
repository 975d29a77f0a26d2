// Example exercises a fetchkit client against a local test server:
// prioritized requests, tag cancellation, response caching, and the
// connection quality estimator.
//
// Run with: go run ./example
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fetchkit/fetchkit"
)

func main() {
	workers := flag.Int("workers", 4, "Concurrent transfer limit")
	requests := flag.Int("requests", 20, "Number of requests to enqueue")
	flag.Parse()

	// A local server with variable payloads and artificial latency, so
	// the estimator has something to chew on.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(20+rand.Intn(80)) * time.Millisecond)
		w.Write(make([]byte, 32<<10+rand.Intn(256<<10)))
	}))
	defer server.Close()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	client := fetchkit.New(&fetchkit.Config{
		UserAgent: "fetchkit-example/1.0",
		Workers:   *workers,
		Logger:    logger,
	})
	defer client.Shutdown()

	client.SetQualityChangeListener(func(q fetchkit.Quality) {
		fmt.Printf(">> connection quality is now %s (%d bit/s)\n", q, client.CurrentBandwidth())
	})

	var wg sync.WaitGroup
	enqueue := func(tag string, p fetchkit.Priority, key string) {
		req, err := fetchkit.Get(server.URL).
			Tag(tag).
			Priority(p).
			CacheKey(key).
			Build()
		if err != nil {
			fmt.Printf("build failed: %v\n", err)
			return
		}
		ticket, err := client.Enqueue(req)
		if err != nil {
			fmt.Printf("enqueue failed: %v\n", err)
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := ticket.Wait(context.Background())
			switch {
			case fetchkit.IsCancelled(err):
				fmt.Printf("   request %d (%s) cancelled\n", ticket.ID(), ticket.Tag())
			case err != nil:
				fmt.Printf("   request %d (%s) failed: %v\n", ticket.ID(), ticket.Tag(), err)
			default:
				from := "network"
				if resp.Cached {
					from = "cache"
				}
				fmt.Printf("   request %d (%s) done: %d bytes from %s\n",
					ticket.ID(), ticket.Tag(), resp.BytesReceived, from)
			}
		}()
	}

	// Bulk background work at low priority, interactive requests on top.
	for i := 0; i < *requests; i++ {
		enqueue("background", fetchkit.PriorityLow, fmt.Sprintf("bulk-%d", i%5))
	}
	enqueue("screen:home", fetchkit.PriorityHigh, "home")
	enqueue("screen:home", fetchkit.PriorityImmediate, "banner")

	// The user navigated away: drop the remaining background work.
	time.Sleep(200 * time.Millisecond)
	fmt.Println(">> cancelling background requests")
	client.Cancel("background")

	wg.Wait()

	stats := client.GetStats()
	fmt.Println()
	fmt.Printf("workers:   %d\n", stats.Workers)
	fmt.Printf("cache:     %d entries, %d bytes\n", stats.CacheEntries, stats.CacheBytes)
	fmt.Printf("bandwidth: %d bit/s (%s)\n", stats.Bandwidth, stats.Quality)
}
