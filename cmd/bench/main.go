package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrlink/pkg/probe"
)

// bench hammers one timestamp responder with concurrent exchanges and reports
// throughput and the spread of delay estimates.
func main() {
	addr := flag.String("addr", "127.0.0.1:35499", "responder address host:port")
	n := flag.Int("n", 5000, "exchanges")
	conc := flag.Int("c", 32, "concurrency")
	timeout := flag.Duration("timeout", 5*time.Second, "per-exchange timeout")
	flag.Parse()

	target, err := netip.ParseAddrPort(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bench:", err)
		os.Exit(2)
	}

	dialer := &net.Dialer{Timeout: *timeout}
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		delays []float64
		failed int
	)
	ch := make(chan int, *conc)
	start := time.Now()

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- 1
		go func() {
			defer wg.Done()
			defer func() { <-ch }()
			ctx, cancel := context.WithTimeout(context.Background(), *timeout)
			defer cancel()
			s, err := probe.Exchange(ctx, dialer, target, time.Now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				return
			}
			delays = append(delays, s.Delay())
		}()
	}
	wg.Wait()
	dur := time.Since(start)

	fmt.Printf("Completed %d exchanges (%d failed) in %s (%.2f ops/s)\n", *n, failed, dur, float64(*n)/dur.Seconds())
	if len(delays) == 0 {
		return
	}
	sort.Float64s(delays)
	pct := func(p float64) float64 { return delays[int(p*float64(len(delays)-1))] }
	fmt.Printf("delay seconds: min=%.6f p50=%.6f p99=%.6f max=%.6f\n",
		delays[0], pct(0.50), pct(0.99), delays[len(delays)-1])
}
