package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/urfave/cli"

	"github.com/AutoCookies/pomai-memberttl/internal/adapter/tcp"
)

type benchConfig struct {
	addr    string
	tenant  string
	clients int
	members int
	ttl     time.Duration
	spread  time.Duration
	timeout time.Duration
}

type workerResult struct {
	scheduled int
	latencies []time.Duration
	lastDue   time.Time
	drainedAt time.Time
	drained   bool
}

func main() {
	app := cli.NewApp()
	app.Name = "benchmark"
	app.Usage = "schedule many member expirations over TCP and measure how late they fire"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "addr, a", Value: "localhost:7600", Usage: "server address"},
		cli.StringFlag{Name: "tenant, t", Value: "bench", Usage: "tenant id"},
		cli.IntFlag{Name: "clients, c", Value: 50, Usage: "concurrent connections"},
		cli.IntFlag{Name: "members, n", Value: 1000, Usage: "members scheduled per connection"},
		cli.DurationFlag{Name: "ttl", Value: 200 * time.Millisecond, Usage: "base ttl"},
		cli.DurationFlag{Name: "spread", Value: 500 * time.Millisecond, Usage: "ttl spread added across members"},
		cli.DurationFlag{Name: "timeout", Value: 30 * time.Second, Usage: "give up waiting for expirations after"},
	}
	app.Action = func(ctx *cli.Context) error {
		cfg := benchConfig{
			addr:    ctx.String("addr"),
			tenant:  ctx.String("tenant"),
			clients: ctx.Int("clients"),
			members: ctx.Int("members"),
			ttl:     ctx.Duration("ttl"),
			spread:  ctx.Duration("spread"),
			timeout: ctx.Duration("timeout"),
		}
		if cfg.clients <= 0 || cfg.members <= 0 {
			return cli.NewExitError("clients and members must be positive", 2)
		}
		return run(cfg, log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true}))
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cfg benchConfig, logger *log.Logger) error {
	logger.Info("starting", "clients", cfg.clients, "members", cfg.clients*cfg.members, "ttl", cfg.ttl, "spread", cfg.spread)

	results := make([]workerResult, cfg.clients)
	var failed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(cfg.clients)

	start := time.Now()
	for i := 0; i < cfg.clients; i++ {
		go func(id int) {
			defer wg.Done()
			res, err := worker(cfg, id)
			if err != nil {
				failed.Add(1)
				logger.Error("worker failed", "worker", id, "err", err)
			}
			results[id] = res
		}(i)
	}
	wg.Wait()

	report(cfg, results, time.Since(start), int(failed.Load()))
	return nil
}

// worker fills one hash, schedules a TTL on each field, then polls until
// the hash is gone.
func worker(cfg benchConfig, id int) (workerResult, error) {
	res := workerResult{latencies: make([]time.Duration, 0, cfg.members)}

	c, err := tcp.Dial(cfg.addr, 5*time.Second)
	if err != nil {
		return res, err
	}
	defer c.Close()
	if err := c.SelectTenant(cfg.tenant); err != nil {
		return res, err
	}

	key := "bench:" + strconv.Itoa(id)
	step := int64(0)
	if cfg.members > 1 {
		step = cfg.spread.Milliseconds() / int64(cfg.members-1)
	}

	for j := 0; j < cfg.members; j++ {
		field := "m" + strconv.Itoa(j)
		body, _ := json.Marshal(map[string]string{"field": field, "value": "x"})
		if _, err := c.Do(tcp.OpHSet, key, body); err != nil {
			return res, err
		}

		ttlMs := cfg.ttl.Milliseconds() + int64(j)*step
		t0 := time.Now()
		if _, err := c.ExpireMember(key, field, ttlMs, "ms"); err != nil {
			return res, err
		}
		res.latencies = append(res.latencies, time.Since(t0))
		res.scheduled++
		if due := t0.Add(time.Duration(ttlMs) * time.Millisecond); due.After(res.lastDue) {
			res.lastDue = due
		}
	}

	deadline := time.Now().Add(cfg.timeout)
	for time.Now().Before(deadline) {
		v, err := c.Do(tcp.OpHLen, key, nil)
		if err != nil {
			return res, err
		}
		if string(v) == "0" {
			res.drainedAt = time.Now()
			res.drained = true
			return res, nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return res, nil
}

func report(cfg benchConfig, results []workerResult, total time.Duration, failed int) {
	var all []time.Duration
	scheduled, drained := 0, 0
	var maxLate time.Duration
	for _, r := range results {
		all = append(all, r.latencies...)
		scheduled += r.scheduled
		if r.drained {
			drained++
			if late := r.drainedAt.Sub(r.lastDue); late > maxLate {
				maxLate = late
			}
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	fmt.Println("------------------------------------------------")
	fmt.Printf("Scheduled:     %d/%d expirations\n", scheduled, cfg.clients*cfg.members)
	fmt.Printf("Drained keys:  %d/%d (%d workers failed)\n", drained, cfg.clients, failed)
	fmt.Printf("Duration:      %v\n", total)
	if len(all) > 0 {
		fmt.Printf("Expire p50:    %v\n", percentile(all, 0.50))
		fmt.Printf("Expire p99:    %v\n", percentile(all, 0.99))
		fmt.Printf("Expire max:    %v\n", all[len(all)-1])
	}
	fmt.Printf("Max lateness:  %v (after last due time)\n", maxLate)
	fmt.Println("------------------------------------------------")
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
