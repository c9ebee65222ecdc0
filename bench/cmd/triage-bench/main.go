// Package main — triage-bench
//
// Measures per-candidate pipeline latency: feature derivation plus
// posterior classification, run repeatedly over a synthetic process
// population, reported as a latency histogram with p50/p95/p99 summaries.
//
// Output CSV columns:
//
//	iteration, latency_us
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/proctriage/proctriage/internal/collector"
	"github.com/proctriage/proctriage/internal/config"
	"github.com/proctriage/proctriage/internal/feature"
	"github.com/proctriage/proctriage/internal/identity"
	"github.com/proctriage/proctriage/internal/inference"
)

func main() {
	iterations := flag.Int("iterations", 10000, "Number of classify attempts to measure")
	outputFile := flag.String("output", "triage_latency_raw.csv", "Output CSV file path")
	targetP99Us := flag.Int("target-p99-us", 500, "p99 latency budget in microseconds")
	flag.Parse()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_us"})

	priors := config.DefaultPriorsConfig()
	engine := inference.NewEngine(priors)
	deriver := feature.NewDeriver(feature.DefaultSignatures(), nil, false)

	host := collector.HostContext{BootID: "bench-boot", ClockTicksHz: 100, UptimeSeconds: 1_000_000}
	sample := collector.ProcessSample{
		Identity: identity.Tuple{PID: 4242, StartTimeTicks: 90_000_000, BootID: host.BootID},
		Comm:     "node",
		Argv:     []string{"node", "jest-worker", "--worker"},
		CwdKind:  collector.CwdProject,
		State:    collector.StateSleeping,
	}
	series := []collector.TickSample{
		{At: time.Unix(0, 0), UserTick: 1000},
		{At: time.Unix(0, 500_000_000), UserTick: 1002},
		{At: time.Unix(1, 0), UserTick: 1003},
	}

	const histCap = 10000
	var hist [histCap + 1]int

	for i := 0; i < *iterations; i++ {
		start := time.Now()

		bundle := deriver.Derive(sample, series, host)
		priorsEff := feature.ResolvePriors(priors, bundle.SignatureMatch)
		if _, err := engine.Classify(bundle.Evidence, priorsEff); err != nil {
			fmt.Fprintf(os.Stderr, "classify: %v\n", err)
			os.Exit(1)
		}

		latencyUs := int(time.Since(start).Microseconds())
		if latencyUs > histCap {
			latencyUs = histCap
		}
		hist[latencyUs]++

		_ = w.Write([]string{strconv.Itoa(i), strconv.Itoa(latencyUs)})
	}

	p50, p95, p99 := computePercentiles(hist[:], *iterations)

	fmt.Printf("Triage Classification Latency Results (%d iterations)\n", *iterations)
	fmt.Printf("  p50: %dus\n", p50)
	fmt.Printf("  p95: %dus\n", p95)
	fmt.Printf("  p99: %dus\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)

	if p99 > *targetP99Us {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dus exceeds %dus target\n", p99, *targetP99Us)
		os.Exit(1)
	}
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}
