// Command proctriage-sim generates a synthetic process-table fixture for
// exercising the triage pipeline without a live host: a mix of abandoned
// test runners, live dev servers, and ordinary system processes, sampled
// from fixed archetypes with jitter.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/proctriage/proctriage/internal/collector"
	"github.com/proctriage/proctriage/internal/identity"
)

// archetype is one reusable process profile the generator samples from,
// each tuned to land in a specific posterior class under the default
// priors so golden-fixture tests have a known expected outcome.
type archetype struct {
	comm        string
	argvPattern []string
	cwdKind     collector.CwdKind
	ageSeconds  float64
	cpuFrac     float64
	hasTTY      bool
	orphan      bool
}

var archetypes = []archetype{
	{comm: "node", argvPattern: []string{"node", "jest-worker", "--worker"}, cwdKind: collector.CwdProject, ageSeconds: 5400, cpuFrac: 0.0, hasTTY: false, orphan: true},
	{comm: "node", argvPattern: []string{"node", "webpack-dev-server"}, cwdKind: collector.CwdProject, ageSeconds: 120, cpuFrac: 0.15, hasTTY: true, orphan: false},
	{comm: "bash", argvPattern: []string{"bash"}, cwdKind: collector.CwdHome, ageSeconds: 1800, cpuFrac: 0.01, hasTTY: true, orphan: false},
	{comm: "sshd", argvPattern: []string{"sshd", "-D"}, cwdKind: collector.CwdSystem, ageSeconds: 864000, cpuFrac: 0.0, hasTTY: false, orphan: false},
	{comm: "python3", argvPattern: []string{"python3", "-m", "pytest", "-n", "auto"}, cwdKind: collector.CwdProject, ageSeconds: 7200, cpuFrac: 0.0, hasTTY: false, orphan: true},
}

func main() {
	seed := flag.Int64("seed", 1, "deterministic PRNG seed")
	count := flag.Int("count", 50, "number of synthetic processes to generate")
	format := flag.String("format", "json", "output format: json or csv")
	outputFile := flag.String("output", "", "output file path (stdout if empty)")
	bootID := flag.String("boot-id", "sim-boot-0001", "synthetic boot id shared by every process")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	host := collector.HostContext{
		BootID:        *bootID,
		ClockTicksHz:  100,
		CPUCount:      8,
		LoadAvg1:      1.2,
		MemTotalBytes: 16 << 30,
		MemFreeBytes:  4 << 30,
		UptimeSeconds: 1_000_000,
	}

	samples := make([]collector.ProcessSample, 0, *count)
	for i := 0; i < *count; i++ {
		arch := archetypes[rng.Intn(len(archetypes))]
		pid := 1000 + i
		startTicks := int64((host.UptimeSeconds - jitter(rng, arch.ageSeconds, 0.1)) * float64(host.ClockTicksHz))

		s := collector.ProcessSample{
			Identity: identity.Tuple{
				PID:            pid,
				StartTimeTicks: startTicks,
				BootID:         host.BootID,
				UID:            1000,
				EUID:           1000,
			},
			ObservedAt:     time.Unix(0, 0),
			CPUUserTicks:   int64(jitter(rng, arch.cpuFrac, 0.2) * 1e6),
			CPUSystemTicks: 0,
			RSSBytes:       64 << 20,
			State:          collector.StateSleeping,
			PPID:           1,
			CwdKind:        arch.cwdKind,
			Comm:           arch.comm,
			Argv:           arch.argvPattern,
		}
		if arch.hasTTY {
			s.TTY = "pts/0"
		}
		if arch.orphan {
			s.PPID = 1
		} else {
			s.PPID = 500
		}
		samples = append(samples, s)
	}

	snap := collector.Snapshot{
		SchemaVersion: collector.SchemaVersion,
		Profile:       collector.ScanQuick,
		Host:          host,
		Samples:       samples,
		TakenAt:       time.Unix(0, 0),
	}

	out := os.Stdout
	if *outputFile != "" {
		f, err := os.Create(*outputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create output: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	switch *format {
	case "csv":
		if err := writeCSV(out, samples); err != nil {
			fmt.Fprintf(os.Stderr, "write csv: %v\n", err)
			os.Exit(1)
		}
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			fmt.Fprintf(os.Stderr, "encode snapshot: %v\n", err)
			os.Exit(1)
		}
	}
}

// jitter applies +/- fraction relative noise around base, never below zero.
func jitter(rng *rand.Rand, base, fraction float64) float64 {
	delta := (rng.Float64()*2 - 1) * fraction * base
	v := base + delta
	if v < 0 {
		return 0
	}
	return v
}

func writeCSV(f *os.File, samples []collector.ProcessSample) error {
	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"pid", "comm", "argv", "cwd_kind", "tty", "ppid"}); err != nil {
		return err
	}
	for _, s := range samples {
		if err := w.Write([]string{
			strconv.Itoa(s.Identity.PID), s.Comm, fmt.Sprint(s.Argv), string(s.CwdKind), s.TTY, strconv.Itoa(s.PPID),
		}); err != nil {
			return err
		}
	}
	return nil
}
