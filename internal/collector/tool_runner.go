package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ToolResult is the outcome of one external probe invocation (spec §4.1
// "Tool runner").
type ToolResult struct {
	Output   []byte
	TimedOut bool
	Err      error
}

// ToolRunner invokes external probes (lsof, ss, systemctl, …) under a
// deadline, a byte-cap on captured output, bounded by the collector's
// concurrency ceiling. Failure to probe never fails the scan; it only
// degrades the affected candidate's evidence quality (spec §4.1, §7).
type ToolRunner struct {
	log     *zap.Logger
	deadline time.Duration
	byteCap  int
}

func NewToolRunner(log *zap.Logger, deadline time.Duration, byteCap int) *ToolRunner {
	return &ToolRunner{log: log, deadline: deadline, byteCap: byteCap}
}

// Run executes name with args under the runner's deadline. On deadline
// hit, the probe process receives SIGTERM then SIGKILL and partial output
// plus TimedOut=true is returned (spec §4.1).
func (r *ToolRunner) Run(ctx context.Context, name string, args ...string) ToolResult {
	ctx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	capped := &capWriter{w: &buf, limit: r.byteCap}
	cmd.Stdout = capped
	cmd.Stderr = capped

	err := cmd.Run()
	timedOut := ctx.Err() == context.DeadlineExceeded

	if timedOut {
		r.log.Warn("probe deadline exceeded", zap.String("tool", name))
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}

	return ToolResult{Output: buf.Bytes(), TimedOut: timedOut, Err: err}
}

// CountSockets shells out to `ss` to count open sockets owned by pid
// (spec §4.1 "socket table join"). The procfs library exposes file
// descriptor targets but cannot join them against the kernel socket
// table to attribute ownership, so this is the one deep-scan signal that
// needs an external tool rather than a /proc read; a probe failure or
// timeout degrades to "unknown" rather than failing the scan.
func (r *ToolRunner) CountSockets(ctx context.Context, pid int) (int, bool) {
	res := r.Run(ctx, "ss", "-H", "-tunp")
	if res.Err != nil || res.TimedOut {
		return 0, false
	}
	needle := fmt.Sprintf("pid=%d,", pid)
	count := 0
	for _, line := range strings.Split(string(res.Output), "\n") {
		if strings.Contains(line, needle) {
			count++
		}
	}
	return count, true
}

// capWriter bounds the number of bytes written to w, silently discarding
// the remainder once the limit is reached (spec §4.1 "byte-cap on
// captured output").
type capWriter struct {
	w      io.Writer
	limit  int
	n      int
}

func (c *capWriter) Write(p []byte) (int, error) {
	if c.n >= c.limit {
		return len(p), nil
	}
	remaining := c.limit - c.n
	if remaining > len(p) {
		remaining = len(p)
	}
	written, err := c.w.Write(p[:remaining])
	c.n += written
	return len(p), err
}
