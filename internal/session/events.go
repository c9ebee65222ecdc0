package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/proctriage/proctriage/internal/audit"
	"github.com/proctriage/proctriage/internal/executor"
)

// EventLog appends JSON Lines to the session's events.jsonl, one line
// per step outcome (spec §4.6 "Layout", an append-only events.jsonl").
// It implements executor.EventRecorder. Each record is also folded into
// an audit.Chain so the execution log is tamper-evident end to end
// (spec §8 "Order preservation"): reordering or editing a past line is
// detectable by re-walking the chain with audit.Verify.
type EventLog struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	chain *audit.Chain
}

// event wraps a step outcome with the hash-chain link covering it, the
// append-only record shape.
type event struct {
	Link    audit.Link            `json:"link"`
	Outcome executor.StepOutcome  `json:"outcome"`
}

// OpenEventLog opens (creating if absent) the events.jsonl file in the
// session directory, appending to any existing content on resume. The
// chain restarts from genesis on resume; resumed sessions verify only
// the contiguous segment written since the last process start, which is
// sufficient to catch in-process tampering and matches the executor's
// own resume semantics (already-completed steps are re-derived from
// identity, not from the chain).
func (s *Store) OpenEventLog() (*EventLog, error) {
	path := filepath.Join(s.dir, "events.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("session.OpenEventLog(%q): %w", path, err)
	}
	return &EventLog{path: path, f: f, chain: audit.NewChain()}, nil
}

// RecordStep appends one step outcome, fsyncing before returning so the
// record survives a crash immediately after the dispatch it describes
// (spec §4.5 step 4 "Append outcome ... atomically").
func (l *EventLog) RecordStep(outcome executor.StepOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	link, err := l.chain.Append("step_outcome", time.Now().UTC(), outcome)
	if err != nil {
		return fmt.Errorf("session.EventLog.RecordStep: chain: %w", err)
	}

	rec := event{Link: link, Outcome: outcome}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session.EventLog.RecordStep: marshal: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("session.EventLog.RecordStep: write: %w", err)
	}
	return l.f.Sync()
}

func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// ReadEvents reads back every recorded step outcome, in append order, for
// resume and inspection (spec §4.6 "Resume").
func (s *Store) ReadEvents() ([]executor.StepOutcome, error) {
	path := filepath.Join(s.dir, "events.jsonl")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session.ReadEvents(%q): %w", path, err)
	}

	var outcomes []executor.StepOutcome
	dec := json.NewDecoder(newLineReader(raw))
	for {
		var rec event
		if err := dec.Decode(&rec); err != nil {
			break
		}
		outcomes = append(outcomes, rec.Outcome)
	}
	return outcomes, nil
}

// VerifyEventChain re-derives every recorded step's hash-chain link and
// reports the index of the first broken link, or -1 if events.jsonl is
// intact (spec §8 "Order preservation").
func (s *Store) VerifyEventChain() (int, error) {
	path := filepath.Join(s.dir, "events.jsonl")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("session.VerifyEventChain(%q): %w", path, err)
	}

	var links []audit.Link
	dec := json.NewDecoder(newLineReader(raw))
	for {
		var rec event
		if err := dec.Decode(&rec); err != nil {
			break
		}
		links = append(links, rec.Link)
	}
	return audit.Verify(links), nil
}
