// Package session implements the durable, resumable, redactable record
// of a single run: one JSON file per pipeline stage, metadata, and an
// append-only event log (spec §4.6).
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage names the pipeline stages, in their required completion order.
// The stage file's presence is the single source of truth for whether a
// stage completed (spec §4.6 "Layout").
type Stage string

const (
	StageScan    Stage = "scan"
	StageInfer   Stage = "infer"
	StageDecide  Stage = "decide"
	StageExecute Stage = "execute"
)

var stageOrder = []Stage{StageScan, StageInfer, StageDecide, StageExecute}

func stageIndex(s Stage) int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Metadata is the session's top-level descriptor, written once at
// creation and never mutated in place (a new session is created on
// retry, matching the single-writer-per-directory invariant).
type Metadata struct {
	SessionID     string    `json:"session_id"`
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	Host          string    `json:"host,omitempty"`
	Profile       string    `json:"profile,omitempty"`
}

const MetadataSchemaVersion = 1

// Store owns one session directory. Exactly one writer may hold a Store
// for a given directory at a time (spec §4.6, enforced at a higher layer
// by the executor's per-host lock for the execute stage).
type Store struct {
	dir string
}

// Create allocates a new session directory under root, named
// pt-YYYYMMDD-HHMMSS-<4 lowercase-alphanumeric chars> (spec §3 "Session")
// so sessions sort chronologically on disk and never collide.
func Create(root string, profile string) (*Store, error) {
	id := fmt.Sprintf("pt-%s-%s", time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:4])
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session.Create: mkdir %q: %w", dir, err)
	}

	s := &Store{dir: dir}
	meta := Metadata{
		SessionID:     id,
		SchemaVersion: MetadataSchemaVersion,
		CreatedAt:     time.Now().UTC(),
		Profile:       profile,
	}
	if err := s.writeAtomic("metadata.json", meta); err != nil {
		return nil, err
	}
	return s, nil
}

// Open resumes an existing session directory.
func Open(dir string) (*Store, error) {
	if _, err := os.Stat(filepath.Join(dir, "metadata.json")); err != nil {
		return nil, fmt.Errorf("session.Open(%q): %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) stagePath(stage Stage) string {
	return filepath.Join(s.dir, fmt.Sprintf("%02d_%s.json", stageIndex(stage)+1, stage))
}

// WriteStage writes data as the artifact for stage, atomically
// (write-to-temp, fsync, rename) per spec §4.6 "Layout".
func (s *Store) WriteStage(stage Stage, data any) error {
	return s.writeAtomic(filepath.Base(s.stagePath(stage)), data)
}

// WriteRedactedStage applies r to data before writing, so the copy that
// reaches disk is the redacted projection while the caller's in-memory
// value (passed separately to the next in-process stage) stays
// un-redacted (spec §4.6 "Redaction"). A nil redactor behaves exactly
// like WriteStage.
func (s *Store) WriteRedactedStage(stage Stage, data any, r *Redactor) error {
	redacted, err := r.Redact(data)
	if err != nil {
		return fmt.Errorf("session.WriteRedactedStage(%s): %w", stage, err)
	}
	return s.writeAtomic(filepath.Base(s.stagePath(stage)), redacted)
}

// ReadStage reads and unmarshals a completed stage's artifact into v.
func (s *Store) ReadStage(stage Stage, v any) error {
	raw, err := os.ReadFile(s.stagePath(stage))
	if err != nil {
		return fmt.Errorf("session.ReadStage(%s): %w", stage, err)
	}
	return json.Unmarshal(raw, v)
}

// StageComplete reports whether stage's artifact file exists.
func (s *Store) StageComplete(stage Stage) bool {
	_, err := os.Stat(s.stagePath(stage))
	return err == nil
}

// HighestCompletedStage returns the last stage (in pipeline order) whose
// artifact is present, or ("", false) if none have completed yet
// (spec §4.6 "Resume").
func (s *Store) HighestCompletedStage() (Stage, bool) {
	highest := -1
	for i, st := range stageOrder {
		if s.StageComplete(st) {
			highest = i
		}
	}
	if highest < 0 {
		return "", false
	}
	return stageOrder[highest], true
}

// NextStage returns the stage that should run next given the highest
// completed stage.
func NextStage(highest Stage) (Stage, bool) {
	idx := stageIndex(highest)
	if idx < 0 {
		return stageOrder[0], true
	}
	if idx+1 >= len(stageOrder) {
		return "", false
	}
	return stageOrder[idx+1], true
}

// writeAtomic marshals v as indented JSON and writes it to name within
// the session directory via write-temp, fsync, rename (spec §4.6).
func (s *Store) writeAtomic(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("session.writeAtomic(%s): marshal: %w", name, err)
	}

	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp-" + strings.TrimPrefix(fmt.Sprintf("%d", time.Now().UnixNano()), "-")

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("session.writeAtomic(%s): open temp: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("session.writeAtomic(%s): write: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("session.writeAtomic(%s): fsync: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("session.writeAtomic(%s): close: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("session.writeAtomic(%s): rename: %w", name, err)
	}
	return nil
}

// ListSessions returns session directory names under root, most recent
// first, for the `sessions` CLI subcommand.
func ListSessions(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("session.ListSessions(%q): %w", root, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}
