// Package audit provides a tamper-evident hash chain over the records a
// session publishes (plan steps, execution outcomes), plus the NaN/Inf
// defensive guard used wherever externally-influenced floats reach a
// decision boundary.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

// Link is one entry in the chain: a canonical hash of Payload, chained to
// the previous link's hash so any reordering or tampering downstream of
// publication is detectable by re-walking the chain.
type Link struct {
	Seq        int             `json:"seq"`
	Kind       string          `json:"kind"`
	RecordedAt time.Time       `json:"recorded_at"`
	Payload    json.RawMessage `json:"payload"`
	ParentHash string          `json:"parent_hash"`
	Hash       string          `json:"hash"`
}

// Chain is a single-writer, append-only hash chain. It is not safe for
// concurrent Append from multiple goroutines without external
// synchronization beyond what Chain itself provides (it locks internally,
// but callers that need atomic read-then-append across a larger
// operation must hold their own lock).
type Chain struct {
	mu            sync.Mutex
	seq           int
	lastHash      string
	lastTimestamp time.Time
}

// NewChain starts a fresh chain with the zero hash as genesis parent.
func NewChain() *Chain {
	return &Chain{}
}

// Append canonicalizes payload to JSON, computes its hash chained to the
// previous link, and returns the completed Link. Append rejects a
// timestamp that moves backwards relative to the prior link: the event
// stream is defined as strictly totally ordered (spec §5 "Ordering
// guarantees"), and a regressing clock would silently break that
// guarantee without this check.
func (c *Chain) Append(kind string, ts time.Time, payload interface{}) (Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastTimestamp.IsZero() && ts.Before(c.lastTimestamp) {
		return Link{}, fmt.Errorf("audit.Chain.Append: timestamp %s precedes prior link timestamp %s", ts, c.lastTimestamp)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Link{}, fmt.Errorf("audit.Chain.Append: marshal payload: %w", err)
	}

	seq := c.seq
	parent := c.lastHash

	canonical := struct {
		Seq        int             `json:"seq"`
		Kind       string          `json:"kind"`
		RecordedAt time.Time       `json:"recorded_at"`
		Payload    json.RawMessage `json:"payload"`
		ParentHash string          `json:"parent_hash"`
	}{Seq: seq, Kind: kind, RecordedAt: ts.UTC(), Payload: raw, ParentHash: parent}

	canonBytes, err := json.Marshal(canonical)
	if err != nil {
		return Link{}, fmt.Errorf("audit.Chain.Append: marshal canonical form: %w", err)
	}
	sum := sha256.Sum256(canonBytes)
	hash := hex.EncodeToString(sum[:])

	link := Link{
		Seq:        seq,
		Kind:       kind,
		RecordedAt: canonical.RecordedAt,
		Payload:    raw,
		ParentHash: parent,
		Hash:       hash,
	}

	c.seq++
	c.lastHash = hash
	c.lastTimestamp = ts
	return link, nil
}

// Verify re-derives every link's hash from its recorded fields and checks
// it against both the stored hash and the next link's parent_hash,
// returning the index of the first broken link or -1 if the chain is
// intact.
func Verify(links []Link) int {
	parent := ""
	for i, l := range links {
		canonical := struct {
			Seq        int             `json:"seq"`
			Kind       string          `json:"kind"`
			RecordedAt time.Time       `json:"recorded_at"`
			Payload    json.RawMessage `json:"payload"`
			ParentHash string          `json:"parent_hash"`
		}{Seq: l.Seq, Kind: l.Kind, RecordedAt: l.RecordedAt, Payload: l.Payload, ParentHash: parent}

		canonBytes, err := json.Marshal(canonical)
		if err != nil {
			return i
		}
		sum := sha256.Sum256(canonBytes)
		want := hex.EncodeToString(sum[:])
		if want != l.Hash || l.ParentHash != parent {
			return i
		}
		parent = l.Hash
	}
	return -1
}

// HasNaNOrInf reports whether any value in fields is NaN or +/-Inf. It is
// the shared guard used at every boundary where a float computed from
// process evidence is about to be persisted or acted on (spec §7
// "Inference-level anomalies (NaN, infinity in log-space) trigger a
// defensive fall-back").
func HasNaNOrInf(fields map[string]float64) (string, bool) {
	for name, v := range fields {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return name, true
		}
	}
	return "", false
}
