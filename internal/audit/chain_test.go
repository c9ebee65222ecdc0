package audit

import (
	"testing"
	"time"
)

func TestChainAppendLinksHashes(t *testing.T) {
	c := NewChain()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	l1, err := c.Append("plan_step", base, map[string]string{"candidate_id": "a"})
	if err != nil {
		t.Fatalf("Append #1: %v", err)
	}
	if l1.ParentHash != "" {
		t.Fatalf("genesis link ParentHash = %q, want empty", l1.ParentHash)
	}

	l2, err := c.Append("plan_step", base.Add(time.Second), map[string]string{"candidate_id": "b"})
	if err != nil {
		t.Fatalf("Append #2: %v", err)
	}
	if l2.ParentHash != l1.Hash {
		t.Fatalf("l2.ParentHash = %q, want %q", l2.ParentHash, l1.Hash)
	}
	if l2.Seq != 1 {
		t.Fatalf("l2.Seq = %d, want 1", l2.Seq)
	}
}

func TestChainRejectsTimeRegression(t *testing.T) {
	c := NewChain()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := c.Append("x", base, nil); err != nil {
		t.Fatalf("Append #1: %v", err)
	}
	if _, err := c.Append("x", base.Add(-time.Second), nil); err == nil {
		t.Fatal("Append with regressing timestamp: want error, got nil")
	}
}

func TestVerifyDetectsTamper(t *testing.T) {
	c := NewChain()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var links []Link
	for i := 0; i < 3; i++ {
		l, err := c.Append("step", base.Add(time.Duration(i)*time.Second), map[string]int{"i": i})
		if err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
		links = append(links, l)
	}

	if idx := Verify(links); idx != -1 {
		t.Fatalf("Verify(untampered) = %d, want -1", idx)
	}

	links[1].Payload = []byte(`{"i":999}`)
	if idx := Verify(links); idx != 1 {
		t.Fatalf("Verify(tampered) = %d, want 1", idx)
	}
}

func TestHasNaNOrInf(t *testing.T) {
	if name, bad := HasNaNOrInf(map[string]float64{"ok": 1.0}); bad {
		t.Fatalf("HasNaNOrInf(clean) = (%q, true), want false", name)
	}

	nan := 0.0
	nan = nan / nan
	if name, bad := HasNaNOrInf(map[string]float64{"posterior": nan}); !bad || name != "posterior" {
		t.Fatalf("HasNaNOrInf(nan) = (%q, %v), want (posterior, true)", name, bad)
	}
}
