package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/proctriage/proctriage/internal/config"
)

// fieldClasses maps a JSON field name appearing in a stage artifact to the
// redaction policy's field-class name (spec §3 "Redaction Policy"). Keys
// are matched by name wherever they occur in the artifact, regardless of
// nesting depth, since argv/tty/cgroup_path live inside an embedded
// collector.ProcessSample several levels below a stage artifact's root.
var fieldClasses = map[string]string{
	"argv":        "argv",
	"env_value":   "env_value",
	"tty":         "tty",
	"cgroup_path": "cgroup_path",
}

// Redactor applies a RedactionConfig to a stage artifact at the session
// store's publish boundary (spec §4.6 "Redaction"): the caller's in-memory
// value is left untouched (the in-core pipeline keeps working on
// un-redacted data per spec §3), and a transformed copy is what actually
// reaches disk.
type Redactor struct {
	policy *config.RedactionConfig
}

// NewRedactor builds a Redactor from a resolved RedactionConfig. A nil
// policy makes every Redact call a no-op passthrough.
func NewRedactor(policy *config.RedactionConfig) *Redactor {
	return &Redactor{policy: policy}
}

// Redact round-trips v through JSON and rewrites every field whose JSON
// key is a known field class, recursing through nested objects and
// arrays. The result is a generic JSON-compatible value suitable for
// writeAtomic, not a typed copy of v.
func (r *Redactor) Redact(v any) (any, error) {
	if r == nil || r.policy == nil {
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("session.Redactor.Redact: marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("session.Redactor.Redact: unmarshal: %w", err)
	}
	return r.walk(generic), nil
}

func (r *Redactor) walk(node any) any {
	switch t := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if class, ok := fieldClasses[k]; ok {
				out[k] = r.applyField(class, val)
				continue
			}
			out[k] = r.walk(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.walk(val)
		}
		return out
	default:
		return node
	}
}

func (r *Redactor) applyField(class string, val any) any {
	action, ok := r.policy.Fields[class]
	if !ok {
		action = config.RedactAllow
	}
	switch v := val.(type) {
	case string:
		return r.applyAction(action, v)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			if s, ok := elem.(string); ok {
				out[i] = r.applyAction(action, s)
			} else {
				out[i] = elem
			}
		}
		return out
	case map[string]any:
		// env_value arrives as a map of env-var name to value; redact
		// every value, leave the key (the variable name) untouched.
		out := make(map[string]any, len(v))
		for k, elem := range v {
			if s, ok := elem.(string); ok {
				out[k] = r.applyAction(action, s)
			} else {
				out[k] = elem
			}
		}
		return out
	default:
		return val
	}
}

func (r *Redactor) applyAction(action config.RedactionAction, s string) string {
	if s == "" {
		return s
	}
	switch action {
	case config.RedactAllow:
		return s
	case config.RedactRedact:
		return "[redacted]"
	case config.RedactHash:
		return hashString(s)
	case config.RedactNormalize:
		return "<path>"
	case config.RedactNormalizeAndHash:
		return hashString("<path>")
	case config.RedactTruncate:
		return truncateString(s, 16)
	case config.RedactDetect:
		return detectAndRedact(s)
	default:
		return s
	}
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// detectAndRedact is a conservative stand-in for the "detect" action
// (spec §3): anything long and opaque enough to plausibly carry a secret
// is redacted outright rather than pattern-matched against a signature
// database, since the core has no access to one.
func detectAndRedact(s string) string {
	if len(s) >= 20 {
		return "[possible-secret-redacted]"
	}
	return s
}
