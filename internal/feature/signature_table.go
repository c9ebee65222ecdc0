package feature

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/proctriage/proctriage/internal/config"
)

// signatureDTO is the on-disk shape of one signature table entry: regex
// source strings in place of compiled *regexp.Regexp, so the table can be
// authored as plain JSON (spec §3 "Signature").
type signatureDTO struct {
	Name             string              `json:"name"`
	Category         string              `json:"category"`
	Priority         int                 `json:"priority"`
	ConfidenceWeight float64             `json:"confidence_weight"`
	MinMatches       int                 `json:"min_matches"`
	Groups           []patternGroupDTO   `json:"groups"`
	PriorsOverrides  *config.PriorsConfig `json:"priors_overrides,omitempty"`
	Expectations     map[string]string   `json:"expectations,omitempty"`
}

type patternGroupDTO struct {
	Field    string   `json:"field"`
	Patterns []string `json:"patterns"`
}

// LoadSignatures reads a signature table from path and compiles every
// pattern group's regular expressions (spec §3 "Signature"). A signature
// whose min_matches exceeds its own group count can never fire; that is
// treated as a config error rather than silently accepted.
func LoadSignatures(path string) ([]Signature, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("feature.LoadSignatures(%q): %w", path, err)
	}

	var dtos []signatureDTO
	if err := json.Unmarshal(raw, &dtos); err != nil {
		return nil, fmt.Errorf("feature.LoadSignatures(%q): parse: %w", path, err)
	}
	return compileSignatures(dtos)
}

func compileSignatures(dtos []signatureDTO) ([]Signature, error) {
	sigs := make([]Signature, 0, len(dtos))
	for _, d := range dtos {
		if d.MinMatches > len(d.Groups) {
			return nil, fmt.Errorf("feature: signature %q: min_matches=%d exceeds %d groups", d.Name, d.MinMatches, len(d.Groups))
		}

		groups := make([]PatternGroup, 0, len(d.Groups))
		for _, g := range d.Groups {
			compiled := make([]*regexp.Regexp, 0, len(g.Patterns))
			for _, pat := range g.Patterns {
				re, err := regexp.Compile(pat)
				if err != nil {
					return nil, fmt.Errorf("feature: signature %q: group %q: compile %q: %w", d.Name, g.Field, pat, err)
				}
				compiled = append(compiled, re)
			}
			groups = append(groups, PatternGroup{Field: g.Field, Patterns: compiled})
		}

		minMatches := d.MinMatches
		if minMatches <= 0 {
			minMatches = 1
		}

		sigs = append(sigs, Signature{
			Name:             d.Name,
			Category:         d.Category,
			Priority:         d.Priority,
			ConfidenceWeight: d.ConfidenceWeight,
			Groups:           groups,
			MinMatches:       minMatches,
			PriorsOverrides:  d.PriorsOverrides,
			Expectations:     d.Expectations,
		})
	}
	return sigs, nil
}

// DefaultSignatures returns the built-in signature set shipped with the
// binary, used when no operator-supplied table is configured. It covers
// the common short-lived-tool classes the spec's scenarios name
// (SPEC_FULL.md §2 "jest-worker" orphaned test runner example).
func DefaultSignatures() []Signature {
	dtos := []signatureDTO{
		{
			Name:             "jest-worker",
			Category:         "test_runner",
			Priority:         10,
			ConfidenceWeight: 0.9,
			MinMatches:       1,
			Groups: []patternGroupDTO{
				{Field: "comm", Patterns: []string{`(?i)^node$`}},
				{Field: "argv", Patterns: []string{`jest-worker`, `jest.*--worker`}},
			},
		},
		{
			Name:             "webpack-dev-server",
			Category:         "dev_server",
			Priority:         8,
			ConfidenceWeight: 0.8,
			MinMatches:       1,
			Groups: []patternGroupDTO{
				{Field: "argv", Patterns: []string{`webpack-dev-server`, `webpack.*serve`}},
			},
		},
		{
			Name:             "vite-dev-server",
			Category:         "dev_server",
			Priority:         8,
			ConfidenceWeight: 0.8,
			MinMatches:       1,
			Groups: []patternGroupDTO{
				{Field: "argv", Patterns: []string{`vite(\s|$)`}},
			},
		},
		{
			Name:             "pytest-xdist-worker",
			Category:         "test_runner",
			Priority:         10,
			ConfidenceWeight: 0.9,
			MinMatches:       1,
			Groups: []patternGroupDTO{
				{Field: "argv", Patterns: []string{`pytest`, `xdist`}},
			},
		},
		{
			Name:             "agent-shell-repl",
			Category:         "agent_shell",
			Priority:         6,
			ConfidenceWeight: 0.6,
			MinMatches:       1,
			Groups: []patternGroupDTO{
				{Field: "comm", Patterns: []string{`(?i)^(bash|zsh|sh)$`}},
				{Field: "parent_name", Patterns: []string{`(?i)claude|copilot|agent`}},
			},
		},
	}
	sigs, err := compileSignatures(dtos)
	if err != nil {
		// Every pattern above is a literal constant known to compile;
		// a failure here is a programming error, not a runtime condition.
		panic(fmt.Sprintf("feature.DefaultSignatures: %v", err))
	}
	return sigs
}
