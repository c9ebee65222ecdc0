// Package feature derives the Derived Feature Bundle from raw collector
// samples: signature matching, categorization, and orphan evaluation,
// each provenance-tagged so inference never mistakes a missing value for
// zero (spec §4.2).
package feature

import (
	"regexp"

	"github.com/proctriage/proctriage/internal/config"
)

// PatternGroup is one AND-group of regular expressions within a
// signature; a group "fires" if at least one of its patterns matches its
// target field (spec §4.2 "min_matches >= 1 determining how many groups
// must fire").
type PatternGroup struct {
	Field    string // comm, argv, env_key, env_value, cwd, socket_path, parent_name
	Patterns []*regexp.Regexp
}

// Signature is a named pattern bundle that matches a process class and
// may override priors (spec §3 "Signature").
type Signature struct {
	Name             string
	Category         string
	Priority         int
	ConfidenceWeight float64
	Groups           []PatternGroup
	MinMatches       int
	PriorsOverrides  *config.PriorsConfig
	Expectations     map[string]string
}

// MatchTarget bundles the per-process fields signatures match against.
type MatchTarget struct {
	Comm       string
	Argv       []string
	EnvKeys    []string
	EnvValues  []string
	Cwd        string
	SocketPaths []string
	ParentName string
}

// fieldValues returns the candidate strings a pattern group's field names.
func (t MatchTarget) fieldValues(field string) []string {
	switch field {
	case "comm":
		return []string{t.Comm}
	case "argv":
		return t.Argv
	case "env_key":
		return t.EnvKeys
	case "env_value":
		return t.EnvValues
	case "cwd":
		return []string{t.Cwd}
	case "socket_path":
		return t.SocketPaths
	case "parent_name":
		return []string{t.ParentName}
	default:
		return nil
	}
}

// groupFires reports whether at least one pattern in the group matches
// any candidate value for its field.
func groupFires(g PatternGroup, t MatchTarget) bool {
	values := t.fieldValues(g.Field)
	for _, v := range values {
		for _, p := range g.Patterns {
			if p.MatchString(v) {
				return true
			}
		}
	}
	return false
}

// Score computes a signature's fired-weight against a target: the sum of
// fired pattern-group weights (each group contributes its signature's
// confidence_weight once) times the signature's overall confidence_weight,
// or zero if fewer than MinMatches groups fired (spec §4.2).
func (s Signature) Score(t MatchTarget) float64 {
	fired := 0
	for _, g := range s.Groups {
		if groupFires(g, t) {
			fired++
		}
	}
	if fired < s.MinMatches {
		return 0
	}
	return float64(fired) * s.ConfidenceWeight
}

// MatchRecord is the outcome of signature conflict resolution for one
// candidate (spec §3 "signature match record").
type MatchRecord struct {
	Name             string
	Priority         int
	ConfidenceWeight float64
	PriorsOverrides  *config.PriorsConfig
}

// Match resolves conflicts among every signature that fires against t:
// sum of fired pattern weights * confidence_weight, tie-broken by
// priority, higher wins (spec §4.2 "Conflict resolution").
func Match(signatures []Signature, t MatchTarget) (MatchRecord, bool) {
	var best Signature
	bestScore := 0.0
	found := false

	for _, s := range signatures {
		score := s.Score(t)
		if score <= 0 {
			continue
		}
		if !found || score > bestScore || (score == bestScore && s.Priority > best.Priority) {
			best = s
			bestScore = score
			found = true
		}
	}

	if !found {
		return MatchRecord{}, false
	}
	return MatchRecord{
		Name:             best.Name,
		Priority:         best.Priority,
		ConfidenceWeight: best.ConfidenceWeight,
		PriorsOverrides:  best.PriorsOverrides,
	}, true
}
