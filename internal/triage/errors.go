// Package triage holds sentinel errors and the exit-code mapping shared by
// every stage of the pipeline and by cmd/proctriage.
package triage

import "errors"

// Sentinel errors. Every package that returns one of these wraps it with
// fmt.Errorf("...: %w", ...) rather than discarding it, so callers can
// still errors.Is against the sentinel.
var (
	ErrInvalidArgs          = errors.New("triage: invalid command arguments")
	ErrLockBusy             = errors.New("triage: session lock held by another process")
	ErrNoCandidates         = errors.New("triage: no candidate processes survived feature derivation")
	ErrCapabilityMissing    = errors.New("triage: required capability not available on this host")
	ErrPermissionDenied     = errors.New("triage: permission denied")
	ErrSchemaVersion        = errors.New("triage: unsupported schema_version")
	ErrIdentityMismatch     = errors.New("triage: process identity changed since last observation")
	ErrStageOutOfOrder      = errors.New("triage: session stage requested out of order")
	ErrSessionNotFound      = errors.New("triage: session not found")
	ErrSessionCorrupt       = errors.New("triage: session artifact failed to parse")
	ErrUserCancelled        = errors.New("triage: run cancelled by signal")
	ErrGateBlocked          = errors.New("triage: safety gate blocked every destructive action")
	ErrGuardrailExhausted   = errors.New("triage: destructive-action guardrail exhausted for this run")
	ErrPartialExecution     = errors.New("triage: one or more execution steps failed")
)

// Exit codes per the external interface contract (spec §6 "Exit codes").
// cmd/proctriage is the only caller of os.Exit; every other package
// returns an error and lets main map it through ExitCode.
const (
	ExitOK                = 0
	ExitGeneralError      = 1
	ExitInvalidArgs       = 2
	ExitCapabilityMissing = 3
	ExitPermissionDenied  = 4
	ExitVersionIncompat   = 5
	ExitNoCandidates      = 10
	ExitUserCancelled     = 11
	ExitGateBlocked       = 12
	ExitPartialExecution  = 20
	ExitLockBusy          = 21
)

// ExitCode maps a pipeline error (or nil) to the process exit code the CLI
// should return. Unrecognized errors fall back to ExitGeneralError.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidArgs):
		return ExitInvalidArgs
	case errors.Is(err, ErrCapabilityMissing):
		return ExitCapabilityMissing
	case errors.Is(err, ErrPermissionDenied):
		return ExitPermissionDenied
	case errors.Is(err, ErrSchemaVersion):
		return ExitVersionIncompat
	case errors.Is(err, ErrNoCandidates):
		return ExitNoCandidates
	case errors.Is(err, ErrUserCancelled):
		return ExitUserCancelled
	case errors.Is(err, ErrGateBlocked):
		return ExitGateBlocked
	case errors.Is(err, ErrPartialExecution):
		return ExitPartialExecution
	case errors.Is(err, ErrLockBusy):
		return ExitLockBusy
	default:
		return ExitGeneralError
	}
}
