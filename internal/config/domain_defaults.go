package config

// Built-in domain configuration defaults, used when the operator has not
// supplied JSON files of their own, the same "fall back to a working
// default" posture DefaultAgentConfig takes for the ambient config tier.
// The numbers encode mild, deliberately weak priors: evidence should
// dominate the posterior in any real run, not the prior.

const classUseful, classUsefulBad, classAbandoned, classZombie = "useful", "useful_bad", "abandoned", "zombie"

// DefaultPriorsConfig returns a conservative, weakly-informative prior
// table over the four closed classes (spec §3 "Priors Configuration").
func DefaultPriorsConfig() *PriorsConfig {
	return &PriorsConfig{
		SchemaVersion: "1",
		CPUOccupancy: map[string]BetaParams{
			classUseful:     {Alpha: 4, Beta: 2},
			classUsefulBad:  {Alpha: 2, Beta: 4},
			classAbandoned:  {Alpha: 1, Beta: 9},
			classZombie:     {Alpha: 1, Beta: 99},
		},
		Hazard: map[string]GammaParams{
			classUseful:    {Shape: 2, Rate: 1.0 / 3600},
			classUsefulBad: {Shape: 2, Rate: 1.0 / 1800},
			classAbandoned: {Shape: 1, Rate: 1.0 / 7200},
			classZombie:    {Shape: 1, Rate: 1.0 / 60},
		},
		OrphanBernoulli: map[string]BetaParams{
			classUseful:    {Alpha: 1, Beta: 9},
			classUsefulBad: {Alpha: 2, Beta: 8},
			classAbandoned: {Alpha: 7, Beta: 3},
			classZombie:    {Alpha: 5, Beta: 5},
		},
		TTYBernoulli: map[string]BetaParams{
			classUseful:    {Alpha: 6, Beta: 4},
			classUsefulBad: {Alpha: 5, Beta: 5},
			classAbandoned: {Alpha: 2, Beta: 8},
			classZombie:    {Alpha: 1, Beta: 9},
		},
		WriteFDBernoulli: map[string]BetaParams{
			classUseful:    {Alpha: 3, Beta: 3},
			classUsefulBad: {Alpha: 3, Beta: 3},
			classAbandoned: {Alpha: 1, Beta: 5},
			classZombie:    {Alpha: 1, Beta: 9},
		},
		CategoryDirichlet: map[string]DirichletParams{
			classUseful: {Concentration: map[string]float64{
				"test-runner": 3, "dev-server": 3, "agent-shell": 2, "editor": 2, "system-service": 1, "other": 1,
			}},
			classUsefulBad: {Concentration: map[string]float64{
				"test-runner": 2, "dev-server": 2, "agent-shell": 2, "editor": 1, "system-service": 1, "other": 1,
			}},
			classAbandoned: {Concentration: map[string]float64{
				"test-runner": 4, "dev-server": 3, "agent-shell": 1, "editor": 1, "system-service": 1, "other": 2,
			}},
			classZombie: {Concentration: map[string]float64{
				"test-runner": 1, "dev-server": 1, "agent-shell": 1, "editor": 1, "system-service": 1, "other": 1,
			}},
		},
		ClassPrior: map[string]float64{
			classUseful:    0.80,
			classUsefulBad: 0.10,
			classAbandoned: 0.08,
			classZombie:    0.02,
		},
	}
}

// DefaultPolicyConfig returns the built-in loss matrix, guardrails, and
// FDR settings (spec §3 "Policy Configuration"). Guardrails default to
// generous but non-zero caps so a first run never silently no-ops.
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		SchemaVersion: "1",
		LossMatrix: map[string]map[string]float64{
			classUseful: {
				"keep": 0, "pause": 1, "throttle": 2, "renice": 1, "supervisor-stop": 8, "terminate": 10,
			},
			classUsefulBad: {
				"keep": 1, "pause": 0.5, "throttle": 0.5, "renice": 0.3, "supervisor-stop": 3, "terminate": 4,
			},
			classAbandoned: {
				"keep": 3, "pause": 1, "throttle": 0.5, "renice": 0.3, "supervisor-stop": 0.2, "terminate": 0,
			},
			classZombie: {
				"keep": 1, "pause": 1, "throttle": 1, "renice": 1, "supervisor-stop": 0.5, "terminate": 0,
			},
		},
		Guardrails: Guardrails{
			MaxKillsPerRun:      10,
			MaxKillsPerCategory: 5,
			ProtectedPatterns:   []string{"sshd", "systemd", "launchd", "dockerd", "containerd", "Xorg"},
			ProtectedUIDs:       []int{0},
		},
		FDR: FDRConfig{
			TargetAlpha:    0.05,
			PoolingMode:    "local",
			WealthEarnRate: 0.5,
		},
		DataLoss: DataLossRules{
			ExemptPathPrefixes: []string{"/tmp", "/var/tmp"},
		},
		Privilege: PrivilegeRules{
			AllowCrossUID: false,
		},
		ConfidenceFloor:       0.70,
		LossGapTolerance:      0.05,
		TerminateGraceSeconds: 5,
	}
}

// DefaultRedactionConfig returns the built-in redaction policy (spec §3
// "Redaction Policy"): argv and env values are hashed, everything else is
// allowed through unredacted.
func DefaultRedactionConfig() *RedactionConfig {
	return &RedactionConfig{
		SchemaVersion: "1",
		Fields: map[string]RedactionAction{
			"argv":        RedactNormalizeAndHash,
			"env_value":   RedactHash,
			"cwd":         RedactNormalize,
			"tty":         RedactAllow,
			"cgroup_path": RedactTruncate,
		},
	}
}

// DefaultCapabilities returns a conservative quick-scan-only manifest for
// a fresh install that has not supplied `--capabilities` (spec §6): proc
// readable, no elevated permissions, no supervisor attribution, cgroup v2
// assumed. An operator targeting deep scans or supervisor-aware actions
// is expected to supply a real manifest produced by host capability
// discovery (explicitly out of scope for the core per spec §1).
func DefaultCapabilities() *Capabilities {
	return &Capabilities{
		SchemaVersion:  SupportedCapabilitiesMajor,
		OSFamily:       "linux",
		Arch:           "amd64",
		ProcReadable:   true,
		CgroupVersion:  2,
		SupervisorInfo: false,
	}
}
