package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/proctriage/proctriage/internal/triage"
)

var validate = validator.New()

// Capabilities is the host capability manifest (spec §6). The core
// validates schema_version and rejects unknown major versions; it never
// performs capability discovery itself.
type Capabilities struct {
	SchemaVersion  string            `json:"schema_version" validate:"required"`
	OSFamily       string            `json:"os_family" validate:"required"`
	Arch           string            `json:"arch" validate:"required"`
	Tools          map[string]Tool   `json:"tools"`
	Permissions    Permissions       `json:"permissions"`
	ProcReadable   bool              `json:"proc_readable"`
	CgroupVersion  int               `json:"cgroup_version" validate:"oneof=0 1 2"`
	SupervisorInfo bool              `json:"supervisor_info"`
}

type Tool struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
}

type Permissions struct {
	Sudo  bool `json:"sudo"`
	Ptrace bool `json:"ptrace"`
	Perf  bool `json:"perf"`
	EBPF  bool `json:"ebpf"`
	// Nice asserts the collector may lower its own scheduling and I/O
	// priority (spec §4.1 "Collector CPU budget is capped via nice/ionice
	// when capabilities permit"). Self-renice needs no elevated privilege
	// on Linux, but a sandboxed or container-constrained host may deny
	// even that, so it is still manifest-gated rather than attempted
	// unconditionally.
	Nice bool `json:"nice"`
}

// SupportedCapabilitiesMajor is the major schema version this build
// accepts; unknown majors are rejected per spec §6.
const SupportedCapabilitiesMajor = "1"

// PriorsConfig carries per-class hyperparameters for every evidence term
// the inference engine computes (spec §3 "Priors Configuration").
type PriorsConfig struct {
	SchemaVersion string `json:"schema_version" validate:"required"`

	// CPUOccupancy holds per-class Beta(alpha, beta) priors over cpu_frac.
	CPUOccupancy map[string]BetaParams `json:"cpu_occupancy" validate:"required,dive"`

	// Hazard holds per-class Gamma(shape, rate) priors over age.
	Hazard map[string]GammaParams `json:"hazard" validate:"required,dive"`

	// OrphanBernoulli, TTYBernoulli, WriteFDBernoulli hold per-class
	// Beta-Bernoulli priors for the corresponding presence indicators.
	OrphanBernoulli  map[string]BetaParams `json:"orphan_bernoulli" validate:"required,dive"`
	TTYBernoulli     map[string]BetaParams `json:"tty_bernoulli" validate:"required,dive"`
	WriteFDBernoulli map[string]BetaParams `json:"write_fd_bernoulli" validate:"required,dive"`

	// CategoryDirichlet holds per-class Dirichlet concentration vectors
	// over the closed category set.
	CategoryDirichlet map[string]DirichletParams `json:"category_dirichlet" validate:"required,dive"`

	// ClassPrior is the marginal P(class) before any evidence.
	ClassPrior map[string]float64 `json:"class_prior" validate:"required"`
}

type BetaParams struct {
	Alpha float64 `json:"alpha" validate:"gt=0"`
	Beta  float64 `json:"beta" validate:"gt=0"`
}

type GammaParams struct {
	Shape float64 `json:"shape" validate:"gt=0"`
	Rate  float64 `json:"rate" validate:"gt=0"`
}

type DirichletParams struct {
	Concentration map[string]float64 `json:"concentration" validate:"required"`
}

// PolicyConfig carries the loss matrix, guardrails, FDR configuration,
// data-loss rules, and privilege rules (spec §3 "Policy Configuration").
type PolicyConfig struct {
	SchemaVersion string `json:"schema_version" validate:"required"`

	// LossMatrix[class][action] is L[c][a] in spec §4.4.
	LossMatrix map[string]map[string]float64 `json:"loss_matrix" validate:"required"`

	Guardrails Guardrails `json:"guardrails"`
	FDR        FDRConfig  `json:"fdr"`
	DataLoss   DataLossRules `json:"data_loss"`
	Privilege  PrivilegeRules `json:"privilege"`

	ConfidenceFloor     float64 `json:"confidence_floor" validate:"gte=0,lte=1"`
	LossGapTolerance    float64 `json:"loss_gap_tolerance" validate:"gte=0"`
	TerminateGraceSeconds int   `json:"terminate_grace_seconds" validate:"gt=0"`
}

type Guardrails struct {
	MaxKillsPerRun       int      `json:"max_kills_per_run" validate:"gte=0"`
	MaxKillsPerCategory  int      `json:"max_kills_per_category" validate:"gte=0"`
	ProtectedPatterns    []string `json:"protected_patterns"`
	ProtectedUIDs        []int    `json:"protected_uids"`
	SessionSafetyPatterns []string `json:"session_safety_patterns"`
}

type FDRConfig struct {
	TargetAlpha float64 `json:"target_alpha" validate:"gt=0,lt=1"`
	// PoolingMode is always "local" in this core; fleet pooling is
	// out-of-process (DESIGN.md Open Question b).
	PoolingMode string `json:"pooling_mode" validate:"oneof=local"`
	// WealthEarnRate (phi) is the fraction of alpha earned back per
	// accepted rejection under alpha-investing.
	WealthEarnRate float64 `json:"wealth_earn_rate" validate:"gte=0"`
}

type DataLossRules struct {
	ExemptPathPrefixes []string `json:"exempt_path_prefixes"`
}

type PrivilegeRules struct {
	AllowCrossUID bool `json:"allow_cross_uid"`
}

// RedactionConfig maps field classes to redaction actions, applied only
// at the session store's publish boundary (spec §3 "Redaction Policy").
type RedactionConfig struct {
	SchemaVersion string                    `json:"schema_version" validate:"required"`
	Fields        map[string]RedactionAction `json:"fields" validate:"required"`
}

type RedactionAction string

const (
	RedactAllow            RedactionAction = "allow"
	RedactRedact           RedactionAction = "redact"
	RedactHash             RedactionAction = "hash"
	RedactNormalize        RedactionAction = "normalize"
	RedactNormalizeAndHash RedactionAction = "normalize_hash"
	RedactTruncate         RedactionAction = "truncate"
	RedactDetect           RedactionAction = "detect"
)

// LoadCapabilities reads and validates a capabilities manifest from path.
func LoadCapabilities(path string) (*Capabilities, error) {
	var c Capabilities
	if err := loadJSON(path, &c); err != nil {
		return nil, fmt.Errorf("config.LoadCapabilities: %w", err)
	}
	if c.SchemaVersion != SupportedCapabilitiesMajor {
		return nil, fmt.Errorf("config.LoadCapabilities: %w: got %q, support major %q", triage.ErrSchemaVersion, c.SchemaVersion, SupportedCapabilitiesMajor)
	}
	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("config.LoadCapabilities: validation failed: %w", err)
	}
	return &c, nil
}

// LoadPriorsConfig reads and validates a priors configuration from path.
func LoadPriorsConfig(path string) (*PriorsConfig, error) {
	var p PriorsConfig
	if err := loadJSON(path, &p); err != nil {
		return nil, fmt.Errorf("config.LoadPriorsConfig: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("config.LoadPriorsConfig: validation failed: %w", err)
	}
	return &p, nil
}

// LoadPolicyConfig reads and validates a policy configuration from path.
func LoadPolicyConfig(path string) (*PolicyConfig, error) {
	var p PolicyConfig
	if err := loadJSON(path, &p); err != nil {
		return nil, fmt.Errorf("config.LoadPolicyConfig: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("config.LoadPolicyConfig: validation failed: %w", err)
	}
	for class, actions := range p.LossMatrix {
		for action, loss := range actions {
			if loss < 0 {
				return nil, fmt.Errorf("config.LoadPolicyConfig: loss_matrix[%q][%q] = %f, must be >= 0", class, action, loss)
			}
		}
	}
	return &p, nil
}

// LoadRedactionConfig reads and validates a redaction policy from path.
func LoadRedactionConfig(path string) (*RedactionConfig, error) {
	var r RedactionConfig
	if err := loadJSON(path, &r); err != nil {
		return nil, fmt.Errorf("config.LoadRedactionConfig: %w", err)
	}
	if err := validate.Struct(r); err != nil {
		return nil, fmt.Errorf("config.LoadRedactionConfig: validation failed: %w", err)
	}
	return &r, nil
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %q: %w", path, err)
	}
	return nil
}
