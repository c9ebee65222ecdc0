package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/proctriage/proctriage/internal/config"
	"github.com/proctriage/proctriage/internal/feature"
	"github.com/proctriage/proctriage/internal/obslog"
	"github.com/proctriage/proctriage/internal/obsmetrics"
)

// app bundles every piece of loaded configuration and shared
// infrastructure a pipeline stage needs, built once per invocation.
type app struct {
	log          *zap.Logger
	agentCfg     *config.AgentConfig
	capabilities *config.Capabilities
	priors       *config.PriorsConfig
	policy       *config.PolicyConfig
	redaction    *config.RedactionConfig
	sigs         []feature.Signature
	metrics      *obsmetrics.Metrics
}

func loadApp(flags *globalFlags) (*app, error) {
	agentCfg := config.DefaultAgentConfig()
	if flags.agentConfigPath != "" {
		loaded, err := config.LoadAgentConfig(flags.agentConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load agent config: %w", err)
		}
		agentCfg = *loaded
	}
	if flags.sessionRoot != "" {
		agentCfg.Session.RootDir = flags.sessionRoot
	}

	log, err := obslog.New(obslog.Options{Level: agentCfg.Log.Level, Format: agentCfg.Log.Format})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	capabilities := config.DefaultCapabilities()
	if flags.capabilitiesPath != "" {
		capabilities, err = config.LoadCapabilities(flags.capabilitiesPath)
		if err != nil {
			return nil, fmt.Errorf("load capabilities manifest: %w", err)
		}
	}

	priors := config.DefaultPriorsConfig()
	if flags.priorsPath != "" {
		priors, err = config.LoadPriorsConfig(flags.priorsPath)
		if err != nil {
			return nil, fmt.Errorf("load priors config: %w", err)
		}
	}

	policy := config.DefaultPolicyConfig()
	if flags.policyPath != "" {
		policy, err = config.LoadPolicyConfig(flags.policyPath)
		if err != nil {
			return nil, fmt.Errorf("load policy config: %w", err)
		}
	}

	redaction := config.DefaultRedactionConfig()
	if flags.redactionPath != "" {
		redaction, err = config.LoadRedactionConfig(flags.redactionPath)
		if err != nil {
			return nil, fmt.Errorf("load redaction config: %w", err)
		}
	}

	sigs := feature.DefaultSignatures()
	if flags.signaturesPath != "" {
		sigs, err = feature.LoadSignatures(flags.signaturesPath)
		if err != nil {
			return nil, fmt.Errorf("load signature table: %w", err)
		}
	}

	return &app{
		log:          log,
		agentCfg:     &agentCfg,
		capabilities: capabilities,
		priors:       priors,
		policy:       policy,
		redaction:    redaction,
		sigs:         sigs,
		metrics:      obsmetrics.New(),
	}, nil
}
