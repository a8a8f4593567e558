package invoker

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// Policy is the fixed instruction set for audit runs.
type Policy struct {
	Model             string  `yaml:"model"`
	Temperature       float32 `yaml:"temperature"`
	HighRiskThreshold float64 `yaml:"high_risk_threshold"`
	SystemPrompt      string  `yaml:"system_prompt"`
}

// DefaultPolicy returns the embedded policy.
func DefaultPolicy() Policy {
	p, err := parsePolicy(defaultPolicyYAML, Policy{})
	if err != nil {
		panic(fmt.Sprintf("embedded audit policy is invalid: %v", err))
	}
	return p
}

// LoadPolicy reads an override file on top of the embedded policy. An empty
// path returns the embedded policy unchanged.
func LoadPolicy(path string) (Policy, error) {
	base := DefaultPolicy()
	if path == "" {
		return base, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read audit policy: %w", err)
	}
	return parsePolicy(raw, base)
}

func parsePolicy(raw []byte, base Policy) (Policy, error) {
	p := base
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("parse audit policy: %w", err)
	}
	p.Model = strings.TrimSpace(p.Model)
	p.SystemPrompt = strings.TrimSpace(p.SystemPrompt)
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	var errs []error
	if p.Model == "" {
		errs = append(errs, errors.New("policy model is required"))
	}
	if p.SystemPrompt == "" {
		errs = append(errs, errors.New("policy system_prompt is required"))
	}
	if p.HighRiskThreshold < 0 || p.HighRiskThreshold > 100 {
		errs = append(errs, errors.New("policy high_risk_threshold must be within 0-100"))
	}
	return errors.Join(errs...)
}
