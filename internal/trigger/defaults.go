package trigger

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"LegacyVault/internal/model"
)

//go:embed defaults.yaml
var defaultRules []byte

type ruleFile struct {
	Rules []model.TriggerDefinition `yaml:"rules"`
}

// LoadDefaults path 为空时使用内置规则集
func LoadDefaults(path string, registry *Registry) ([]model.TriggerDefinition, error) {
	data := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read trigger rules file: %w", err)
		}
		data = b
	}
	return ParseDefaults(data, registry)
}

func ParseDefaults(data []byte, registry *Registry) ([]model.TriggerDefinition, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse trigger rules: %w", err)
	}

	seen := make(map[string]bool, len(f.Rules))
	for _, d := range f.Rules {
		if d.ID == "" {
			return nil, fmt.Errorf("trigger rule %q has no id", d.Name)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate trigger rule id %q", d.ID)
		}
		seen[d.ID] = true
		if err := validateDefinition(registry, d.Kind, d.Params); err != nil {
			return nil, fmt.Errorf("trigger rule %s: %w", d.ID, err)
		}
	}
	return f.Rules, nil
}

func validateDefinition(registry *Registry, kind model.RuleKind, params model.RuleParams) error {
	rule, ok := registry.Get(kind)
	if !ok {
		return invalidParams("unknown rule kind %q", kind)
	}
	if v, ok := rule.(Validator); ok {
		return v.Validate(params)
	}
	return nil
}
