// Package config loads the administrator-maintained sign-off rules file.
// Rules are plain data handed to the store at init time; nothing here is
// global, so tests substitute fixtures freely.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ldi/signoff/pkg/models"
)

// Rules is the on-disk shape of the sign-off requirement configuration.
type Rules struct {
	Requirements []models.SignOffRequirement `yaml:"requirements"`
}

// LoadRules reads and validates a YAML rules file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates rules from YAML bytes.
func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	seen := map[string]bool{}
	for i, r := range rules.Requirements {
		if r.Category == "" || r.Area == "" {
			return nil, fmt.Errorf("requirement %d: category and area are required (use %q for a wildcard)", i, models.Wildcard)
		}
		key := r.Category + "/" + r.Area
		if seen[key] {
			return nil, fmt.Errorf("requirement %d: duplicate rule for %s", i, key)
		}
		seen[key] = true

		if r.MinApprovers <= 0 {
			return nil, fmt.Errorf("requirement %s: min_approvers must be positive", key)
		}
		if len(r.Reviewers) < r.MinApprovers {
			return nil, fmt.Errorf("requirement %s: %d reviewers listed but %d approvers required", key, len(r.Reviewers), r.MinApprovers)
		}
	}
	return &rules, nil
}
