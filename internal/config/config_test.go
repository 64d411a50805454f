package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldi/signoff/pkg/models"
)

const validRules = `
requirements:
  - category: feature
    area: authentication
    min_approvers: 3
    unanimous: true
    reviewers: [alice, bob, carol]
  - category: bugfix
    area: "*"
    min_approvers: 2
    reviewers: [alice, bob]
  - category: "*"
    area: "*"
    min_approvers: 1
    reviewers: [alice]
`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(validRules))
	require.NoError(t, err)
	require.Len(t, rules.Requirements, 3)

	auth := rules.Requirements[0]
	assert.Equal(t, "feature", auth.Category)
	assert.Equal(t, "authentication", auth.Area)
	assert.Equal(t, 3, auth.MinApprovers)
	assert.True(t, auth.Unanimous)
	assert.Equal(t, []string{"alice", "bob", "carol"}, auth.Reviewers)

	fallback := rules.Requirements[2]
	assert.Equal(t, models.Wildcard, fallback.Category)
	assert.False(t, fallback.Unanimous, "unanimous defaults to false")
}

func TestParseRulesRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "not yaml",
			yaml:    "{{{",
			wantErr: "failed to parse",
		},
		{
			name: "missing category",
			yaml: `
requirements:
  - area: general
    min_approvers: 1
    reviewers: [alice]
`,
			wantErr: "category and area are required",
		},
		{
			name: "duplicate rule",
			yaml: `
requirements:
  - {category: feature, area: auth, min_approvers: 1, reviewers: [alice]}
  - {category: feature, area: auth, min_approvers: 2, reviewers: [alice, bob]}
`,
			wantErr: "duplicate rule",
		},
		{
			name: "zero approvers",
			yaml: `
requirements:
  - {category: feature, area: auth, min_approvers: 0, reviewers: [alice]}
`,
			wantErr: "must be positive",
		},
		{
			name: "roster too small",
			yaml: `
requirements:
  - {category: feature, area: auth, min_approvers: 3, reviewers: [alice]}
`,
			wantErr: "approvers required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tc.yaml))
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validRules), 0644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Len(t, rules.Requirements, 3)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read")
}
