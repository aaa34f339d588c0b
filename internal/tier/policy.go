// Package tier provides the subscription tier policy table.
package tier

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foremanlabs/crewdesk/internal/domain"
)

// ErrUnknownTier is returned when a tier identifier is not in the table.
// Callers must fall back to the most restrictive tier and report the
// anomaly; an unknown tier never grants elevated access.
var ErrUnknownTier = errors.New("unknown tier")

// Known tier identifiers, most restrictive first.
const (
	Starter = "starter"
	Pro     = "pro"
	Growth  = "growth"
)

// Policy holds the numeric limits for one subscription tier.
// Loaded once at process start and immutable thereafter.
type Policy struct {
	Tier                    string           `yaml:"tier"`
	MaxOpenSessions         int              `yaml:"max_open_sessions"`
	MaxMessagesPerSession   int              `yaml:"max_messages_per_session"`
	MaxConcurrentExecutions int              `yaml:"max_concurrent_executions"`
	GatedAgents             []domain.AgentID `yaml:"gated_agents"`
}

// Gated reports whether the agent requires a higher tier than this one.
func (p Policy) Gated(agent domain.AgentID) bool {
	for _, g := range p.GatedAgents {
		if g == agent {
			return true
		}
	}
	return false
}

// Table is an immutable tier -> Policy lookup.
type Table struct {
	policies map[string]Policy

	// GlobalExecutionCeiling bounds concurrent executions across the whole
	// process regardless of how many users are active. It protects the
	// downstream agent backend, so it is deliberately not per-user.
	GlobalExecutionCeiling int

	// TierCacheTTL bounds how stale a cached tier lookup may be, so a
	// just-upgraded user sees new limits promptly.
	TierCacheTTL time.Duration
}

// Load returns the built-in policy table.
func Load() *Table {
	return &Table{
		policies: map[string]Policy{
			Starter: {
				Tier:                    Starter,
				MaxOpenSessions:         1,
				MaxMessagesPerSession:   20,
				MaxConcurrentExecutions: 0,
				GatedAgents:             []domain.AgentID{domain.AgentAlex, domain.AgentRex},
			},
			Pro: {
				Tier:                    Pro,
				MaxOpenSessions:         2,
				MaxMessagesPerSession:   50,
				MaxConcurrentExecutions: 1,
				GatedAgents:             []domain.AgentID{domain.AgentRex},
			},
			Growth: {
				Tier:                    Growth,
				MaxOpenSessions:         3,
				MaxMessagesPerSession:   100,
				MaxConcurrentExecutions: 2,
				GatedAgents:             nil,
			},
		},
		GlobalExecutionCeiling: 2,
		TierCacheTTL:           60 * time.Second,
	}
}

type tableFile struct {
	Policies               []Policy `yaml:"policies"`
	GlobalExecutionCeiling int      `yaml:"global_execution_ceiling"`
}

// LoadFile reads a policy table from a YAML file, replacing the built-in
// defaults. Missing global ceiling falls back to the default.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier policy file: %w", err)
	}

	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tier policy file: %w", err)
	}
	if len(file.Policies) == 0 {
		return nil, fmt.Errorf("tier policy file %s defines no policies", path)
	}

	t := Load()
	t.policies = make(map[string]Policy, len(file.Policies))
	for _, p := range file.Policies {
		if p.Tier == "" {
			return nil, fmt.Errorf("tier policy file %s contains a policy with no tier name", path)
		}
		for _, g := range p.GatedAgents {
			if !g.Valid() {
				return nil, fmt.Errorf("tier %q gates unknown agent %q", p.Tier, g)
			}
		}
		t.policies[p.Tier] = p
	}
	if file.GlobalExecutionCeiling > 0 {
		t.GlobalExecutionCeiling = file.GlobalExecutionCeiling
	}
	return t, nil
}

// PolicyFor looks up the policy for a tier identifier.
func (t *Table) PolicyFor(tier string) (Policy, error) {
	p, ok := t.policies[tier]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return p, nil
}

// MostRestrictive returns the policy with the lowest limits, used as the
// degraded fallback when a tier identifier is not recognized. Restrictive
// is judged by open-session limit, then message limit, with tier name as
// the final stable tie-break.
func (t *Table) MostRestrictive() Policy {
	names := make([]string, 0, len(t.policies))
	for name := range t.policies {
		names = append(names, name)
	}
	sort.Strings(names)

	var best Policy
	first := true
	for _, name := range names {
		p := t.policies[name]
		if first {
			best, first = p, false
			continue
		}
		if p.MaxOpenSessions < best.MaxOpenSessions ||
			(p.MaxOpenSessions == best.MaxOpenSessions && p.MaxMessagesPerSession < best.MaxMessagesPerSession) {
			best = p
		}
	}
	return best
}

// UpgradeFor returns the cheapest tier whose policy does not gate the
// agent, or "" if no tier unlocks it.
func (t *Table) UpgradeFor(agent domain.AgentID) string {
	for _, name := range []string{Starter, Pro, Growth} {
		if p, ok := t.policies[name]; ok && !p.Gated(agent) {
			return name
		}
	}
	return ""
}

// NextTier returns the next tier up from the given one, used to suggest an
// upgrade on limit rejections. Returns "" from the top tier or an unknown
// tier.
func (t *Table) NextTier(tier string) string {
	order := []string{Starter, Pro, Growth}
	for i, name := range order {
		if name == tier && i+1 < len(order) {
			if _, ok := t.policies[order[i+1]]; ok {
				return order[i+1]
			}
		}
	}
	return ""
}
