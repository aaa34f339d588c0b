package tier

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/foremanlabs/crewdesk/internal/domain"
)

func TestPolicyForKnownTiers(t *testing.T) {
	table := Load()

	tests := []struct {
		tier         string
		maxSessions  int
		maxMessages  int
		maxExecs     int
		gatesAlex    bool
		gatesRex     bool
	}{
		{Starter, 1, 20, 0, true, true},
		{Pro, 2, 50, 1, false, true},
		{Growth, 3, 100, 2, false, false},
	}

	for _, tt := range tests {
		p, err := table.PolicyFor(tt.tier)
		if err != nil {
			t.Fatalf("PolicyFor(%q) failed: %v", tt.tier, err)
		}
		if p.MaxOpenSessions != tt.maxSessions {
			t.Errorf("%s: expected %d max sessions, got %d", tt.tier, tt.maxSessions, p.MaxOpenSessions)
		}
		if p.MaxMessagesPerSession != tt.maxMessages {
			t.Errorf("%s: expected %d max messages, got %d", tt.tier, tt.maxMessages, p.MaxMessagesPerSession)
		}
		if p.MaxConcurrentExecutions != tt.maxExecs {
			t.Errorf("%s: expected %d max executions, got %d", tt.tier, tt.maxExecs, p.MaxConcurrentExecutions)
		}
		if p.Gated(domain.AgentAlex) != tt.gatesAlex {
			t.Errorf("%s: alex gating mismatch", tt.tier)
		}
		if p.Gated(domain.AgentRex) != tt.gatesRex {
			t.Errorf("%s: rex gating mismatch", tt.tier)
		}
		if p.Gated(domain.AgentSam) {
			t.Errorf("%s: sam must never be gated", tt.tier)
		}
	}
}

func TestPolicyForUnknownTier(t *testing.T) {
	table := Load()

	_, err := table.PolicyFor("enterprise-platinum")
	if !errors.Is(err, ErrUnknownTier) {
		t.Fatalf("Expected ErrUnknownTier, got %v", err)
	}
}

func TestMostRestrictive(t *testing.T) {
	table := Load()

	p := table.MostRestrictive()
	if p.Tier != Starter {
		t.Errorf("Expected starter as most restrictive, got %q", p.Tier)
	}
}

func TestUpgradeFor(t *testing.T) {
	table := Load()

	if got := table.UpgradeFor(domain.AgentAlex); got != Pro {
		t.Errorf("Expected pro unlocks alex, got %q", got)
	}
	if got := table.UpgradeFor(domain.AgentRex); got != Growth {
		t.Errorf("Expected growth unlocks rex, got %q", got)
	}
	if got := table.UpgradeFor(domain.AgentSam); got != Starter {
		t.Errorf("Expected starter already has sam, got %q", got)
	}
}

func TestNextTier(t *testing.T) {
	table := Load()

	if got := table.NextTier(Starter); got != Pro {
		t.Errorf("Expected pro after starter, got %q", got)
	}
	if got := table.NextTier(Growth); got != "" {
		t.Errorf("Expected no tier above growth, got %q", got)
	}
	if got := table.NextTier("bogus"); got != "" {
		t.Errorf("Expected no suggestion for unknown tier, got %q", got)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	content := `
policies:
  - tier: basic
    max_open_sessions: 1
    max_messages_per_session: 10
    max_concurrent_executions: 0
    gated_agents: [alex, rex]
  - tier: team
    max_open_sessions: 5
    max_messages_per_session: 200
    max_concurrent_executions: 2
global_execution_ceiling: 4
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	table, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if table.GlobalExecutionCeiling != 4 {
		t.Errorf("Expected ceiling 4, got %d", table.GlobalExecutionCeiling)
	}

	p, err := table.PolicyFor("team")
	if err != nil {
		t.Fatalf("PolicyFor(team) failed: %v", err)
	}
	if p.MaxOpenSessions != 5 {
		t.Errorf("Expected 5 max sessions, got %d", p.MaxOpenSessions)
	}

	if _, err := table.PolicyFor(Growth); !errors.Is(err, ErrUnknownTier) {
		t.Errorf("File-defined table should replace built-in tiers, got %v", err)
	}
}

func TestLoadFileRejectsUnknownAgent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	content := `
policies:
  - tier: basic
    max_open_sessions: 1
    max_messages_per_session: 10
    gated_agents: [ziggy]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("Expected error for unknown gated agent")
	}
}
