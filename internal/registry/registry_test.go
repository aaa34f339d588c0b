package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/foremanlabs/crewdesk/internal/domain"
	"github.com/foremanlabs/crewdesk/internal/tier"
)

func growthPolicy(t *testing.T) tier.Policy {
	t.Helper()
	p, err := tier.Load().PolicyFor(tier.Growth)
	if err != nil {
		t.Fatalf("PolicyFor(growth) failed: %v", err)
	}
	return p
}

func starterPolicy(t *testing.T) tier.Policy {
	t.Helper()
	p, err := tier.Load().PolicyFor(tier.Starter)
	if err != nil {
		t.Fatalf("PolicyFor(starter) failed: %v", err)
	}
	return p
}

func TestOpenIsIdempotent(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	policy := growthPolicy(t)

	first, err := r.Open(ctx, "u1", domain.AgentSam, policy)
	if err != nil {
		t.Fatalf("First open failed: %v", err)
	}
	second, err := r.Open(ctx, "u1", domain.AgentSam, policy)
	if err != nil {
		t.Fatalf("Second open failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("Expected the same session, got %s and %s", first.ID, second.ID)
	}
	if r.OpenCount("u1") != 1 {
		t.Errorf("Expected 1 open session, got %d", r.OpenCount("u1"))
	}
}

func TestOpenEnforcesSessionLimit(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	policy := starterPolicy(t) // max 1 open session

	if _, err := r.Open(ctx, "u1", domain.AgentSam, policy); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_, err := r.Open(ctx, "u1", domain.AgentAlex, policy)
	if !errors.Is(err, ErrAgentGated) {
		// starter gates alex before the limit applies
		t.Fatalf("Expected ErrAgentGated, got %v", err)
	}

	// A growth user with all three agents open hits the session ceiling on
	// a hypothetical fourth, but with three agents the limit of 3 can only
	// be probed by lowering it.
	tight := growthPolicy(t)
	tight.MaxOpenSessions = 1
	r2 := New(nil)
	if _, err := r2.Open(ctx, "u2", domain.AgentSam, tight); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := r2.Open(ctx, "u2", domain.AgentAlex, tight); !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("Expected ErrSessionLimit, got %v", err)
	}
	// Re-opening the already-open agent still succeeds at the limit.
	if _, err := r2.Open(ctx, "u2", domain.AgentSam, tight); err != nil {
		t.Errorf("Re-open at the limit failed: %v", err)
	}
}

func TestOpenRejectsGatedAgent(t *testing.T) {
	r := New(nil)

	_, err := r.Open(context.Background(), "u1", domain.AgentRex, starterPolicy(t))
	if !errors.Is(err, ErrAgentGated) {
		t.Fatalf("Expected ErrAgentGated, got %v", err)
	}
	if r.OpenCount("u1") != 0 {
		t.Errorf("Rejected open must not mutate, got %d sessions", r.OpenCount("u1"))
	}
}

func TestAppendCountsOnlyUserMessages(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	policy := growthPolicy(t)
	policy.MaxMessagesPerSession = 2

	if _, err := r.Open(ctx, "u1", domain.AgentSam, policy); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := r.Append(ctx, "u1", domain.AgentSam, domain.NewMessage(domain.RoleUser, "hi"), policy); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		if err := r.Append(ctx, "u1", domain.AgentSam, domain.NewMessage(domain.RoleAssistant, "hello"), policy); err != nil {
			t.Fatalf("Assistant append %d failed: %v", i, err)
		}
	}

	err := r.Append(ctx, "u1", domain.AgentSam, domain.NewMessage(domain.RoleUser, "one too many"), policy)
	if !errors.Is(err, ErrMessageLimit) {
		t.Fatalf("Expected ErrMessageLimit, got %v", err)
	}

	// System and assistant messages still append after the limit.
	if err := r.Append(ctx, "u1", domain.AgentSam, domain.NewMessage(domain.RoleSystem, "limit reached"), policy); err != nil {
		t.Errorf("System append after limit failed: %v", err)
	}
}

func TestMessageLimitResetsWithFreshSession(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	policy := growthPolicy(t)
	policy.MaxMessagesPerSession = 1

	if _, err := r.Open(ctx, "u1", domain.AgentSam, policy); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := r.Append(ctx, "u1", domain.AgentSam, domain.NewMessage(domain.RoleUser, "first"), policy); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Once rejected, every further user append on this session fails.
	for i := 0; i < 3; i++ {
		err := r.Append(ctx, "u1", domain.AgentSam, domain.NewMessage(domain.RoleUser, "again"), policy)
		if !errors.Is(err, ErrMessageLimit) {
			t.Fatalf("Attempt %d: expected ErrMessageLimit, got %v", i, err)
		}
	}

	r.Close(ctx, "u1", domain.AgentSam)
	if _, err := r.Open(ctx, "u1", domain.AgentSam, policy); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if err := r.Append(ctx, "u1", domain.AgentSam, domain.NewMessage(domain.RoleUser, "fresh"), policy); err != nil {
		t.Errorf("Append on fresh session failed: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	r.Close(ctx, "u1", domain.AgentSam) // never opened

	if _, err := r.Open(ctx, "u1", domain.AgentSam, growthPolicy(t)); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	r.Close(ctx, "u1", domain.AgentSam)
	r.Close(ctx, "u1", domain.AgentSam)

	if r.OpenCount("u1") != 0 {
		t.Errorf("Expected 0 open sessions, got %d", r.OpenCount("u1"))
	}
}

func TestSnapshotPreservesOpeningOrder(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	policy := growthPolicy(t)

	for _, agent := range []domain.AgentID{domain.AgentRex, domain.AgentSam, domain.AgentAlex} {
		if _, err := r.Open(ctx, "u1", agent, policy); err != nil {
			t.Fatalf("Open %s failed: %v", agent, err)
		}
	}

	snap := r.Snapshot("u1")
	if len(snap) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(snap))
	}
	want := []domain.AgentID{domain.AgentRex, domain.AgentSam, domain.AgentAlex}
	for i, s := range snap {
		if s.AgentID != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], s.AgentID)
		}
	}
}

func TestAppendPreservesOrderUnderConcurrency(t *testing.T) {
	t.Parallel()

	r := New(nil)
	ctx := context.Background()
	policy := growthPolicy(t)
	policy.MaxMessagesPerSession = 1000

	if _, err := r.Open(ctx, "u1", domain.AgentSam, policy); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				msg := domain.NewMessage(domain.RoleUser, fmt.Sprintf("w%d-%d", w, i))
				if err := r.Append(ctx, "u1", domain.AgentSam, msg, policy); err != nil {
					t.Errorf("Append failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	session, ok := r.Get("u1", domain.AgentSam)
	if !ok {
		t.Fatal("Session disappeared")
	}
	if got := len(session.Messages); got != writers*perWriter {
		t.Errorf("Expected %d messages, got %d", writers*perWriter, got)
	}
}

func TestConcurrentOpenYieldsSingleSession(t *testing.T) {
	t.Parallel()

	r := New(nil)
	ctx := context.Background()
	policy := growthPolicy(t)

	const callers = 16
	ids := make([]string, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, err := r.Open(ctx, "u1", domain.AgentSam, policy)
			if err != nil {
				t.Errorf("Open failed: %v", err)
				return
			}
			ids[i] = session.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("Concurrent opens produced different sessions: %s vs %s", ids[0], ids[i])
		}
	}
	if r.OpenCount("u1") != 1 {
		t.Errorf("Expected exactly one open session, got %d", r.OpenCount("u1"))
	}
}

func TestEvictUser(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	policy := growthPolicy(t)

	if _, err := r.Open(ctx, "u1", domain.AgentSam, policy); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := r.Open(ctx, "u1", domain.AgentAlex, policy); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	r.EvictUser(ctx, "u1")
	r.EvictUser(ctx, "u1") // idempotent

	if r.OpenCount("u1") != 0 {
		t.Errorf("Expected 0 sessions after eviction, got %d", r.OpenCount("u1"))
	}
}
