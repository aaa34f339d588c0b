// Package router decides which agent receives a typed message.
package router

import (
	"strings"

	"github.com/foremanlabs/crewdesk/internal/domain"
)

// Rule names which routing rule selected the agent, for logging and the
// chat response payload.
type Rule string

const (
	RuleMention  Rule = "mention"
	RuleKeyword  Rule = "keyword"
	RuleRecent   Rule = "recent_session"
	RuleFallback Rule = "default"
)

// Decision is the outcome of routing one message.
type Decision struct {
	AgentID domain.AgentID
	Rule    Rule
	// Text is the input with any @mention token stripped.
	Text string
}

// KeywordRule maps a keyword set to an agent. Rules are scanned in slice
// order and the first rule with any keyword present wins, so cross-agent
// ties resolve by table position, not map iteration.
type KeywordRule struct {
	AgentID  domain.AgentID `yaml:"agent"`
	Keywords []string       `yaml:"keywords"`
}

// DefaultKeywordTable is the built-in routing table. Order matters: rex's
// lead-hunting vocabulary is checked before alex's estimating vocabulary,
// so a message matching both routes to rex.
var DefaultKeywordTable = []KeywordRule{
	{AgentID: domain.AgentRex, Keywords: []string{"find", "leads", "lead", "opportunities", "prospect", "prospects", "bids"}},
	{AgentID: domain.AgentAlex, Keywords: []string{"estimate", "cost", "price", "quote", "materials", "budget"}},
}

// Router routes raw input to exactly one agent. It holds no mutable state
// and never mutates its inputs: given the same text, snapshot, and table,
// Route always returns the same decision.
type Router struct {
	table []KeywordRule
}

// New creates a router over the given keyword table. A nil table uses the
// built-in one.
func New(table []KeywordRule) *Router {
	if table == nil {
		table = DefaultKeywordTable
	}
	return &Router{table: table}
}

// Route selects the target agent for the input, in strict priority order:
// explicit @mention, keyword table scan, most recently active open
// session, then the default agent. Mentions of gated agents still route to
// them; gating is enforced downstream so the user gets an explanation
// instead of a silent reroute.
func (r *Router) Route(text string, open []domain.OpenSession) Decision {
	if agentID, stripped, ok := mentionedAgent(text); ok {
		return Decision{AgentID: agentID, Rule: RuleMention, Text: stripped}
	}

	tokens := tokenize(text)
	for _, rule := range r.table {
		for _, kw := range rule.Keywords {
			if _, ok := tokens[kw]; ok {
				return Decision{AgentID: rule.AgentID, Rule: RuleKeyword, Text: text}
			}
		}
	}

	if agentID, ok := mostRecentlyActive(open); ok {
		return Decision{AgentID: agentID, Rule: RuleRecent, Text: text}
	}

	return Decision{AgentID: domain.DefaultAgent, Rule: RuleFallback, Text: text}
}

// mentionedAgent finds the first recognized @agent token and returns the
// input with that token removed. Unrecognized @tokens are left alone.
func mentionedAgent(text string) (domain.AgentID, string, bool) {
	fields := strings.Fields(text)
	for i, f := range fields {
		if !strings.HasPrefix(f, "@") {
			continue
		}
		name := strings.ToLower(strings.TrimRight(strings.TrimPrefix(f, "@"), ".,:;!?"))
		agentID, err := domain.ParseAgentID(name)
		if err != nil {
			continue
		}
		stripped := strings.Join(append(append([]string{}, fields[:i]...), fields[i+1:]...), " ")
		return agentID, strings.TrimSpace(stripped), true
	}
	return "", "", false
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,:;!?\"'()")
		if f != "" {
			tokens[f] = struct{}{}
		}
	}
	return tokens
}

func mostRecentlyActive(open []domain.OpenSession) (domain.AgentID, bool) {
	if len(open) == 0 {
		return "", false
	}
	best := open[0]
	for _, s := range open[1:] {
		if s.LastActiveAt.After(best.LastActiveAt) {
			best = s
		}
	}
	return best.AgentID, true
}
