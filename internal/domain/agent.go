// Package domain contains core domain types for the CrewDesk orchestrator.
package domain

import "fmt"

// AgentID identifies one of the named agents.
type AgentID string

const (
	// AgentSam is the general-purpose assistant, available on every tier.
	AgentSam AgentID = "sam"
	// AgentAlex is the cost and estimate specialist.
	AgentAlex AgentID = "alex"
	// AgentRex is the lead-research specialist. Rex is the only agent that
	// runs long executions.
	AgentRex AgentID = "rex"
)

// DefaultAgent is the routing fallback when no rule selects an agent.
const DefaultAgent = AgentSam

// AllAgents lists every known agent in a stable order.
var AllAgents = []AgentID{AgentSam, AgentAlex, AgentRex}

// ParseAgentID validates a raw agent identifier.
func ParseAgentID(s string) (AgentID, error) {
	for _, a := range AllAgents {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown agent %q", s)
}

// Valid reports whether the agent is one of the known identities.
func (a AgentID) Valid() bool {
	for _, known := range AllAgents {
		if a == known {
			return true
		}
	}
	return false
}
