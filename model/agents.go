package model

import (
	"strings"
	"sync"

	"github.com/c360studio/agentflow/workflow"
)

// AgentConfig describes one addressable agent a workflow step can bind to
// via role or agentId.
type AgentConfig struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	SystemPrompt string   `json:"systemPrompt"`
	Model        string   `json:"model"`
	Tools        []string `json:"tools,omitempty"`
	MaxTokens    int      `json:"maxTokens,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
}

// agentSet indexes one scope's agents by id (case-sensitive) and by role
// (case-insensitive, first registration wins per role).
type agentSet struct {
	byID   map[string]*AgentConfig
	byRole map[string]*AgentConfig
}

func newAgentSet() *agentSet {
	return &agentSet{byID: make(map[string]*AgentConfig), byRole: make(map[string]*AgentConfig)}
}

func (s *agentSet) add(a *AgentConfig) {
	s.byID[a.ID] = a
	key := strings.ToLower(a.Role)
	if _, exists := s.byRole[key]; !exists {
		s.byRole[key] = a
	}
}

// AgentDirectory resolves a workflow step's role/agentId binding to a
// concrete AgentConfig, per spec §4.9 step 2: an explicit agentId is
// looked up only within the requesting project's agent set
// (case-sensitive); a role is looked up first in the project
// (case-insensitive), then in the global registry (case-insensitive).
type AgentDirectory struct {
	mu       sync.RWMutex
	global   *agentSet
	projects map[string]*agentSet
}

// NewAgentDirectory constructs an empty AgentDirectory.
func NewAgentDirectory() *AgentDirectory {
	return &AgentDirectory{
		global:   newAgentSet(),
		projects: make(map[string]*agentSet),
	}
}

// RegisterGlobal adds (or replaces) an agent in the global registry.
func (d *AgentDirectory) RegisterGlobal(a *AgentConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.global.add(a)
}

// RegisterProject adds (or replaces) an agent scoped to projectID.
func (d *AgentDirectory) RegisterProject(projectID string, a *AgentConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.projects[projectID]
	if !ok {
		set = newAgentSet()
		d.projects[projectID] = set
	}
	set.add(a)
}

// ResolveAgentID looks up agentId within projectID's agent set only. There
// is no global fallback for an explicit agentId binding. stepID is used
// only to annotate a workflow.AgentUnresolvedError.
func (d *AgentDirectory) ResolveAgentID(projectID, agentID, stepID string) (*AgentConfig, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if set, ok := d.projects[projectID]; ok {
		if a, ok := set.byID[agentID]; ok {
			return a, nil
		}
	}
	return nil, &workflow.AgentUnresolvedError{StepID: stepID, Agent: agentID}
}

// ResolveRole looks up role first in projectID's agent set, then in the
// global registry, both case-insensitively.
func (d *AgentDirectory) ResolveRole(projectID, role, stepID string) (*AgentConfig, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	key := strings.ToLower(role)
	if set, ok := d.projects[projectID]; ok {
		if a, ok := set.byRole[key]; ok {
			return a, nil
		}
	}
	if a, ok := d.global.byRole[key]; ok {
		return a, nil
	}
	return nil, &workflow.AgentUnresolvedError{StepID: stepID, Role: role}
}

// Resolve dispatches to ResolveAgentID or ResolveRole per the step's
// binding, matching workflow.WorkflowStep's "exactly one of role or
// agentId" invariant.
func (d *AgentDirectory) Resolve(projectID, role, agentID, stepID string) (*AgentConfig, error) {
	if agentID != "" {
		return d.ResolveAgentID(projectID, agentID, stepID)
	}
	return d.ResolveRole(projectID, role, stepID)
}
