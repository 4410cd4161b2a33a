package model

import "time"

// Agent types. Verifier agents review CLIENT step submissions; creator agents
// perform ADMIN step work. A dual-role agent is eligible for both pools, with
// pool-specific workload counting.
const (
	AgentTypeVerifier        = "VERIFICATEUR"
	AgentTypeCreator         = "CREATEUR"
	AgentTypeVerifierCreator = "VERIFICATEUR_ET_CREATEUR"
)

// Agent is a staff identity eligible for auto-assignment.
type Agent struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AgentType string    `json:"agent_type"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// EligibleFor reports whether the agent can take work for the given step
// type pool.
func (a *Agent) EligibleFor(stepType string) bool {
	switch stepType {
	case StepTypeClient:
		return a.AgentType == AgentTypeVerifier || a.AgentType == AgentTypeVerifierCreator
	case StepTypeAdmin:
		return a.AgentType == AgentTypeCreator || a.AgentType == AgentTypeVerifierCreator
	default:
		return false
	}
}

// Roles an agent can hold on a dossier through a DossierAgentAssignment.
const (
	DossierRoleVerifier = "VERIFICATEUR"
	DossierRoleCreator  = "CREATEUR"
	DossierRoleManager  = "GESTIONNAIRE"
)

// DossierAgentAssignment links an agent to a dossier in a given role. It
// gates visibility: an agent only sees dossiers they are assigned to, unless
// they are a global admin.
type DossierAgentAssignment struct {
	ID        string    `json:"id"`
	DossierID string    `json:"dossier_id"`
	AgentID   string    `json:"agent_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
