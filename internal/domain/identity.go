package domain

// Identity holds the two backend identifiers attached to a session. They are
// created at different times: the agent session id appears only after the
// first completed turn, while the user session id may be minted client-side
// before the backend has ever been invoked.
type Identity struct {
	// AgentSessionID resumes prior agent conversation context on the
	// next turn. Empty until the first successful turn.
	AgentSessionID string `json:"agent_session_id,omitempty"`

	// UserSessionID isolates this session's uploaded file and accumulated
	// edits on a shared backend. A backend-confirmed value is
	// authoritative over a client-minted one.
	UserSessionID string `json:"user_session_id,omitempty"`
}

// Adopt returns the identity after absorbing backend-supplied identifiers.
// A non-empty backend value always wins; empty values never clear an
// existing identifier.
func (id Identity) Adopt(agentSessionID, userSessionID string) Identity {
	if agentSessionID != "" {
		id.AgentSessionID = agentSessionID
	}
	if userSessionID != "" {
		id.UserSessionID = userSessionID
	}
	return id
}
