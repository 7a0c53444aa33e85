// ABOUTME: Responder boundary for external agent processes feeding activity reports
// ABOUTME: The monitor core never calls this; only the agent CLI drives it

package agentclient

import "context"

// Reply is one turn produced by an agent in response to an input prompt.
type Reply struct {
	Text           string
	IntegrityScore float64
}

// Responder produces agent replies. Implementations may shell out to a
// real agent process or replay a script.
type Responder interface {
	Respond(ctx context.Context, agentID, input string) (Reply, error)
}
