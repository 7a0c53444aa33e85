// ABOUTME: Scripted responder used by the simulator and tests
// ABOUTME: Cycles through a fixed list of replies per agent

package agentclient

import (
	"context"
	"errors"
	"sync"
)

// ErrNoScript is returned when a responder has no replies configured.
var ErrNoScript = errors.New("no scripted replies configured")

// StaticResponder replays a fixed script of replies, cycling when the
// script is exhausted. Positions are tracked per agent so interleaved
// agents each see the script from the start.
type StaticResponder struct {
	mu      sync.Mutex
	script  []Reply
	cursors map[string]int
}

// NewStaticResponder creates a responder that cycles through the given replies.
func NewStaticResponder(script []Reply) *StaticResponder {
	return &StaticResponder{
		script:  script,
		cursors: make(map[string]int),
	}
}

// Respond returns the next scripted reply for the agent.
func (s *StaticResponder) Respond(ctx context.Context, agentID, input string) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.script) == 0 {
		return Reply{}, ErrNoScript
	}

	i := s.cursors[agentID]
	s.cursors[agentID] = (i + 1) % len(s.script)
	return s.script[i], nil
}
