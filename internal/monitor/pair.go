// ABOUTME: Per-pair actor state: mailbox, live status, and in-memory sample rings
// ABOUTME: All mutation of a pair's status happens inside its mailbox goroutine

package monitor

import (
	"sort"
	"time"

	"github.com/2389/pairwatch/internal/store"
)

// mailboxSize bounds how many operations may queue per pair before
// callers block.
const mailboxSize = 32

// sampleRetention is how long in-memory activity and conflict samples are
// kept. Anomaly rules look back one hour at most.
const sampleRetention = time.Hour

// activitySample is one reported message-count observation.
type activitySample struct {
	side  side
	count int
	at    time.Time
}

// side identifies which agent of the pair a sample belongs to.
type side int

const (
	sideA side = iota
	sideB
)

// pairState is owned exclusively by its mailbox goroutine. Fields are only
// touched from closures executed there.
type pairState struct {
	status  *store.CollaborationStatus
	mailbox chan func()

	samples           []activitySample
	conflicts         []time.Time
	events            []time.Time
	integrityFailures []time.Time
}

// PairKey derives the canonical pair identifier from two agent IDs.
// Order-insensitive so initialize(a,b) and initialize(b,a) address the
// same pair.
func PairKey(agentA, agentB string) string {
	a, b := sortAgents(agentA, agentB)
	return a + "--" + b
}

func sortAgents(agentA, agentB string) (string, string) {
	ids := []string{agentA, agentB}
	sort.Strings(ids)
	return ids[0], ids[1]
}

// trimBefore drops ring entries older than the cutoff.
func (p *pairState) trimBefore(cutoff time.Time) {
	p.samples = trimSamples(p.samples, cutoff)
	p.conflicts = trimTimes(p.conflicts, cutoff)
	p.events = trimTimes(p.events, cutoff)
	p.integrityFailures = trimTimes(p.integrityFailures, cutoff)
}

func trimSamples(in []activitySample, cutoff time.Time) []activitySample {
	i := 0
	for i < len(in) && in[i].at.Before(cutoff) {
		i++
	}
	return in[i:]
}

func trimTimes(in []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(in) && in[i].Before(cutoff) {
		i++
	}
	return in[i:]
}

// countsSince sums per-side message counts observed at or after the cutoff.
func (p *pairState) countsSince(cutoff time.Time) (countA, countB int) {
	for _, s := range p.samples {
		if s.at.Before(cutoff) {
			continue
		}
		if s.side == sideA {
			countA += s.count
		} else {
			countB += s.count
		}
	}
	return countA, countB
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range times {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}

// sideFor maps an agent ID to its side of the pair, or ok=false for an
// agent that is not part of the pair.
func (p *pairState) sideFor(agentID string) (side, bool) {
	switch agentID {
	case p.status.AgentA:
		return sideA, true
	case p.status.AgentB:
		return sideB, true
	default:
		return sideA, false
	}
}
