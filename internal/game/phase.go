package game

import "fmt"

// Phase is one step of the fixed per-round sequence.
type Phase int

const (
	PhaseRoundStart Phase = iota
	PhaseHostAnnounce
	PhaseDiscuss
	PhaseSummary
	PhaseVote
	PhaseEnd
)

var phaseNames = map[Phase]string{
	PhaseRoundStart:   "ROUND_START",
	PhaseHostAnnounce: "HOST_ANNOUNCE",
	PhaseDiscuss:      "DISCUSS",
	PhaseSummary:      "SUMMARY",
	PhaseVote:         "VOTE",
	PhaseEnd:          "END",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PHASE_%d", int(p))
}

// MarshalText renders the phase by name in JSON views.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// Next returns the phase that follows p; END is terminal.
func (p Phase) Next() Phase {
	if p >= PhaseEnd {
		return PhaseEnd
	}
	return p + 1
}

// AdvancePhase moves the game one step forward. At END it is a no-op.
// No legality checks are made; callers sequence the calls.
func (g *Game) AdvancePhase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.phase = g.phase.Next()
	return g.phase
}

// ForceEnd jumps straight to END.
func (g *Game) ForceEnd() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.phase = PhaseEnd
}

// AdvanceFrom advances one step only if the game is still in round at phase
// expected. It reports whether the step was applied, so a writer that lost a
// race with another writer does not advance twice.
func (g *Game) AdvanceFrom(round int, expected Phase) (Phase, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.atLocked(round, expected) {
		return g.phase, false
	}
	g.phase = g.phase.Next()
	return g.phase, true
}

func (g *Game) atLocked(round int, phase Phase) bool {
	return g.round == round && g.phase == phase
}
