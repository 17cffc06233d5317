package game

// MaxRounds is the round ceiling; crossing it ends the game.
const MaxRounds = 3

// Resolution describes how a round was closed.
type Resolution struct {
	Outcome Outcome `json:"outcome"`
	Round   int     `json:"round"` // round that was resolved
	Phase   Phase   `json:"phase"` // phase after resolution
	Next    int     `json:"next"`  // round after resolution
}

// AdvanceRoundOrEnd increments the round and resets to ROUND_START, or
// forces END once the round passes MaxRounds (the round is left at
// MaxRounds+1).
func (g *Game) AdvanceRoundOrEnd() (int, Phase) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advanceRoundLocked()
	return g.round, g.phase
}

func (g *Game) advanceRoundLocked() {
	g.round++
	if g.round > MaxRounds {
		g.phase = PhaseEnd
		return
	}
	g.phase = PhaseRoundStart
}

// Resolve evaluates the game and then either advances the round (CONTINUE)
// or forces END. It only applies while the game is still in round and not
// over, so two writers cannot both resolve the same round.
func (g *Game) Resolve(round int) (Resolution, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.round != round || g.phase == PhaseEnd {
		return Resolution{}, false
	}
	return g.resolveLocked(), true
}

func (g *Game) resolveLocked() Resolution {
	res := Resolution{Round: g.round, Outcome: g.evaluateLocked()}
	if res.Outcome == OutcomeContinue {
		g.advanceRoundLocked()
	} else {
		g.phase = PhaseEnd
	}
	res.Phase = g.phase
	res.Next = g.round
	return res
}
