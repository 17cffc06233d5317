package game

// Outcome is the result of evaluating a game after a vote.
type Outcome string

const (
	OutcomeWin      Outcome = "WIN"
	OutcomeLose     Outcome = "LOSE"
	OutcomeContinue Outcome = "CONTINUE"
)

const (
	// WinRoundLimit is the last round in which a win can be declared.
	WinRoundLimit = 2
	// WinEliminations is how many AI personas must be out to win.
	WinEliminations = 2
)

// Evaluate decides WIN, LOSE or CONTINUE without mutating the game.
// Human elimination is checked first and always loses.
func (g *Game) Evaluate() Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evaluateLocked()
}

func (g *Game) evaluateLocked() Outcome {
	if g.human.Eliminated {
		return OutcomeLose
	}

	eliminated := 0
	for _, p := range g.players {
		if p.IsPersona() && p.Eliminated {
			eliminated++
		}
	}
	if g.round <= WinRoundLimit && eliminated >= WinEliminations {
		return OutcomeWin
	}
	return OutcomeContinue
}
