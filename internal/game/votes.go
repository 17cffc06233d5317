package game

import "fmt"

// Vote is one voter's choice as submitted.
type Vote struct {
	VoterID  string `json:"voterId"`
	TargetID string `json:"targetId"`
}

// Ballots maps a target id to the ordered ids of the voters who chose it.
type Ballots map[string][]string

// CollapseBallots groups votes by target, keeping submission order. A voter
// who appears twice keeps only their last choice.
func CollapseBallots(votes []Vote) Ballots {
	last := make(map[string]int, len(votes))
	for i, v := range votes {
		last[v.VoterID] = i
	}

	ballots := make(Ballots)
	for i, v := range votes {
		if last[v.VoterID] != i {
			continue
		}
		ballots[v.TargetID] = append(ballots[v.TargetID], v.VoterID)
	}
	return ballots
}

// TallyAndEliminate counts the ballots and eliminates the target with the
// strictly highest count. Unknown targets are ignored and votes for the host
// are discarded. Ties go to the target seated earliest in the roster. On an
// elimination a system message is appended. Callers invoke it at most once
// per voting window.
func (g *Game) TallyAndEliminate(ballots Ballots) (Player, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, _ := g.tallyLocked(ballots)
	if p == nil {
		return Player{}, false
	}
	return *p, true
}

func (g *Game) tallyLocked(ballots Ballots) (*Player, Message) {
	var (
		winner *Player
		best   int
	)
	// Roster order makes ties deterministic.
	for _, p := range g.players {
		if p.Role == RoleHost {
			continue
		}
		count := len(ballots[p.ID])
		if count > best {
			winner, best = p, count
		}
	}
	if winner == nil {
		return nil, Message{}
	}

	winner.Eliminated = true
	msg := g.recordLocked(SystemSpeaker, fmt.Sprintf("%s was eliminated at round %d.", winner.Name, g.round))
	return winner, msg
}

// eligibleVotesLocked drops ballots cast by unknown, eliminated or host players.
func (g *Game) eligibleVotesLocked(votes []Vote) []Vote {
	eligible := make([]Vote, 0, len(votes))
	for _, v := range votes {
		voter := g.playerLocked(v.VoterID)
		if voter == nil || voter.Eliminated || voter.Role == RoleHost {
			continue
		}
		eligible = append(eligible, v)
	}
	return eligible
}
