package game

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Game is one session: a human, a host and N AI personas moving through
// rounds of phases. All mutation goes through methods that hold mu, so the
// autonomous host loop and manual player actions can share an instance.
type Game struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	phase    Phase
	round    int
	players  []*Player // human, host, then personas
	human    *Player
	host     *Player
	messages []Message

	repliesRound int // last round whose persona replies were requested
	delegate     func(ReplyRound) bool
	delegateSeq  int
}

// NewGame builds the fixed roster. At least one persona is required.
func NewGame(id, humanName, hostName string, personas []PersonaSpec) (*Game, error) {
	humanName = strings.TrimSpace(humanName)
	if humanName == "" {
		return nil, fmt.Errorf("human name is required")
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("at least one AI persona is required")
	}
	if strings.TrimSpace(hostName) == "" {
		hostName = "Host"
	}
	if id == "" {
		id = uuid.NewString()
	}

	human := &Player{ID: uuid.NewString(), Name: humanName, Role: RoleHuman}
	host := &Player{ID: uuid.NewString(), Name: hostName, Role: RoleHost}

	players := make([]*Player, 0, len(personas)+2)
	players = append(players, human, host)
	for i, spec := range personas {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("persona %d: name is required", i)
		}
		players = append(players, &Player{
			ID:      uuid.NewString(),
			Name:    name,
			Role:    RoleAIPersona,
			Persona: spec.Description,
		})
	}

	return &Game{
		ID:        id,
		CreatedAt: time.Now(),
		phase:     PhaseRoundStart,
		round:     1,
		players:   players,
		human:     human,
		host:      host,
		messages:  make([]Message, 0, 32),
	}, nil
}

// Position returns the current phase and round together.
func (g *Game) Position() (Phase, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase, g.round
}

// Phase returns the current phase.
func (g *Game) Phase() Phase {
	phase, _ := g.Position()
	return phase
}

// Round returns the current round (1-based).
func (g *Game) Round() int {
	_, round := g.Position()
	return round
}

// Human returns a copy of the single human player.
func (g *Game) Human() Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.human
}

// Host returns a copy of the host player.
func (g *Game) Host() Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.host
}

// Player looks up a player by id.
func (g *Game) Player(id string) (Player, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p := g.playerLocked(id); p != nil {
		return *p, true
	}
	return Player{}, false
}

// Players returns copies of all players in roster order.
func (g *Game) Players() []Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	players := make([]Player, 0, len(g.players))
	for _, p := range g.players {
		players = append(players, *p)
	}
	return players
}

// ActivePersonas returns the AI personas that have not been eliminated.
func (g *Game) ActivePersonas() []Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activePersonasLocked()
}

func (g *Game) activePersonasLocked() []Player {
	active := make([]Player, 0, len(g.players))
	for _, p := range g.players {
		if p.IsPersona() && !p.Eliminated {
			active = append(active, *p)
		}
	}
	return active
}

func (g *Game) playerLocked(id string) *Player {
	for _, p := range g.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// PlayerView is the public projection of a player.
type PlayerView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Kind         Role   `json:"kind"`
	IsEliminated bool   `json:"isEliminated"`
}

// View is the externally visible snapshot of a game. Messages are limited
// to the current round.
type View struct {
	ID       string       `json:"id"`
	Phase    Phase        `json:"phase"`
	Round    int          `json:"round"`
	Players  []PlayerView `json:"players"`
	Messages []Message    `json:"messages"`
}

// Snapshot returns a consistent public view of the game.
func (g *Game) Snapshot() View {
	g.mu.Lock()
	defer g.mu.Unlock()

	players := make([]PlayerView, 0, len(g.players))
	for _, p := range g.players {
		eliminated := p.Eliminated
		if p.Role == RoleHost {
			eliminated = false
		}
		players = append(players, PlayerView{
			ID:           p.ID,
			Name:         p.Name,
			Kind:         p.Role,
			IsEliminated: eliminated,
		})
	}

	messages := make([]Message, 0)
	for _, m := range g.messages {
		if m.Round == g.round {
			messages = append(messages, m)
		}
	}

	return View{
		ID:       g.ID,
		Phase:    g.phase,
		Round:    g.round,
		Players:  players,
		Messages: messages,
	}
}
