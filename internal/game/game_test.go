package game

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGame(t *testing.T, personas int) *Game {
	t.Helper()
	specs := make([]PersonaSpec, 0, personas)
	for i := 1; i <= personas; i++ {
		specs = append(specs, PersonaSpec{Name: fmt.Sprintf("AI-%d", i), Description: "test persona"})
	}
	g, err := NewGame("game-1", "Alice", "Host", specs)
	require.NoError(t, err)
	return g
}

// personaAt returns the i-th AI persona (0-based) in roster order.
func personaAt(t *testing.T, g *Game, i int) Player {
	t.Helper()
	var personas []Player
	for _, p := range g.Players() {
		if p.IsPersona() {
			personas = append(personas, p)
		}
	}
	require.Less(t, i, len(personas))
	return personas[i]
}

func TestNewGameRoster(t *testing.T) {
	g := newTestGame(t, 4)

	assert.Equal(t, "game-1", g.ID)
	phase, round := g.Position()
	assert.Equal(t, PhaseRoundStart, phase)
	assert.Equal(t, 1, round)

	players := g.Players()
	require.Len(t, players, 6)
	assert.Equal(t, RoleHuman, players[0].Role)
	assert.Equal(t, "Alice", players[0].Name)
	assert.Equal(t, RoleHost, players[1].Role)
	for _, p := range players[2:] {
		assert.Equal(t, RoleAIPersona, p.Role)
		assert.Equal(t, "test persona", p.Persona)
	}

	ids := make(map[string]bool)
	for _, p := range players {
		assert.False(t, ids[p.ID], "duplicate player id %s", p.ID)
		ids[p.ID] = true
	}

	assert.Equal(t, players[0].ID, g.Human().ID)
	assert.Equal(t, players[1].ID, g.Host().ID)
}

func TestNewGameSinglePersona(t *testing.T) {
	g := newTestGame(t, 1)
	assert.Len(t, g.ActivePersonas(), 1)
}

func TestNewGameValidation(t *testing.T) {
	_, err := NewGame("", "  ", "Host", []PersonaSpec{{Name: "A"}})
	assert.Error(t, err)

	_, err = NewGame("", "Alice", "Host", nil)
	assert.Error(t, err)

	_, err = NewGame("", "Alice", "Host", []PersonaSpec{{Name: ""}})
	assert.Error(t, err)

	g, err := NewGame("", "Alice", "", []PersonaSpec{{Name: "A"}})
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, "Host", g.Host().Name)
}

func TestSnapshotForcesHostNotEliminated(t *testing.T) {
	g := newTestGame(t, 2)

	// Corrupt internal state on purpose; the projection must still hide it.
	g.mu.Lock()
	g.host.Eliminated = true
	g.mu.Unlock()

	view := g.Snapshot()
	for _, p := range view.Players {
		if p.Kind == RoleHost {
			assert.False(t, p.IsEliminated)
		}
	}
	assert.Equal(t, PhaseRoundStart, view.Phase)
	assert.Equal(t, 1, view.Round)
}

func TestSnapshotOnlyCurrentRoundMessages(t *testing.T) {
	g := newTestGame(t, 2)
	g.Record(g.Human().ID, "round one")
	g.AdvanceRoundOrEnd()
	g.Record(g.Human().ID, "round two")

	view := g.Snapshot()
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "round two", view.Messages[0].Text)
	assert.Equal(t, 2, view.Messages[0].Round)
}

func TestPlayerLookup(t *testing.T) {
	g := newTestGame(t, 2)
	p := personaAt(t, g, 1)

	found, ok := g.Player(p.ID)
	require.True(t, ok)
	assert.Equal(t, "AI-2", found.Name)

	_, ok = g.Player("nobody")
	assert.False(t, ok)
}
