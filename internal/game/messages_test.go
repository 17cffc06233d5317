package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(g *Game) []Message {
	var out []Message
	for m := range g.CurrentRoundView() {
		out = append(out, m)
	}
	return out
}

func TestRecordStampsCurrentRound(t *testing.T) {
	g := newTestGame(t, 1)

	msg := g.Record("p1", "hello")
	assert.Equal(t, Message{SpeakerID: "p1", Round: 1, Text: "hello"}, msg)

	g.AdvanceRoundOrEnd()
	msg = g.Record("p1", "again")
	assert.Equal(t, 2, msg.Round)
}

func TestCurrentRoundViewIsRestartable(t *testing.T) {
	g := newTestGame(t, 1)
	view := g.CurrentRoundView()

	g.Record("p1", "one")
	require.Len(t, collect(g), 1)

	var first []Message
	for m := range view {
		first = append(first, m)
	}
	g.Record("p2", "two")
	var second []Message
	for m := range view {
		second = append(second, m)
	}

	assert.Len(t, first, 1)
	assert.Len(t, second, 2)
	assert.Equal(t, "two", second[1].Text)
}

func TestCurrentRoundViewFiltersByRound(t *testing.T) {
	g := newTestGame(t, 1)
	g.Record("p1", "old")
	g.AdvanceRoundOrEnd()
	g.Record("p1", "new")

	msgs := collect(g)
	require.Len(t, msgs, 1)
	assert.Equal(t, "new", msgs[0].Text)
}

func TestCurrentRoundViewStopsEarly(t *testing.T) {
	g := newTestGame(t, 1)
	for i := 0; i < 5; i++ {
		g.Record("p1", "x")
	}
	n := 0
	for range g.CurrentRoundView() {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestAnnounceAndSummarizeAreGuarded(t *testing.T) {
	g := newTestGame(t, 1)

	msg, ok := g.Announce(1)
	require.True(t, ok)
	assert.Equal(t, RulesAnnouncement, msg.Text)
	assert.Equal(t, g.Host().ID, msg.SpeakerID)
	assert.Equal(t, PhaseHostAnnounce, g.Phase())

	_, ok = g.Announce(1)
	assert.False(t, ok)

	_, ok = g.Summarize(1)
	assert.False(t, ok, "cannot summarize before discussion")

	g.AdvancePhase()
	msg, ok = g.Summarize(1)
	require.True(t, ok)
	assert.Equal(t, "Round 1 summary: please vote on who you think is the AI.", msg.Text)
	assert.Equal(t, PhaseSummary, g.Phase())
}

func TestAppendRepliesDropsLateReplies(t *testing.T) {
	g := newTestGame(t, 2)
	replies := []Reply{{SpeakerID: "a", Text: "hi"}, {SpeakerID: "b", Text: "yo"}}

	recorded := g.AppendReplies(1, replies)
	require.Len(t, recorded, 2)
	assert.Equal(t, "a", recorded[0].SpeakerID)

	g.AdvanceRoundOrEnd()
	assert.Empty(t, g.AppendReplies(1, replies))
}

func TestLatestHumanMessage(t *testing.T) {
	g := newTestGame(t, 1)
	_, ok := g.LatestHumanMessage(1)
	assert.False(t, ok)

	human := g.Human().ID
	g.Record(human, "first")
	g.Record("other", "noise")
	g.Record(human, "second")

	msg, ok := g.LatestHumanMessage(1)
	require.True(t, ok)
	assert.Equal(t, "second", msg.Text)

	_, ok = g.LatestHumanMessage(2)
	assert.False(t, ok)
}
