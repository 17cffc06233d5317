package game

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whoishuman/whoishuman-server-go/internal/events"
	"github.com/whoishuman/whoishuman-server-go/internal/persona"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Broadcast(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(typ events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// echo answers with the persona name taken from the prompt's first line.
var echo = persona.GeneratorFunc(func(_ context.Context, prompt string) string {
	first, _, _ := strings.Cut(prompt, "\n")
	return strings.TrimSuffix(strings.TrimPrefix(first, "You are "), ".") + " replies"
})

func TestSpeakRunsDiscussion(t *testing.T) {
	g := newTestGame(t, 4)
	bus := &recorder{}

	require.NoError(t, g.Speak(context.Background(), echo, bus, "  hello everyone  "))
	assert.Equal(t, PhaseSummary, g.Phase())

	msgs := collect(g)
	require.Len(t, msgs, 7)
	assert.Equal(t, g.Host().ID, msgs[0].SpeakerID)
	assert.Equal(t, RulesAnnouncement, msgs[0].Text)
	assert.Equal(t, g.Human().ID, msgs[1].SpeakerID)
	assert.Equal(t, "hello everyone", msgs[1].Text)
	for i := 0; i < 4; i++ {
		p := personaAt(t, g, i)
		assert.Equal(t, p.ID, msgs[2+i].SpeakerID)
		assert.Equal(t, p.Name+" replies", msgs[2+i].Text)
	}
	assert.Equal(t, SummaryAnnouncement(1), msgs[6].Text)

	var phases []string
	for _, ev := range bus.ofType(events.TypePhase) {
		phases = append(phases, ev.Phase)
	}
	assert.Equal(t, []string{"ROUND_START", "HOST_ANNOUNCE", "DISCUSS", "SUMMARY"}, phases)
	assert.Len(t, bus.ofType(events.TypeMessage), 7)
}

func TestSpeakRepliesKeepRosterOrder(t *testing.T) {
	g := newTestGame(t, 3)

	// The first persona answers last.
	slow := persona.GeneratorFunc(func(ctx context.Context, prompt string) string {
		if strings.HasPrefix(prompt, "You are AI-1.") {
			time.Sleep(30 * time.Millisecond)
		}
		return echo.Generate(ctx, prompt)
	})

	require.NoError(t, g.Speak(context.Background(), slow, nil, "who is first?"))

	var speakers []string
	for m := range g.CurrentRoundView() {
		speakers = append(speakers, m.SpeakerID)
	}
	require.Len(t, speakers, 6)
	assert.Equal(t, []string{
		personaAt(t, g, 0).ID,
		personaAt(t, g, 1).ID,
		personaAt(t, g, 2).ID,
	}, speakers[2:5])
}

func TestSpeakSubstitutesEmptyReplies(t *testing.T) {
	g := newTestGame(t, 1)
	blank := persona.GeneratorFunc(func(context.Context, string) string { return "   " })

	require.NoError(t, g.Speak(context.Background(), blank, nil, "hi"))

	msgs := collect(g)
	require.Len(t, msgs, 4)
	assert.Equal(t, persona.FallbackEmpty, msgs[2].Text)
}

func TestSpeakSkipsEliminatedPersonas(t *testing.T) {
	g := newTestGame(t, 3)
	out := personaAt(t, g, 1)
	eliminate(t, g, out.ID)

	require.NoError(t, g.Speak(context.Background(), echo, nil, "hi"))

	for m := range g.CurrentRoundView() {
		assert.NotEqual(t, out.ID, m.SpeakerID)
	}
	assert.Len(t, collect(g), 5)
}

func TestSpeakAfterSummaryOnlyRecords(t *testing.T) {
	g := newTestGame(t, 2)
	require.NoError(t, g.Speak(context.Background(), echo, nil, "first"))
	before := len(collect(g))

	bus := &recorder{}
	require.NoError(t, g.Speak(context.Background(), echo, bus, "second"))

	assert.Equal(t, PhaseSummary, g.Phase())
	assert.Len(t, collect(g), before+1)
	assert.Len(t, bus.ofType(events.TypeMessage), 1)
	assert.Empty(t, bus.ofType(events.TypePhase))
}

func personaReplies(g *Game) int {
	n := 0
	for m := range g.CurrentRoundView() {
		if p, ok := g.Player(m.SpeakerID); ok && p.IsPersona() {
			n++
		}
	}
	return n
}

func TestSpeakConcurrentLinesAskPersonasOnce(t *testing.T) {
	g := newTestGame(t, 4)

	var calls atomic.Int32
	slow := persona.GeneratorFunc(func(ctx context.Context, prompt string) string {
		calls.Add(1)
		time.Sleep(30 * time.Millisecond)
		return echo.Generate(ctx, prompt)
	})

	var wg sync.WaitGroup
	for _, line := range []string{"first line", "second line"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Speak(context.Background(), slow, nil, line))
		}()
	}
	wg.Wait()

	assert.Equal(t, PhaseSummary, g.Phase())
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 4, personaReplies(g))

	human := 0
	for m := range g.CurrentRoundView() {
		if m.SpeakerID == g.Human().ID {
			human++
		}
	}
	assert.Equal(t, 2, human)
}

func TestSpeakWithDelegateLeavesPhasesAlone(t *testing.T) {
	g := newTestGame(t, 4)

	var taken []ReplyRound
	release := g.Delegate(func(req ReplyRound) bool {
		taken = append(taken, req)
		return true
	})
	defer release()

	var calls atomic.Int32
	counting := persona.GeneratorFunc(func(ctx context.Context, prompt string) string {
		calls.Add(1)
		return echo.Generate(ctx, prompt)
	})

	require.NoError(t, g.Speak(context.Background(), counting, nil, "early"))
	assert.Equal(t, PhaseRoundStart, g.Phase())
	assert.Empty(t, taken)

	g.AdvancePhase()
	g.AdvancePhase()
	require.Equal(t, PhaseDiscuss, g.Phase())

	require.NoError(t, g.Speak(context.Background(), counting, nil, "during discussion"))
	require.NoError(t, g.Speak(context.Background(), counting, nil, "again"))

	require.Len(t, taken, 1)
	assert.Equal(t, 1, taken[0].Round)
	assert.Equal(t, "during discussion", taken[0].HumanText)
	assert.Len(t, taken[0].Speakers, 4)
	assert.Equal(t, PhaseDiscuss, g.Phase())
	assert.Zero(t, calls.Load())
}

func TestSpeakRunsRepliesWhenDelegateDeclines(t *testing.T) {
	g := newTestGame(t, 2)
	release := g.Delegate(func(ReplyRound) bool { return false })
	defer release()

	g.AdvancePhase()
	g.AdvancePhase()
	require.NoError(t, g.Speak(context.Background(), echo, nil, "anyone?"))

	assert.Equal(t, PhaseSummary, g.Phase())
	assert.Equal(t, 2, personaReplies(g))
}

func TestDelegateReleaseKeepsNewerDelegate(t *testing.T) {
	g := newTestGame(t, 1)

	first := g.Delegate(func(ReplyRound) bool { return true })
	var second int
	g.Delegate(func(ReplyRound) bool {
		second++
		return true
	})
	first()

	g.AdvancePhase()
	g.AdvancePhase()
	require.NoError(t, g.Speak(context.Background(), echo, nil, "hi"))
	assert.Equal(t, 1, second)
	assert.Equal(t, PhaseDiscuss, g.Phase())
}

func TestSpeakCanceledGenerationCanBeRetried(t *testing.T) {
	g := newTestGame(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Speak(ctx, echo, nil, "hello?")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseDiscuss, g.Phase())
	assert.Zero(t, personaReplies(g))

	require.NoError(t, g.Speak(context.Background(), echo, nil, "hello again"))
	assert.Equal(t, PhaseSummary, g.Phase())
	assert.Equal(t, 2, personaReplies(g))
}

func TestOpenDiscussionClaimsEarlierLine(t *testing.T) {
	g := newTestGame(t, 3)
	_, ok := g.Announce(1)
	require.True(t, ok)
	g.Record(g.Human().ID, "said before discussion")

	req, asked, advanced := g.OpenDiscussion(1)
	require.True(t, advanced)
	require.True(t, asked)
	assert.Equal(t, "said before discussion", req.HumanText)
	assert.Len(t, req.Speakers, 3)
	assert.Equal(t, PhaseDiscuss, g.Phase())

	_, _, advanced = g.OpenDiscussion(1)
	assert.False(t, advanced)

	// The claim is spent, so a line during discussion is only recorded.
	require.NoError(t, g.Speak(context.Background(), echo, nil, "follow-up"))
	assert.Equal(t, PhaseDiscuss, g.Phase())
	assert.Zero(t, personaReplies(g))
}

func TestOpenDiscussionWithoutHumanLine(t *testing.T) {
	g := newTestGame(t, 1)
	_, ok := g.Announce(1)
	require.True(t, ok)

	_, asked, advanced := g.OpenDiscussion(1)
	assert.True(t, advanced)
	assert.False(t, asked)
}

func TestCollectRepliesStopsOnCanceledContext(t *testing.T) {
	g := newTestGame(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	replies, err := CollectReplies(ctx, echo, ReplyRound{Round: 1, HumanText: "hi", Speakers: g.ActivePersonas()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, replies)
}

func TestSpeakErrors(t *testing.T) {
	g := newTestGame(t, 1)
	assert.ErrorIs(t, g.Speak(context.Background(), echo, nil, "   "), ErrEmptyMessage)

	g.ForceEnd()
	assert.ErrorIs(t, g.Speak(context.Background(), echo, nil, "hi"), ErrGameOver)
}

func TestSubmitVotesRequiresSummary(t *testing.T) {
	g := newTestGame(t, 2)

	_, err := g.SubmitVotes(nil, []Vote{{VoterID: g.Human().ID, TargetID: personaAt(t, g, 0).ID}})
	assert.ErrorIs(t, err, ErrVotingClosed)
	assert.Equal(t, PhaseRoundStart, g.Phase())

	g.ForceEnd()
	_, err = g.SubmitVotes(nil, nil)
	assert.ErrorIs(t, err, ErrGameOver)
}

func TestSubmitVotesDropsIneligibleVoters(t *testing.T) {
	g := newTestGame(t, 3)
	require.NoError(t, g.Speak(context.Background(), echo, nil, "hi"))
	a, b := personaAt(t, g, 0), personaAt(t, g, 1)

	res, err := g.SubmitVotes(nil, []Vote{
		{VoterID: g.Host().ID, TargetID: a.ID},
		{VoterID: "stranger", TargetID: a.ID},
		{VoterID: "stranger-2", TargetID: a.ID},
		{VoterID: g.Human().ID, TargetID: b.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, res.Outcome)

	got, _ := g.Player(b.ID)
	assert.True(t, got.Eliminated)
	got, _ = g.Player(a.ID)
	assert.False(t, got.Eliminated)
}

// A human who picks out two AIs in the first two rounds wins.
func TestGameWonInTwoRounds(t *testing.T) {
	g := newTestGame(t, 4)
	bus := &recorder{}
	human := g.Human().ID
	ctx := context.Background()

	for round := 1; round <= 2; round++ {
		require.NoError(t, g.Speak(ctx, echo, bus, "I am definitely human"))
		require.Equal(t, PhaseSummary, g.Phase())

		target := personaAt(t, g, round-1)
		voters := g.ActivePersonas()
		votes := []Vote{{VoterID: human, TargetID: target.ID}}
		for _, v := range voters {
			if v.ID != target.ID {
				votes = append(votes, Vote{VoterID: v.ID, TargetID: target.ID})
			}
		}

		res, err := g.SubmitVotes(bus, votes)
		require.NoError(t, err)
		assert.Equal(t, round, res.Round)
		if round == 1 {
			assert.Equal(t, OutcomeContinue, res.Outcome)
			assert.Equal(t, 2, g.Round())
			assert.Equal(t, PhaseRoundStart, g.Phase())
		} else {
			assert.Equal(t, OutcomeWin, res.Outcome)
			assert.Equal(t, PhaseEnd, g.Phase())
		}
	}

	assert.Len(t, g.ActivePersonas(), 2)
	results := bus.ofType(events.TypeResult)
	require.Len(t, results, 2)
	assert.Equal(t, "CONTINUE", results[0].Result)
	assert.Equal(t, "WIN", results[1].Result)

	_, err := g.SubmitVotes(bus, nil)
	assert.ErrorIs(t, err, ErrGameOver)
}

func TestGameLostWhenHumanVotedOut(t *testing.T) {
	g := newTestGame(t, 3)
	require.NoError(t, g.Speak(context.Background(), echo, nil, "beep boop"))

	human := g.Human().ID
	var votes []Vote
	for _, p := range g.ActivePersonas() {
		votes = append(votes, Vote{VoterID: p.ID, TargetID: human})
	}

	res, err := g.SubmitVotes(nil, votes)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLose, res.Outcome)
	assert.Equal(t, PhaseEnd, g.Phase())
	assert.Equal(t, PhaseEnd, g.Snapshot().Phase)
}

func TestGameEndsAfterThirdRound(t *testing.T) {
	g := newTestGame(t, 4)
	ctx := context.Background()

	for round := 1; round <= 3; round++ {
		require.NoError(t, g.Speak(ctx, echo, nil, "still here"))
		res, err := g.SubmitVotes(nil, nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeContinue, res.Outcome)
	}

	assert.Equal(t, PhaseEnd, g.Phase())
	assert.Equal(t, 4, g.Round())
}
