package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/whoishuman/whoishuman-server-go/internal/events"
	"github.com/whoishuman/whoishuman-server-go/internal/persona"
	"golang.org/x/sync/errgroup"
)

var (
	ErrGameOver     = errors.New("game is over")
	ErrVotingClosed = errors.New("voting is not open in this phase")
	ErrEmptyMessage = errors.New("message is empty")
)

// Reply is one persona's answer during discussion.
type Reply struct {
	SpeakerID string
	Text      string
}

// ReplyRound is a claimed request for one reply per active persona to the
// human's line. At most one is handed out per round.
type ReplyRound struct {
	Round     int
	HumanText string
	Speakers  []Player
}

// CollectReplies asks every speaker to answer the human concurrently and
// returns the replies in speaker order, whatever order they completed in.
// It fails only if ctx ends before all replies are in.
func CollectReplies(ctx context.Context, gen persona.Generator, req ReplyRound) ([]Reply, error) {
	replies := make([]Reply, len(req.Speakers))

	eg, ctx := errgroup.WithContext(ctx)
	for i, p := range req.Speakers {
		eg.Go(func() error {
			text := strings.TrimSpace(gen.Generate(ctx, persona.BuildPrompt(p.Name, p.Persona, req.Round, req.HumanText)))
			if err := ctx.Err(); err != nil {
				return err
			}
			if text == "" {
				text = persona.FallbackEmpty
			}
			replies[i] = Reply{SpeakerID: p.ID, Text: text}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return replies, nil
}

// Delegate hands reply rounds claimed by Speak to fn instead of running them
// inline. fn reports false when it cannot take the request, and Speak then
// runs it itself. The returned func removes this delegation; it is a no-op
// once another Delegate call has replaced it.
func (g *Game) Delegate(fn func(ReplyRound) bool) (release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delegateSeq++
	token := g.delegateSeq
	g.delegate = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.delegateSeq == token {
			g.delegate = nil
		}
	}
}

// OpenDiscussion moves HOST_ANNOUNCE of round to DISCUSS. If the human has
// already spoken in round and nobody has asked the personas yet, the reply
// round is claimed for the caller.
func (g *Game) OpenDiscussion(round int) (req ReplyRound, asked, advanced bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.atLocked(round, PhaseHostAnnounce) {
		return ReplyRound{}, false, false
	}
	g.phase = PhaseDiscuss
	if said, ok := g.latestHumanLocked(round); ok {
		req, asked = g.claimRepliesLocked(said.Text)
	}
	return req, asked, true
}

func (g *Game) claimRepliesLocked(humanText string) (ReplyRound, bool) {
	if g.repliesRound == g.round {
		return ReplyRound{}, false
	}
	g.repliesRound = g.round
	return ReplyRound{Round: g.round, HumanText: humanText, Speakers: g.activePersonasLocked()}, true
}

// releaseReplies gives back an unanswered claim so a later line in the same
// round can ask again.
func (g *Game) releaseReplies(round int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.repliesRound == round {
		g.repliesRound = 0
	}
}

// Speak records a chat line from the human. The first line of a discussion
// gets one reply per active persona; later lines in the same round are only
// recorded.
//
// Without a delegate, Speak drives the round itself: from ROUND_START it
// opens the round with the host's rules, moves to DISCUSS, collects the
// replies and closes discussion with the summary. With a delegate (a running
// host loop) phases are left to the delegate, which also answers the line if
// it arrives during DISCUSS.
func (g *Game) Speak(ctx context.Context, gen persona.Generator, bus events.Broadcaster, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if bus == nil {
		bus = events.Discard
	}

	g.mu.Lock()
	if g.phase == PhaseEnd {
		g.mu.Unlock()
		return ErrGameOver
	}

	hosted := g.delegate
	pending := make([]events.Event, 0, 5)
	if hosted == nil && g.phase == PhaseRoundStart {
		pending = append(pending, g.phaseEventLocked())
		g.phase = PhaseHostAnnounce
		rules := g.recordLocked(g.host.ID, RulesAnnouncement)
		pending = append(pending, g.phaseEventLocked(), g.messageEvent(rules))
	}

	said := g.recordLocked(g.human.ID, text)
	pending = append(pending, g.messageEvent(said))

	if hosted == nil && g.phase == PhaseHostAnnounce {
		g.phase = PhaseDiscuss
		pending = append(pending, g.phaseEventLocked())
	}

	var (
		req   ReplyRound
		asked bool
	)
	if g.phase == PhaseDiscuss {
		req, asked = g.claimRepliesLocked(text)
	}
	g.mu.Unlock()

	broadcastAll(bus, pending)
	if !asked {
		return nil
	}
	if hosted != nil && hosted(req) {
		return nil
	}

	replies, err := CollectReplies(ctx, gen, req)
	if err != nil {
		g.releaseReplies(req.Round)
		return fmt.Errorf("collect persona replies: %w", err)
	}
	for _, msg := range g.AppendReplies(req.Round, replies) {
		bus.Broadcast(g.messageEvent(msg))
	}

	if summary, ok := g.Summarize(req.Round); ok {
		bus.Broadcast(events.NewPhase(g.ID, PhaseSummary.String(), req.Round))
		bus.Broadcast(g.messageEvent(summary))
	}
	return nil
}

// SubmitVotes tallies one voting window and resolves the round: the game
// either advances to the next round or ends. Votes are accepted from
// SUMMARY onward; ballots from unknown, eliminated or host players are
// dropped.
func (g *Game) SubmitVotes(bus events.Broadcaster, votes []Vote) (Resolution, error) {
	if bus == nil {
		bus = events.Discard
	}

	g.mu.Lock()
	switch {
	case g.phase == PhaseEnd:
		g.mu.Unlock()
		return Resolution{}, ErrGameOver
	case g.phase < PhaseSummary:
		g.mu.Unlock()
		return Resolution{}, ErrVotingClosed
	}

	pending := make([]events.Event, 0, 4)
	if g.phase == PhaseSummary {
		g.phase = PhaseVote
		pending = append(pending, g.phaseEventLocked())
	}

	ballots := CollapseBallots(g.eligibleVotesLocked(votes))
	if eliminated, msg := g.tallyLocked(ballots); eliminated != nil {
		pending = append(pending, g.messageEvent(msg))
	}

	res := g.resolveLocked()
	pending = append(pending,
		events.NewResult(g.ID, string(res.Outcome), res.Round),
		g.phaseEventLocked(),
	)
	g.mu.Unlock()

	broadcastAll(bus, pending)
	return res, nil
}

func (g *Game) phaseEventLocked() events.Event {
	return events.NewPhase(g.ID, g.phase.String(), g.round)
}

func (g *Game) messageEvent(msg Message) events.Event {
	return events.NewMessage(g.ID, msg.SpeakerID, msg.Round, msg.Text)
}

func broadcastAll(bus events.Broadcaster, pending []events.Event) {
	for _, ev := range pending {
		bus.Broadcast(ev)
	}
}
