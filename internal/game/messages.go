package game

import (
	"fmt"
	"iter"
)

// SystemSpeaker is the speaker id of engine-generated messages.
const SystemSpeaker = "system"

// RulesAnnouncement is what the host says when a round opens.
const RulesAnnouncement = "Rules: 3 rounds of discussion → summary → voting. " +
	"Win if 2 AIs are eliminated within 2 rounds. " +
	"Lose if the human is eliminated."

// SummaryAnnouncement is what the host says when discussion closes.
func SummaryAnnouncement(round int) string {
	return fmt.Sprintf("Round %d summary: please vote on who you think is the AI.", round)
}

// Message is one append-only log entry. Round is informational; order is
// append order.
type Message struct {
	SpeakerID string `json:"speakerId"`
	Round     int    `json:"round"`
	Text      string `json:"text"`
}

// Record appends a message stamped with the current round.
func (g *Game) Record(speakerID, text string) Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recordLocked(speakerID, text)
}

func (g *Game) recordLocked(speakerID, text string) Message {
	msg := Message{SpeakerID: speakerID, Round: g.round, Text: text}
	g.messages = append(g.messages, msg)
	return msg
}

// CurrentRoundView yields the messages of the current round. The sequence
// is recomputed on every iteration, so ranging over it twice observes any
// messages appended in between.
func (g *Game) CurrentRoundView() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		g.mu.Lock()
		round := g.round
		messages := make([]Message, len(g.messages))
		copy(messages, g.messages)
		g.mu.Unlock()

		for _, m := range messages {
			if m.Round != round {
				continue
			}
			if !yield(m) {
				return
			}
		}
	}
}

// LatestHumanMessage returns the human's most recent message in round.
func (g *Game) LatestHumanMessage(round int) (Message, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latestHumanLocked(round)
}

func (g *Game) latestHumanLocked(round int) (Message, bool) {
	for i := len(g.messages) - 1; i >= 0; i-- {
		m := g.messages[i]
		if m.Round == round && m.SpeakerID == g.human.ID {
			return m, true
		}
	}
	return Message{}, false
}

// Announce opens round: ROUND_START → HOST_ANNOUNCE plus the host's rules
// announcement, applied only if the game is still at ROUND_START of round.
func (g *Game) Announce(round int) (Message, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.atLocked(round, PhaseRoundStart) {
		return Message{}, false
	}
	g.phase = PhaseHostAnnounce
	return g.recordLocked(g.host.ID, RulesAnnouncement), true
}

// Summarize closes discussion: DISCUSS → SUMMARY plus the host's prompt to
// vote, applied only if the game is still at DISCUSS of round.
func (g *Game) Summarize(round int) (Message, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.atLocked(round, PhaseDiscuss) {
		return Message{}, false
	}
	g.phase = PhaseSummary
	return g.recordLocked(g.host.ID, SummaryAnnouncement(round)), true
}

// AppendReplies records persona replies in the given order, but only while
// the game is still in round and not over. Late replies are dropped.
func (g *Game) AppendReplies(round int, replies []Reply) []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.round != round || g.phase == PhaseEnd {
		return nil
	}
	recorded := make([]Message, 0, len(replies))
	for _, r := range replies {
		recorded = append(recorded, g.recordLocked(r.SpeakerID, r.Text))
	}
	return recorded
}
