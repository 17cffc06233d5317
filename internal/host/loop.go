package host

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whoishuman/whoishuman-server-go/internal/events"
	"github.com/whoishuman/whoishuman-server-go/internal/game"
	"github.com/whoishuman/whoishuman-server-go/internal/persona"
)

// WarningNotice is broadcast shortly before the discussion window closes.
const WarningNotice = "Discussion almost over"

// State is the run state of a host loop.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// Durations configures the timed steps of a round.
type Durations struct {
	RoundStart time.Duration // pause between the announcement and discussion
	Discuss    time.Duration
	Warning    time.Duration // lead time of the warning notice before discussion ends
	Vote       time.Duration
}

// DefaultDurations returns the stock round timings.
func DefaultDurations() Durations {
	return Durations{
		RoundStart: 300 * time.Millisecond,
		Discuss:    30 * time.Second,
		Warning:    10 * time.Second,
		Vote:       15 * time.Second,
	}
}

// Loop drives one game through its phases on timers. A loop runs at most
// once: after it stops, either explicitly or because the game ended, a new
// loop must be created to resume automation.
//
// Every mutation and broadcast happens under mu and only while the loop has
// not been stopped, so nothing from this loop is observable after Stop
// returns. Lock order is Loop.mu then the game's own lock.
//
// While running, the loop is the game's delegate: persona replies to the
// human are generated by the loop, whether the line arrived before the
// discussion opened or during it.
type Loop struct {
	game      *game.Game
	gen       persona.Generator
	bus       events.Broadcaster
	durations Durations
	logger    *zap.Logger
	onExit    func()

	mu      sync.Mutex
	state   State
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	warning *time.Timer
	replies sync.WaitGroup
	done    chan struct{}
}

// NewLoop creates a stopped loop for g. onExit, if not nil, runs once after
// the loop goroutine has finished.
func NewLoop(g *game.Game, gen persona.Generator, bus events.Broadcaster, durations Durations, logger *zap.Logger, onExit func()) *Loop {
	if gen == nil {
		gen = persona.Unavailable{}
	}
	if bus == nil {
		bus = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		game:      g,
		gen:       gen,
		bus:       bus,
		durations: durations,
		logger:    logger.With(zap.String("game_id", g.ID)),
		onExit:    onExit,
		done:      make(chan struct{}),
	}
}

// Game returns the game driven by the loop.
func (l *Loop) Game() *game.Game {
	return l.game
}

// State reports whether the loop is running.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Start launches the loop. It reports false if the loop is already running
// or has already stopped.
func (l *Loop) Start(parent context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.stopped {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	l.ctx, l.cancel = ctx, cancel
	l.release = l.game.Delegate(l.takeReplies)
	l.started = true
	l.state = StateRunning
	l.logger.Info("host loop started")

	go l.run(ctx)
	return true
}

// Stop cancels pending delays and in-flight persona replies, hands reply
// generation back to the game and waits for the loop goroutine to exit.
// Phase changes already applied stay applied.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.haltLocked()
	started := l.started
	l.mu.Unlock()

	if started {
		<-l.done
	}
}

func (l *Loop) haltLocked() {
	l.stopped = true
	l.state = StateStopped
	if l.cancel != nil {
		l.cancel()
	}
	if l.release != nil {
		l.release()
		l.release = nil
	}
	if l.warning != nil {
		l.warning.Stop()
		l.warning = nil
	}
}

// guard runs fn under the loop lock unless the loop has been stopped.
func (l *Loop) guard(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	fn()
	return true
}

func (l *Loop) run(ctx context.Context) {
	defer l.finish()

	// Started mid-round: close the round out rather than replay it.
	if phase, round := l.game.Position(); phase != game.PhaseRoundStart && phase != game.PhaseEnd {
		l.logger.Info("host loop attached mid-round, resolving",
			zap.Stringer("phase", phase),
			zap.Int("round", round),
		)
		l.resolve(round)
	}

	for ctx.Err() == nil {
		phase, round := l.game.Position()
		switch phase {
		case game.PhaseEnd:
			return
		case game.PhaseRoundStart:
			l.openRound(round)
		case game.PhaseHostAnnounce:
			if !sleep(ctx, l.durations.RoundStart) {
				return
			}
			l.startDiscussion(round)
		case game.PhaseDiscuss:
			l.scheduleWarning(round)
			ok := sleep(ctx, l.durations.Discuss)
			l.guard(l.clearWarningLocked)
			if !ok {
				return
			}
			l.closeDiscussion(round)
		case game.PhaseSummary:
			l.openVoting(round)
		case game.PhaseVote:
			if !sleep(ctx, l.durations.Vote) {
				return
			}
			l.resolve(round)
		}
	}
}

func (l *Loop) finish() {
	l.mu.Lock()
	l.haltLocked()
	l.mu.Unlock()

	l.replies.Wait()
	l.logger.Info("host loop stopped", zap.Stringer("phase", l.game.Phase()))

	l.mu.Lock()
	close(l.done)
	l.mu.Unlock()

	if l.onExit != nil {
		l.onExit()
	}
}

func (l *Loop) openRound(round int) {
	l.guard(func() {
		msg, ok := l.game.Announce(round)
		if !ok {
			return
		}
		l.bus.Broadcast(events.NewPhase(l.game.ID, game.PhaseRoundStart.String(), round))
		l.bus.Broadcast(events.NewPhase(l.game.ID, game.PhaseHostAnnounce.String(), round))
		l.broadcastMessage(msg)
	})
}

func (l *Loop) startDiscussion(round int) {
	l.guard(func() {
		req, asked, advanced := l.game.OpenDiscussion(round)
		if !advanced {
			return
		}
		l.bus.Broadcast(events.NewPhase(l.game.ID, game.PhaseDiscuss.String(), round))
		if asked {
			l.answerLocked(req)
		}
	})
}

// takeReplies is the game's delegate for lines spoken during DISCUSS.
func (l *Loop) takeReplies(req game.ReplyRound) bool {
	return l.guard(func() {
		l.answerLocked(req)
	})
}

func (l *Loop) answerLocked(req game.ReplyRound) {
	l.replies.Add(1)
	go l.answer(req)
}

// answer runs off the loop goroutine; the discussion timer does not wait
// for it.
func (l *Loop) answer(req game.ReplyRound) {
	defer l.replies.Done()

	replies, err := game.CollectReplies(l.ctx, l.gen, req)
	if err != nil {
		l.logger.Debug("persona replies abandoned", zap.Int("round", req.Round), zap.Error(err))
		return
	}
	applied := l.guard(func() {
		recorded := l.game.AppendReplies(req.Round, replies)
		if len(recorded) == 0 {
			l.logger.Debug("dropped late persona replies", zap.Int("round", req.Round), zap.Int("replies", len(replies)))
		}
		for _, msg := range recorded {
			l.broadcastMessage(msg)
		}
	})
	if !applied {
		l.logger.Debug("loop stopped before persona replies arrived", zap.Int("round", req.Round))
	}
}

func (l *Loop) scheduleWarning(round int) {
	lead := l.durations.Discuss - l.durations.Warning
	if lead < 0 {
		return
	}
	l.guard(func() {
		l.clearWarningLocked()
		l.warning = time.AfterFunc(lead, func() {
			l.guard(func() {
				if phase, current := l.game.Position(); phase != game.PhaseDiscuss || current != round {
					return
				}
				l.bus.Broadcast(events.NewNotice(l.game.ID, WarningNotice))
			})
		})
	})
}

func (l *Loop) clearWarningLocked() {
	if l.warning != nil {
		l.warning.Stop()
		l.warning = nil
	}
}

func (l *Loop) closeDiscussion(round int) {
	l.guard(func() {
		if msg, ok := l.game.Summarize(round); ok {
			l.bus.Broadcast(events.NewPhase(l.game.ID, game.PhaseSummary.String(), round))
			l.broadcastMessage(msg)
		}
	})
}

func (l *Loop) openVoting(round int) {
	l.guard(func() {
		if _, ok := l.game.AdvanceFrom(round, game.PhaseSummary); ok {
			l.bus.Broadcast(events.NewPhase(l.game.ID, game.PhaseVote.String(), round))
		}
	})
}

// resolve closes the voting window. Votes are tallied by whoever submitted
// them; the loop only evaluates and moves the round on.
func (l *Loop) resolve(round int) {
	l.guard(func() {
		res, ok := l.game.Resolve(round)
		if !ok {
			return
		}
		l.logger.Info("round resolved",
			zap.Int("round", res.Round),
			zap.String("outcome", string(res.Outcome)),
		)
		l.bus.Broadcast(events.NewResult(l.game.ID, string(res.Outcome), res.Round))
		if res.Phase == game.PhaseEnd {
			l.bus.Broadcast(events.NewPhase(l.game.ID, game.PhaseEnd.String(), res.Next))
		}
	})
}

func (l *Loop) broadcastMessage(msg game.Message) {
	l.bus.Broadcast(events.NewMessage(l.game.ID, msg.SpeakerID, msg.Round, msg.Text))
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
