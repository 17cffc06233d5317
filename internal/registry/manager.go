package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/whoishuman/whoishuman-server-go/internal/events"
	"github.com/whoishuman/whoishuman-server-go/internal/game"
	"github.com/whoishuman/whoishuman-server-go/internal/host"
	"github.com/whoishuman/whoishuman-server-go/internal/persona"
)

// ErrNotFound is returned when no game has the requested id.
var ErrNotFound = errors.New("game not found")

// Options configures every game the manager creates.
type Options struct {
	HostName    string
	Personas    []game.PersonaSpec
	Durations   host.Durations
	Generator   persona.Generator
	Broadcaster events.Broadcaster
}

// Manager owns the games of this process and at most one host loop per game.
type Manager struct {
	opts   Options
	logger *zap.Logger

	// Loops outlive the requests that start them.
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	games map[string]*game.Game
	order []string // creation order
	loops map[string]*host.Loop
}

// NewManager creates an empty manager.
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if opts.Generator == nil {
		opts.Generator = persona.Unavailable{}
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		games:  make(map[string]*game.Game),
		loops:  make(map[string]*host.Loop),
	}
}

// Create seats humanName with the host and the configured personas in a new game.
func (m *Manager) Create(humanName string) (*game.Game, error) {
	g, err := game.NewGame("", humanName, m.opts.HostName, m.opts.Personas)
	if err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}

	m.mu.Lock()
	m.games[g.ID] = g
	m.order = append(m.order, g.ID)
	m.mu.Unlock()

	m.logger.Info("game created",
		zap.String("game_id", g.ID),
		zap.String("human", strings.TrimSpace(humanName)),
		zap.Int("personas", len(m.opts.Personas)),
	)
	return g, nil
}

// Get retrieves a game by id.
func (m *Manager) Get(id string) (*game.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	return g, nil
}

// List returns all games, oldest first.
func (m *Manager) List() []*game.Game {
	m.mu.RLock()
	defer m.mu.RUnlock()

	games := make([]*game.Game, 0, len(m.order))
	for _, id := range m.order {
		if g, ok := m.games[id]; ok {
			games = append(games, g)
		}
	}
	return games
}

// Remove stops the game's loop, if any, and forgets the game.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	if _, ok := m.games[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	loop := m.loops[id]
	delete(m.loops, id)
	delete(m.games, id)
	for i, gameID := range m.order {
		if gameID == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
	m.logger.Info("game removed", zap.String("game_id", id))
	return nil
}

// View returns the public projection of a game.
func (m *Manager) View(id string) (game.View, error) {
	g, err := m.Get(id)
	if err != nil {
		return game.View{}, err
	}
	return g.Snapshot(), nil
}

// GetOrCreateLoop returns the game's host loop, creating a stopped one if
// none is attached. A loop that already finished is replaced.
func (m *Manager) GetOrCreateLoop(id string) (*host.Loop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[id]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	if loop, ok := m.loops[id]; ok && !finished(loop) {
		return loop, nil
	}

	var loop *host.Loop
	loop = host.NewLoop(g, m.opts.Generator, m.opts.Broadcaster, m.opts.Durations, m.logger, func() {
		m.detachLoop(id, loop)
	})
	m.loops[id] = loop
	return loop, nil
}

// StartLoop attaches and starts the host loop for a game. It reports whether
// a loop was started by this call; a running loop is left alone.
func (m *Manager) StartLoop(id string) (bool, error) {
	loop, err := m.GetOrCreateLoop(id)
	if err != nil {
		return false, err
	}
	started := loop.Start(m.ctx)
	if started {
		m.logger.Info("host loop attached", zap.String("game_id", id))
	}
	return started, nil
}

// StopLoop stops and detaches the game's host loop. Stopping a game without
// a loop is a no-op.
func (m *Manager) StopLoop(id string) error {
	m.mu.Lock()
	if _, ok := m.games[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	loop := m.loops[id]
	delete(m.loops, id)
	m.mu.Unlock()

	// Stop waits for the loop goroutine, whose exit hook takes m.mu.
	if loop != nil {
		loop.Stop()
		m.logger.Info("host loop detached", zap.String("game_id", id))
	}
	return nil
}

// LoopState reports the state of the game's host loop; a game without a
// loop is STOPPED.
func (m *Manager) LoopState(id string) (host.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.games[id]; !ok {
		return host.StateStopped, fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	if loop, ok := m.loops[id]; ok {
		return loop.State(), nil
	}
	return host.StateStopped, nil
}

// ActiveLoopCount returns how many host loops are currently running.
func (m *Manager) ActiveLoopCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, loop := range m.loops {
		if loop.State() == host.StateRunning {
			count++
		}
	}
	return count
}

// Speak records a human chat line and runs the discussion it triggers.
func (m *Manager) Speak(ctx context.Context, id, text string) error {
	g, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := g.Speak(ctx, m.opts.Generator, m.opts.Broadcaster, text); err != nil {
		return fmt.Errorf("speak in game %s: %w", id, err)
	}
	return nil
}

// SubmitVotes tallies one voting window of a game and resolves its round.
func (m *Manager) SubmitVotes(id string, votes []game.Vote) (game.Resolution, error) {
	g, err := m.Get(id)
	if err != nil {
		return game.Resolution{}, err
	}
	res, err := g.SubmitVotes(m.opts.Broadcaster, votes)
	if err != nil {
		return game.Resolution{}, fmt.Errorf("vote in game %s: %w", id, err)
	}

	m.logger.Info("votes resolved",
		zap.String("game_id", id),
		zap.Int("votes", len(votes)),
		zap.Int("round", res.Round),
		zap.String("outcome", string(res.Outcome)),
	)
	return res, nil
}

// Shutdown stops every host loop. Games are kept.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	loops := make([]*host.Loop, 0, len(m.loops))
	for id, loop := range m.loops {
		loops = append(loops, loop)
		delete(m.loops, id)
	}
	m.mu.Unlock()

	m.cancel()
	for _, loop := range loops {
		loop.Stop()
	}
	m.logger.Info("registry shut down", zap.Int("loops_stopped", len(loops)))
}

func (m *Manager) detachLoop(id string, loop *host.Loop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loops[id] == loop {
		delete(m.loops, id)
	}
}

func finished(loop *host.Loop) bool {
	select {
	case <-loop.Done():
		return true
	default:
		return false
	}
}
