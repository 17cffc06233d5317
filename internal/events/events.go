package events

import (
	"sync"
	"time"
)

// Type tags the kind of event pushed to clients.
type Type string

const (
	TypePhase   Type = "phase"
	TypeMessage Type = "message"
	TypeNotice  Type = "notice"
	TypeResult  Type = "result"
)

// Event is a tagged record delivered to every subscriber of a game.
// Which optional fields are set depends on Type:
//
//	phase   -> Phase, Round
//	message -> PlayerID, Round, Text
//	notice  -> Text
//	result  -> Result, Round
type Event struct {
	Type      Type      `json:"type"`
	GameID    string    `json:"gameId"`
	Phase     string    `json:"phase,omitempty"`
	Round     int       `json:"round,omitempty"`
	PlayerID  string    `json:"playerId,omitempty"`
	Text      string    `json:"text,omitempty"`
	Result    string    `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPhase builds a phase-entered event.
func NewPhase(gameID, phase string, round int) Event {
	return Event{Type: TypePhase, GameID: gameID, Phase: phase, Round: round, Timestamp: time.Now()}
}

// NewMessage builds a chat/log message event.
func NewMessage(gameID, playerID string, round int, text string) Event {
	return Event{Type: TypeMessage, GameID: gameID, PlayerID: playerID, Round: round, Text: text, Timestamp: time.Now()}
}

// NewNotice builds a transient host notice.
func NewNotice(gameID, text string) Event {
	return Event{Type: TypeNotice, GameID: gameID, Text: text, Timestamp: time.Now()}
}

// NewResult builds a round resolution event.
func NewResult(gameID, result string, round int) Event {
	return Event{Type: TypeResult, GameID: gameID, Result: result, Round: round, Timestamp: time.Now()}
}

// Broadcaster delivers events fire-and-forget. Implementations must not
// block the caller for long; nothing is returned to the game logic.
type Broadcaster interface {
	Broadcast(Event)
}

// BroadcasterFunc adapts a plain function to Broadcaster.
type BroadcasterFunc func(Event)

// Broadcast calls f(event).
func (f BroadcasterFunc) Broadcast(event Event) {
	f(event)
}

// Discard drops every event.
var Discard Broadcaster = BroadcasterFunc(func(Event) {})

// Listener reacts to a published event.
type Listener func(Event)

type gameListener struct {
	gameID   string
	callback Listener
}

// Bus is a synchronous publish/subscribe fan-out with optional per-game filtering.
type Bus struct {
	mu            sync.RWMutex
	listeners     map[int]Listener
	gameListeners map[int]gameListener
	nextHandle    int
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{
		listeners:     make(map[int]Listener),
		gameListeners: make(map[int]gameListener),
	}
}

// Subscribe registers a listener for all events and returns a handle.
func (bus *Bus) Subscribe(listener Listener) int {
	if listener == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.listeners[handle] = listener
	return handle
}

// SubscribeGame registers a listener that only sees events of gameID.
func (bus *Bus) SubscribeGame(gameID string, listener Listener) int {
	if listener == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.gameListeners[handle] = gameListener{gameID: gameID, callback: listener}
	return handle
}

// Unsubscribe removes the listener identified by handle.
func (bus *Bus) Unsubscribe(handle int) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.listeners, handle)
	delete(bus.gameListeners, handle)
}

// SubscriberCount reports how many listeners would see an event for gameID.
func (bus *Bus) SubscriberCount(gameID string) int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	count := len(bus.listeners)
	for _, l := range bus.gameListeners {
		if l.gameID == gameID {
			count++
		}
	}
	return count
}

// Broadcast delivers the event to all matching listeners synchronously.
func (bus *Bus) Broadcast(event Event) {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	for _, listener := range bus.listeners {
		listener(event)
	}
	for _, l := range bus.gameListeners {
		if l.gameID == event.GameID {
			l.callback(event)
		}
	}
}
