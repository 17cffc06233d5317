package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/whoishuman/whoishuman-server-go/internal/events"
	"github.com/whoishuman/whoishuman-server-go/internal/game"
	"github.com/whoishuman/whoishuman-server-go/internal/host"
	"github.com/whoishuman/whoishuman-server-go/internal/registry"
)

// Games is the registry surface the API needs.
type Games interface {
	Create(humanName string) (*game.Game, error)
	List() []*game.Game
	View(id string) (game.View, error)
	Remove(id string) error
	Speak(ctx context.Context, id, text string) error
	SubmitVotes(id string, votes []game.Vote) (game.Resolution, error)
	StartLoop(id string) (bool, error)
	StopLoop(id string) error
	LoopState(id string) (host.State, error)
}

// Subscriber lets event streams follow a single game.
type Subscriber interface {
	SubscribeGame(gameID string, listener events.Listener) int
	Unsubscribe(handle int)
}

// API serves the JSON game endpoints and the websocket event stream.
type API struct {
	games  Games
	events Subscriber
	logger *zap.Logger
}

// NewAPI wires the HTTP API to a game registry and event bus.
func NewAPI(games Games, sub Subscriber, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{games: games, events: sub, logger: logger}
}

// Handler returns the routed HTTP handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /games", a.handleCreateGame)
	mux.HandleFunc("GET /games", a.handleListGames)
	mux.HandleFunc("GET /games/{id}", a.handleGetGame)
	mux.HandleFunc("DELETE /games/{id}", a.handleRemoveGame)
	mux.HandleFunc("POST /games/{id}/messages", a.handleSpeak)
	mux.HandleFunc("POST /games/{id}/votes", a.handleVotes)
	mux.HandleFunc("GET /games/{id}/host", a.handleHostState)
	mux.HandleFunc("POST /games/{id}/host/start", a.handleHostStart)
	mux.HandleFunc("POST /games/{id}/host/stop", a.handleHostStop)
	mux.HandleFunc("GET /games/{id}/events", a.handleEvents)
	return a.logRequests(mux)
}

type createGameRequest struct {
	HumanName string `json:"humanName"`
}

type speakRequest struct {
	Text string `json:"text"`
}

type votesRequest struct {
	Votes []game.Vote `json:"votes"`
}

type votesResponse struct {
	Resolution game.Resolution `json:"resolution"`
	Game       game.View       `json:"game"`
}

type hostResponse struct {
	GameID  string `json:"gameId"`
	State   string `json:"state"`
	Started bool   `json:"started,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if !a.decode(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.HumanName)
	if name == "" {
		writeError(w, http.StatusBadRequest, "humanName is required")
		return
	}

	g, err := a.games.Create(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, g.Snapshot())
}

func (a *API) handleListGames(w http.ResponseWriter, _ *http.Request) {
	games := a.games.List()
	views := make([]game.View, 0, len(games))
	for _, g := range games {
		views = append(views, g.Snapshot())
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleGetGame(w http.ResponseWriter, r *http.Request) {
	view, err := a.games.View(r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleRemoveGame(w http.ResponseWriter, r *http.Request) {
	if err := a.games.Remove(r.PathValue("id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSpeak(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req speakRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.games.Speak(r.Context(), id, req.Text); err != nil {
		a.fail(w, err)
		return
	}
	a.respondView(w, id)
}

func (a *API) handleVotes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req votesRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.games.SubmitVotes(id, req.Votes)
	if err != nil {
		a.fail(w, err)
		return
	}
	view, err := a.games.View(id)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, votesResponse{Resolution: res, Game: view})
}

func (a *API) handleHostState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := a.games.LoopState(id)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hostResponse{GameID: id, State: state.String()})
}

func (a *API) handleHostStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	started, err := a.games.StartLoop(id)
	if err != nil {
		a.fail(w, err)
		return
	}
	state, err := a.games.LoopState(id)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hostResponse{GameID: id, State: state.String(), Started: started})
}

func (a *API) handleHostStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.games.StopLoop(id); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hostResponse{GameID: id, State: host.StateStopped.String()})
}

func (a *API) respondView(w http.ResponseWriter, id string) {
	view, err := a.games.View(id)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// fail maps domain errors to HTTP status codes.
func (a *API) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrGameOver), errors.Is(err, game.ErrVotingClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
