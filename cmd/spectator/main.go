// Command spectator follows a game's event stream from the terminal. It can
// also create a game and start its host so a full round can be watched
// without a browser client.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/whoishuman/whoishuman-server-go/internal/events"
	"github.com/whoishuman/whoishuman-server-go/internal/game"
)

var (
	addr      = flag.String("addr", "localhost:8080", "server host:port")
	gameID    = flag.String("game", "", "id of the game to follow")
	create    = flag.String("create", "", "create a game for this human name and follow it")
	startHost = flag.Bool("start", false, "start the autonomous host before following")
)

func main() {
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := &client{base: "http://" + *addr, http: &http.Client{Timeout: 30 * time.Second}}

	id := *gameID
	if *create != "" {
		view, err := api.createGame(ctx, *create)
		if err != nil {
			logger.Fatal("failed to create game", zap.Error(err))
		}
		id = view.ID
		logger.Info("game created", zap.String("game_id", id))
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "either -game or -create is required")
		os.Exit(2)
	}

	if *startHost {
		if err := api.startHost(ctx, id); err != nil {
			logger.Fatal("failed to start host", zap.Error(err))
		}
		logger.Info("host started", zap.String("game_id", id))
	}

	url := "ws://" + *addr + "/games/" + id + "/events"
	if err := follow(ctx, url, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Fatal("event stream failed", zap.Error(err))
	}
}

type client struct {
	base string
	http *http.Client
}

func (c *client) createGame(ctx context.Context, humanName string) (game.View, error) {
	var view game.View
	err := c.post(ctx, "/games", map[string]string{"humanName": humanName}, &view)
	return view, err
}

func (c *client) startHost(ctx context.Context, id string) error {
	return c.post(ctx, "/games/"+id+"/host/start", struct{}{}, nil)
}

func (c *client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("POST %s: %s: %s", path, resp.Status, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// frame is either the initial snapshot or a game event.
type frame struct {
	events.Event
	Game *game.View `json:"game,omitempty"`
}

// follow prints every frame of a game's event stream until the stream or
// ctx ends.
func follow(ctx context.Context, url string, w io.Writer) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	names := make(map[string]string)
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil
			}
			return err
		}
		if f.Game != nil {
			for _, p := range f.Game.Players {
				names[p.ID] = p.Name
			}
		}
		fmt.Fprintln(w, describe(f, names))
	}
}

func describe(f frame, names map[string]string) string {
	switch {
	case f.Game != nil:
		return fmt.Sprintf("following game %s: round %d, %s, %d players",
			f.Game.ID, f.Game.Round, f.Game.Phase, len(f.Game.Players))
	case f.Type == events.TypePhase:
		return fmt.Sprintf("-- round %d: %s --", f.Round, f.Phase)
	case f.Type == events.TypeMessage:
		speaker, ok := names[f.PlayerID]
		if !ok {
			speaker = f.PlayerID
		}
		return fmt.Sprintf("[%s] %s", speaker, f.Text)
	case f.Type == events.TypeNotice:
		return "(" + f.Text + ")"
	case f.Type == events.TypeResult:
		return fmt.Sprintf("round %d result: %s", f.Round, f.Result)
	default:
		return fmt.Sprintf("unknown frame %q", f.Type)
	}
}
