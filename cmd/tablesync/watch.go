package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/tablesync/internal/errors"
	"github.com/vango-dev/tablesync/pkg/client"
	"github.com/vango-dev/tablesync/pkg/interp"
	"github.com/vango-dev/tablesync/pkg/state"
)

func watchCmd() *cobra.Command {
	var (
		serverURL string
		playerID  string
		tokenID   string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the state of a running server",
		Long: `Connect to a running server and print a summary line every time
the table changes. Broadcast messages are printed as they arrive.

With --player the client shows up as that player in the presence
list for as long as it is connected. With --token the position of
that map object is printed while it moves, smoothed between updates.
With --json sync errors are printed as JSON objects too.

Examples:
  tablesync watch --server=ws://localhost:7777/ws
  tablesync watch --player=RRID/player/4b0f... --json
  tablesync watch --token=RRID/mapObject/9c1e...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = cfg.Client.ServerURL
			}
			if serverURL == "" {
				return errors.New(errors.CodeMissingServerURL).
					WithExample("tablesync watch --server=ws://localhost:7777/ws")
			}
			if playerID == "" {
				playerID = cfg.Client.PlayerID
			}
			if playerID != "" && !state.ID(playerID).Valid() {
				return errors.New(errors.CodeInvalidArgument).
					WithDetailf("--player %q is not an id of the form RRID/player/<uuid>", playerID)
			}

			if tokenID != "" && !state.ID(tokenID).Valid() {
				return errors.New(errors.CodeInvalidArgument).
					WithDetailf("--token %q is not an id of the form RRID/mapObject/<uuid>", tokenID)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd.OutOrStdout(), watchOptions{
				URL:      serverURL,
				PlayerID: state.ID(playerID),
				TokenID:  state.ID(tokenID),
				JSON:     asJSON,
				Logger:   newLogger(cfg.Log),
			})
		},
	}

	cmd.Flags().StringVarP(&serverURL, "server", "s", "", "WebSocket URL of the server (default from tablesync.json)")
	cmd.Flags().StringVarP(&playerID, "player", "p", "", "Player id to announce")
	cmd.Flags().StringVar(&tokenID, "token", "", "Map object id of a token to follow")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full state and sync errors as JSON instead of a summary")

	return cmd
}

// Token smoothing.
const (
	tokenWindow = 300 * time.Millisecond
	tokenTick   = 50 * time.Millisecond
)

type watchOptions struct {
	URL      string
	PlayerID state.ID
	TokenID  state.ID
	JSON     bool
	Logger   *slog.Logger
}

func runWatch(ctx context.Context, out io.Writer, opts watchOptions) error {
	out = &lockedWriter{w: out}
	engine := client.NewEngine(client.WithLogger(opts.Logger))
	if err := engine.Start(); err != nil {
		return err
	}
	defer engine.Stop()

	if opts.PlayerID != "" {
		if err := engine.SetPlayer(opts.PlayerID); err != nil {
			return err
		}
	}

	var follower *tokenFollower
	if opts.TokenID != "" {
		follower = newTokenFollower(opts.TokenID, tokenWindow)
		go follower.run(ctx, out, tokenTick)
	}

	engine.Subscribe(func(s state.State) {
		if !engine.Synced() {
			return
		}
		if follower != nil {
			follower.observe(s, time.Now())
		}
		if opts.JSON {
			data, err := json.Marshal(s)
			if err != nil {
				opts.Logger.Warn("encode state", "error", err)
				return
			}
			fmt.Fprintln(out, string(data))
			return
		}
		fmt.Fprintf(out, "%s  %s\n", time.Now().Format(time.TimeOnly), summarize(s))
	})
	engine.OnBroadcast(func(data json.RawMessage) {
		fmt.Fprintf(out, "%s  broadcast %s\n", time.Now().Format(time.TimeOnly), data)
	})
	engine.OnError(func(err error) {
		if opts.JSON {
			fmt.Fprintln(out, syncErrorJSON(err))
			return
		}
		opts.Logger.Warn("sync error", "error", syncError(err).FormatCompact())
	})

	transport := client.NewTransport(engine, client.TransportConfig{
		URL: opts.URL,
		OnConnect: func() {
			success("Connected to %s", opts.URL)
		},
		OnDisconnect: func(err error) {
			warn("Disconnected: %v", err)
		},
		OnReconnectAttempt: func(attempt int, delay time.Duration) {
			info("Reconnecting in %s (attempt %d)", delay.Round(time.Millisecond), attempt)
		},
	})

	err := transport.Run(ctx)
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// summarize renders a one-line overview of s.
func summarize(s state.State) string {
	online := 0
	for _, p := range s.Ephemeral.Players.All() {
		if p.IsOnline {
			online++
		}
	}
	return fmt.Sprintf("v%d  players=%d (%d online)  characters=%d  maps=%d  initiative=%d  log=%d",
		s.Version,
		s.Players.Len(),
		online,
		s.Characters.Len(),
		s.Maps.Len(),
		s.InitiativeTracker.Entries.Len(),
		s.LogEntries.Len(),
	)
}

// syncError returns the TablesyncError in err's chain, or wraps err in one.
func syncError(err error) *errors.TablesyncError {
	var te *errors.TablesyncError
	if stderrors.As(err, &te) {
		return te
	}
	return errors.Newf(errors.CategoryProtocol, "%s", err.Error())
}

// syncErrorJSON renders err as one line of --json output.
func syncErrorJSON(err error) string {
	return `{"error":` + syncError(err).FormatJSON() + `}`
}

// lockedWriter serializes writes from the state callbacks and the token
// ticker.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// tokenPosition is the followed token as seen in one state.
type tokenPosition struct {
	MapID state.ID
	Point state.Point
	Found bool
}

func lerpTokenPosition(from, to tokenPosition, amount float64) tokenPosition {
	if !from.Found || !to.Found || from.MapID != to.MapID {
		return to
	}
	to.Point = interp.LerpPoint(from.Point, to.Point, amount)
	return to
}

// findToken returns the position of the map object id on any map.
func findToken(s state.State, id state.ID) tokenPosition {
	for _, m := range s.Maps.All() {
		if o, ok := m.Objects.Get(id); ok {
			return tokenPosition{MapID: m.ID, Point: o.Position, Found: true}
		}
	}
	return tokenPosition{}
}

// tokenFollower prints a token's position while it moves. Jumps between
// authoritative states are smoothed over the follower's window.
type tokenFollower struct {
	id state.ID

	mu      sync.Mutex
	watcher *interp.Watcher[tokenPosition]
	shown   tokenPosition
}

func newTokenFollower(id state.ID, window time.Duration) *tokenFollower {
	selector := func(s state.State) tokenPosition { return findToken(s, id) }
	return &tokenFollower{
		id:      id,
		watcher: interp.NewWatcher(selector, lerpTokenPosition, window, state.State{}),
	}
}

func (f *tokenFollower) observe(s state.State, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watcher.Observe(s, now)
}

// line returns the text to print at now, or "" if nothing changed since
// the last line.
func (f *tokenFollower) line(now time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos := f.watcher.Value(now)
	if pos == f.shown {
		return ""
	}
	f.shown = pos
	if !pos.Found {
		return fmt.Sprintf("token %s gone", f.id)
	}
	return fmt.Sprintf("token %s at (%.1f, %.1f) on %s", f.id, pos.Point.X, pos.Point.Y, pos.MapID)
}

func (f *tokenFollower) run(ctx context.Context, out io.Writer, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if l := f.line(now); l != "" {
				fmt.Fprintf(out, "%s  %s\n", now.Format(time.TimeOnly), l)
			}
		}
	}
}
