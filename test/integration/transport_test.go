package integration_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/client"
	"github.com/vango-dev/tablesync/pkg/server"
	"github.com/vango-dev/tablesync/pkg/state"
	"github.com/vango-dev/tablesync/pkg/store"
)

const goblin = state.ID("RRID/character/goblin")

// mockAuthMiddleware stands in for the host application's authentication.
func mockAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer valid-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func testServerConfig() *server.ServerConfig {
	cfg := server.DefaultServerConfig()
	cfg.BroadcastInterval = 10 * time.Millisecond
	cfg.PersistDelay = time.Hour
	cfg.PersistMaxDelay = time.Hour
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

// connect starts an engine with a transport to url. Both stop when the
// test ends.
func connect(t *testing.T, url string, header http.Header) *client.Engine {
	t.Helper()
	engine := client.NewEngine()
	if err := engine.Start(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	transport := client.NewTransport(engine, client.TransportConfig{
		URL:               url,
		Header:            header,
		MinReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = transport.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		engine.Stop()
	})
	return engine
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func goblinHP(e *client.Engine) int {
	c, ok := e.State().Characters.Get(goblin)
	if !ok {
		return -1
	}
	return c.HP
}

func addGoblin(hp int) func(state.State) []action.Action {
	return func(state.State) []action.Action {
		return []action.Action{action.AddCharacter(state.Character{ID: goblin, Name: "Goblin", HP: hp, MaxHP: 100, Scale: 1})}
	}
}

func setHP(hp int) func(state.State) []action.Action {
	return func(state.State) []action.Action {
		return []action.Action{action.UpdateCharacter(action.NewUpdate(goblin, map[string]any{"hp": hp}))}
	}
}

// TestChiMount tests that the sync server mounts into a host chi router
// behind the host's middleware.
func TestChiMount(t *testing.T) {
	srv := server.New(testServerConfig(), server.WithStore(store.NewMemoryStore()))
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("home"))
	})
	r.Group(func(r chi.Router) {
		r.Use(mockAuthMiddleware)
		r.Mount("/table", srv.Handler())
	})

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/table/ws"

	t.Run("unauthenticated", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatal("expected the handshake to fail")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %+v", resp)
		}
	})

	t.Run("two clients converge", func(t *testing.T) {
		header := http.Header{"Authorization": []string{"Bearer valid-token"}}
		alice := connect(t, url, header)
		bob := connect(t, url, header)
		eventually(t, "alice synced", alice.Synced)
		eventually(t, "bob synced", bob.Synced)

		d := alice.NewDispatcher()
		if _, err := d.Dispatch("seed", 0, addGoblin(50)); err != nil {
			t.Fatal(err)
		}
		// Visible locally before the server answers.
		if got := goblinHP(alice); got != 50 {
			t.Errorf("expected alice to see 50 immediately, got %d", got)
		}

		eventually(t, "bob sees the goblin", func() bool { return goblinHP(bob) == 50 })
		eventually(t, "alice acknowledged", func() bool { return len(alice.Pending()) == 0 })
		if !state.Equal(alice.State(), bob.State()) {
			t.Error("expected alice and bob to converge")
		}
	})

	t.Run("host routes untouched", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", resp.StatusCode)
		}
	})
}

// TestTransport_ReconnectAfterRestart tests that edits made while the
// server is down reach the restarted server, which loaded the saved table.
func TestTransport_ReconnectAfterRestart(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()

	serve := func(ln net.Listener) (*server.Server, func()) {
		srv := server.New(testServerConfig(), server.WithStore(st))
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(ctx, ln) }()
		return srv, func() {
			cancel()
			if err := <-errCh; err != nil {
				t.Errorf("Serve: %v", err)
			}
		}
	}

	srv1, stop1 := serve(ln)
	alice := connect(t, "ws://"+addr+"/ws", nil)
	eventually(t, "alice synced", alice.Synced)

	d := alice.NewDispatcher()
	d.Dispatch("seed", 0, addGoblin(50))
	eventually(t, "server applied the seed", func() bool {
		return srv1.Hub().State().Characters.Has(goblin)
	})
	eventually(t, "alice acknowledged", func() bool { return len(alice.Pending()) == 0 })

	stop1()
	eventually(t, "alice disconnected", func() bool { return !alice.Synced() })

	d.Dispatch("hp", 0, setHP(7))
	if got := goblinHP(alice); got != 7 {
		t.Errorf("expected alice to see 7 while offline, got %d", got)
	}

	ln2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("relisten: %v", err)
	}
	srv2, stop2 := serve(ln2)
	defer stop2()

	eventually(t, "server has the offline edit", func() bool {
		c, ok := srv2.Hub().State().Characters.Get(goblin)
		return ok && c.HP == 7
	})
	eventually(t, "alice acknowledged after reconnect", func() bool {
		return alice.Synced() && len(alice.Pending()) == 0
	})
	if got := goblinHP(alice); got != 7 {
		t.Errorf("expected 7 after reconnect, got %d", got)
	}
}
