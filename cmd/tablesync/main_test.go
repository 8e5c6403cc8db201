package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/tablesync/internal/config"
	"github.com/vango-dev/tablesync/internal/errors"
	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/reducer"
	"github.com/vango-dev/tablesync/pkg/state"
	"github.com/vango-dev/tablesync/pkg/store"
)

func TestOpenStore(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"memory", func(c *config.Config) { c.Store.Driver = config.DriverMemory }},
		{"file", func(c *config.Config) { c.Store.Driver = config.DriverFile }},
		{"sqlite", func(c *config.Config) {
			c.Store.Driver = config.DriverSQLite
			c.Store.Path = "tablesync.db"
		}},
		{"s3", func(c *config.Config) {
			c.Store.Driver = config.DriverS3
			c.Store.S3.Bucket = "tables"
			c.Store.S3.Region = "eu-central-1"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := config.New()
			if err := cfg.SaveTo(filepath.Join(dir, config.ConfigFileName)); err != nil {
				t.Fatal(err)
			}
			tt.modify(cfg)

			st, err := openStore(context.Background(), cfg)
			if err != nil {
				t.Fatalf("openStore: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := config.New()
	cfg.Store.Driver = "redis"
	_, err := openStore(context.Background(), cfg)
	if !errors.HasCode(err, errors.CodeConfigInvalid) {
		t.Errorf("expected %s, got %v", errors.CodeConfigInvalid, err)
	}
}

func TestServerConfig(t *testing.T) {
	cfg := config.New()
	cfg.Server.Addr = ":9999"
	cfg.Server.PersistDelay = "3s"
	cfg.Server.MaxSessions = 8
	cfg.Server.AllowAnyOrigin = true

	sc := serverConfig(cfg)
	if sc.Address != ":9999" {
		t.Errorf("expected :9999, got %s", sc.Address)
	}
	if sc.PersistDelay != 3*time.Second {
		t.Errorf("expected 3s, got %v", sc.PersistDelay)
	}
	if sc.MaxSessions != 8 {
		t.Errorf("expected 8, got %d", sc.MaxSessions)
	}
	if !sc.CheckOrigin(nil) {
		t.Error("expected any origin to be allowed")
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("expected a valid config, got %v", err)
	}
}

func TestRunInspect(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	var out bytes.Buffer
	if err := runInspect(ctx, &out, st, "default", false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No table saved") {
		t.Errorf("expected the empty message, got %q", out.String())
	}

	s, err := reducer.NewRoot().Apply(state.Initial(), action.AddCharacter(state.Character{
		ID:    "RRID/character/goblin",
		Name:  "Goblin",
		HP:    7,
		MaxHP: 7,
		Scale: 1,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveState(ctx, st, "default", s, time.Now()); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if err := runInspect(ctx, &out, st, "default", false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "characters=1") {
		t.Errorf("expected one character in the summary, got %q", out.String())
	}

	out.Reset()
	if err := runInspect(ctx, &out, st, "default", true); err != nil {
		t.Fatal(err)
	}
	decoded, err := state.Decode(out.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.Characters.Has("RRID/character/goblin") {
		t.Error("expected the goblin in the JSON output")
	}
}

func TestRunInspect_Corrupt(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.Save(ctx, "default", []byte("{broken")); err != nil {
		t.Fatal(err)
	}

	err := runInspect(ctx, &bytes.Buffer{}, st, "default", false)
	if !errors.HasCode(err, errors.CodeSnapshotCorrupt) {
		t.Errorf("expected %s, got %v", errors.CodeSnapshotCorrupt, err)
	}
}

func TestSummarize(t *testing.T) {
	got := summarize(state.Initial())
	if !strings.Contains(got, "maps=1") {
		t.Errorf("expected the default map, got %q", got)
	}
}

func TestWatch_MissingServerURL(t *testing.T) {
	t.Setenv("TABLESYNC_SERVER_URL", "")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"watch", "--config", t.TempDir()})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	if !errors.HasCode(err, errors.CodeMissingServerURL) {
		t.Errorf("expected %s, got %v", errors.CodeMissingServerURL, err)
	}
}

func TestWatch_InvalidPlayer(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"watch", "--config", t.TempDir(), "--server", "ws://localhost:1/ws", "--player", "alice"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	if !errors.HasCode(err, errors.CodeInvalidArgument) {
		t.Errorf("expected %s, got %v", errors.CodeInvalidArgument, err)
	}
}

func TestWatch_InvalidToken(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"watch", "--config", t.TempDir(), "--server", "ws://localhost:1/ws", "--token", "o1"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	if !errors.HasCode(err, errors.CodeInvalidArgument) {
		t.Errorf("expected %s, got %v", errors.CodeInvalidArgument, err)
	}
}

func TestSyncErrorJSON(t *testing.T) {
	gap := errors.New(errors.CodeSequenceGap).WithDetailf("expected state message %d, got %d", 2, 4)
	var got struct {
		Error struct {
			Code     string `json:"code"`
			Category string `json:"category"`
			Detail   string `json:"detail"`
		} `json:"error"`
	}
	line := syncErrorJSON(fmt.Errorf("engine: %w", gap))
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("expected valid JSON, got %q: %v", line, err)
	}
	if got.Error.Code != errors.CodeSequenceGap || got.Error.Detail != "expected state message 2, got 4" {
		t.Errorf("unexpected error object %+v", got.Error)
	}

	line = syncErrorJSON(fmt.Errorf("server said \"no\""))
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("expected valid JSON, got %q: %v", line, err)
	}
	if got.Error.Category != string(errors.CategoryProtocol) {
		t.Errorf("expected category protocol, got %q", got.Error.Category)
	}
}

func TestSyncError_Compact(t *testing.T) {
	err := errors.New(errors.CodeMalformedPatch).Wrap(fmt.Errorf("bad op"))
	got := syncError(fmt.Errorf("apply: %w", err)).FormatCompact()
	if !strings.HasPrefix(got, errors.CodeMalformedPatch+": ") || !strings.HasSuffix(got, ": bad op") {
		t.Errorf("unexpected compact error %q", got)
	}
}

func TestTokenFollower(t *testing.T) {
	const token = state.ID("RRID/mapObject/t1")
	r := reducer.NewRoot()
	at := func(s state.State, x float64) state.State {
		t.Helper()
		next, err := r.Apply(s, action.UpdateMapObject(state.DefaultMapID,
			action.NewUpdate(token, map[string]any{"position": state.Point{X: x}})))
		if err != nil {
			t.Fatal(err)
		}
		return next
	}
	s, err := r.Apply(state.Initial(), action.AddMapObject(state.DefaultMapID,
		state.MapObject{ID: token, Type: state.MapObjectToken}))
	if err != nil {
		t.Fatal(err)
	}

	t0 := time.Unix(1700000000, 0)
	f := newTokenFollower(token, 100*time.Millisecond)
	f.observe(s, t0)
	if got := f.line(t0.Add(time.Millisecond)); !strings.Contains(got, "at (0.0, 0.0)") {
		t.Errorf("expected the token to appear at the origin, got %q", got)
	}
	if got := f.line(t0.Add(2 * time.Millisecond)); got != "" {
		t.Errorf("expected no line without movement, got %q", got)
	}

	f.observe(at(s, 10), t0)
	if got := f.line(t0.Add(50 * time.Millisecond)); !strings.Contains(got, "at (5.0, 0.0)") {
		t.Errorf("expected the halfway point, got %q", got)
	}
	if got := f.line(t0.Add(100 * time.Millisecond)); !strings.Contains(got, "at (10.0, 0.0)") {
		t.Errorf("expected the target, got %q", got)
	}

	f.observe(state.Initial(), t0.Add(time.Second))
	if got := f.line(t0.Add(time.Second + time.Millisecond)); !strings.Contains(got, "gone") {
		t.Errorf("expected the token to be gone, got %q", got)
	}
}

func TestVersion_Short(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"version", "--short"})
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Errorf("expected %q, got %q", version, out.String())
	}
}
