package reducer

import (
	"errors"
	"reflect"
	"testing"

	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/state"
)

func TestGlobalSettings_Update(t *testing.T) {
	r := NewRoot()
	s := mustApply(t, r, state.Initial(), action.SetGlobalSettings(map[string]any{"musicIsGMOnly": true}))
	if !s.GlobalSettings.MusicIsGMOnly {
		t.Error("expected musicIsGMOnly to be set")
	}
}

func TestInitiativeTracker_SortedEntries(t *testing.T) {
	r := NewRoot()
	s := mustApply(t, r, state.Initial(),
		action.AddInitiativeEntry(state.InitiativeEntry{ID: "e1", Type: state.InitiativeEntryLairAction, Initiative: 10}),
		action.AddInitiativeEntry(state.InitiativeEntry{ID: "e2", Type: state.InitiativeEntryLairAction, Initiative: 20}),
		action.AddInitiativeEntry(state.InitiativeEntry{ID: "e3", Type: state.InitiativeEntryLairAction, Initiative: 10}),
	)
	want := []state.ID{"e2", "e1", "e3"}
	if !reflect.DeepEqual(s.InitiativeTracker.Entries.IDs, want) {
		t.Fatalf("expected %v, got %v", want, s.InitiativeTracker.Entries.IDs)
	}

	s = mustApply(t, r, s, action.UpdateInitiativeEntry(state.InitiativeEntryLairAction,
		action.NewUpdate("e3", map[string]any{"initiative": 30})))
	want = []state.ID{"e3", "e2", "e1"}
	if !reflect.DeepEqual(s.InitiativeTracker.Entries.IDs, want) {
		t.Errorf("expected %v after update, got %v", want, s.InitiativeTracker.Entries.IDs)
	}
}

func TestInitiativeTracker_RemoveCurrentSelectsNext(t *testing.T) {
	r := NewRoot()
	s := mustApply(t, r, state.Initial(),
		action.AddInitiativeEntry(state.InitiativeEntry{ID: "e1", Type: state.InitiativeEntryLairAction, Initiative: 30}),
		action.AddInitiativeEntry(state.InitiativeEntry{ID: "e2", Type: state.InitiativeEntryLairAction, Initiative: 20}),
		action.AddInitiativeEntry(state.InitiativeEntry{ID: "e3", Type: state.InitiativeEntryLairAction, Initiative: 10}),
		action.SetInitiativeTrackerCurrentEntry("e2"),
	)

	s = mustApply(t, r, s, action.RemoveInitiativeEntry("e2"))
	if s.InitiativeTracker.CurrentEntryID != "e3" {
		t.Errorf("expected e3 to become current, got %q", s.InitiativeTracker.CurrentEntryID)
	}

	// Removing the last entry wraps around.
	s = mustApply(t, r, s, action.RemoveInitiativeEntry("e3"))
	if s.InitiativeTracker.CurrentEntryID != "e1" {
		t.Errorf("expected e1 to become current, got %q", s.InitiativeTracker.CurrentEntryID)
	}

	s = mustApply(t, r, s, action.RemoveInitiativeEntry("e1"))
	if s.InitiativeTracker.CurrentEntryID != "" {
		t.Errorf("expected no current entry, got %q", s.InitiativeTracker.CurrentEntryID)
	}
	if err := state.Validate(s); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestInitiativeTracker_VisibleAndClear(t *testing.T) {
	r := NewRoot()
	s := mustApply(t, r, state.Initial(),
		action.SetInitiativeTrackerVisible(true),
		action.AddInitiativeEntry(state.InitiativeEntry{ID: "e1", Type: state.InitiativeEntryLairAction}),
		action.SetInitiativeTrackerCurrentEntry("e1"),
		action.SetInitiativeTrackerCurrentEntry(""),
	)
	if !s.InitiativeTracker.Visible {
		t.Error("expected tracker to be visible")
	}
	if s.InitiativeTracker.CurrentEntryID != "" {
		t.Errorf("expected current entry to be cleared, got %q", s.InitiativeTracker.CurrentEntryID)
	}
}

func TestPlayers(t *testing.T) {
	r := NewRoot()
	s := mustApply(t, r, state.Initial(),
		action.AddPlayer(state.Player{ID: "p1", Name: "Alice"}),
		action.UpdatePlayer(action.NewUpdate("p1", map[string]any{"name": "Alicia"})),
		action.AddCharacterToPlayer("p1", "c1"),
		action.UpdatePlayer(action.NewUpdate("missing", map[string]any{"name": "x"})),
	)
	p, ok := s.Players.Get("p1")
	if !ok {
		t.Fatal("expected player p1")
	}
	if p.Name != "Alicia" {
		t.Errorf("expected Alicia, got %q", p.Name)
	}
	if !reflect.DeepEqual(p.CharacterIDs, []state.ID{"c1"}) {
		t.Errorf("expected [c1], got %v", p.CharacterIDs)
	}

	s = mustApply(t, r, s, action.RemovePlayer("p1"), action.RemovePlayer("p1"))
	if s.Players.Len() != 0 {
		t.Errorf("expected no players, got %d", s.Players.Len())
	}
}

func TestCharacters_RelativeHP(t *testing.T) {
	tests := []struct {
		name     string
		hp       int
		tempHP   int
		maxHP    int
		adjust   int
		relative int
		wantHP   int
		wantTemp int
	}{
		{"damage", 10, 0, 20, 0, -4, 6, 0},
		{"damage absorbed by temp", 10, 5, 20, 0, -3, 10, 2},
		{"damage exceeds temp", 10, 5, 20, 0, -8, 7, 0},
		{"damage below zero", 3, 0, 20, 0, -10, 0, 0},
		{"heal", 10, 0, 20, 0, 5, 15, 0},
		{"heal clamps", 18, 0, 20, 0, 5, 20, 0},
		{"heal with adjustment", 18, 0, 20, 5, 5, 23, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRoot()
			s := mustApply(t, r, state.Initial(),
				action.AddCharacter(state.Character{
					ID: "c1", HP: tt.hp, TemporaryHP: tt.tempHP, MaxHP: tt.maxHP, MaxHPAdjustment: tt.adjust,
				}),
				action.UpdateCharacterHPRelative("c1", tt.relative),
			)
			c, _ := s.Characters.Get("c1")
			if c.HP != tt.wantHP {
				t.Errorf("expected hp %d, got %d", tt.wantHP, c.HP)
			}
			if c.TemporaryHP != tt.wantTemp {
				t.Errorf("expected temporary hp %d, got %d", tt.wantTemp, c.TemporaryHP)
			}
		})
	}
}

func TestMaps_Objects(t *testing.T) {
	r := NewRoot()
	obj := state.MapObject{ID: "o1", Type: state.MapObjectToken, Position: state.Point{X: 1, Y: 2}}
	s := mustApply(t, r, state.Initial(),
		action.AddMapObject(state.DefaultMapID, obj),
		action.UpdateMapObject(state.DefaultMapID, action.NewUpdate("o1", map[string]any{
			"position": state.Point{X: 5, Y: 6},
		})),
		action.UpdateMapSettings(action.NewUpdate(state.DefaultMapID, map[string]any{"name": "Dungeon"})),
	)
	m, _ := s.Maps.Get(state.DefaultMapID)
	o, ok := m.Objects.Get("o1")
	if !ok {
		t.Fatal("expected object o1")
	}
	if o.Position != (state.Point{X: 5, Y: 6}) {
		t.Errorf("expected moved object, got %+v", o.Position)
	}
	if m.Settings.Name != "Dungeon" {
		t.Errorf("expected renamed map, got %q", m.Settings.Name)
	}
	if !m.Settings.GridEnabled {
		t.Error("expected untouched settings to be kept")
	}

	s = mustApply(t, r, s, action.RemoveMapObject(action.MapObjectRemovePayload{MapID: state.DefaultMapID, MapObjectID: "o1"}))
	m, _ = s.Maps.Get(state.DefaultMapID)
	if m.Objects.Len() != 0 {
		t.Errorf("expected no objects, got %d", m.Objects.Len())
	}
}

func TestMaps_UnknownMap(t *testing.T) {
	r := NewRoot()
	_, err := r.Apply(state.Initial(), action.UpdateMapSettings(action.NewUpdate("RRID/map/nope", map[string]any{"name": "x"})))
	if !errors.Is(err, ErrUnknownMap) {
		t.Errorf("expected ErrUnknownMap, got %v", err)
	}
}

func TestMaps_RemoveTokenRemovesLocalCharacter(t *testing.T) {
	r := NewRoot()
	s := mustApply(t, r, state.Initial(),
		action.AddCharacter(state.Character{ID: "c1", LocalToMap: state.DefaultMapID}),
		action.AddMapObject(state.DefaultMapID, state.MapObject{ID: "o1", Type: state.MapObjectToken, CharacterID: "c1"}),
		action.RemoveMapObject(action.MapObjectRemovePayload{
			MapID: state.DefaultMapID, MapObjectID: "o1", RemoveTemplateID: "c1",
		}),
	)
	if s.Characters.Has("c1") {
		t.Error("expected map-local character to be removed with its token")
	}
}

func TestLogEntriesAndEphemeral(t *testing.T) {
	r := NewRoot()
	s := mustApply(t, r, state.Initial(),
		action.AddLogEntry(state.LogEntry{ID: "l1", Type: state.LogEntryMessage, Payload: []byte(`{"text":"hi"}`)}),
		action.AddEphemeralPlayer(state.EphemeralPlayer{ID: "p1", IsOnline: true}),
		action.UpdateEphemeralPlayer(action.NewUpdate("p1", map[string]any{"mapMouse": state.Point{X: 1, Y: 1}})),
	)
	if !s.LogEntries.Has("l1") {
		t.Error("expected log entry l1")
	}
	p, _ := s.Ephemeral.Players.Get("p1")
	if p.MapMouse == nil || *p.MapMouse != (state.Point{X: 1, Y: 1}) {
		t.Errorf("expected mouse position, got %v", p.MapMouse)
	}

	s = mustApply(t, r, s, action.RemoveLogEntry("l1"), action.RemoveEphemeralPlayer("p1"))
	if s.LogEntries.Len() != 0 || s.Ephemeral.Players.Len() != 0 {
		t.Error("expected log and presence to be empty")
	}
}

func TestInitiativeTracker_SetCurrentEntryRequiresEntry(t *testing.T) {
	r := NewRoot()
	s := mustApply(t, r, state.Initial(),
		action.AddInitiativeEntry(state.InitiativeEntry{ID: "e1", Type: state.InitiativeEntryLairAction, Initiative: 10}),
	)

	next, err := r.Apply(s, action.SetInitiativeTrackerCurrentEntry("ghost"))
	if !errors.Is(err, ErrUnknownEntry) {
		t.Fatalf("expected ErrUnknownEntry, got %v", err)
	}
	if next.InitiativeTracker.CurrentEntryID != "" {
		t.Errorf("expected no current entry, got %q", next.InitiativeTracker.CurrentEntryID)
	}

	s = mustApply(t, r, s, action.SetInitiativeTrackerCurrentEntry("e1"))
	if s.InitiativeTracker.CurrentEntryID != "e1" {
		t.Errorf("expected e1, got %q", s.InitiativeTracker.CurrentEntryID)
	}
	s = mustApply(t, r, s, action.SetInitiativeTrackerCurrentEntry(""))
	if s.InitiativeTracker.CurrentEntryID != "" {
		t.Errorf("expected the empty id to clear the entry, got %q", s.InitiativeTracker.CurrentEntryID)
	}
}

func TestMaps_UpdateKeepsObjects(t *testing.T) {
	r := NewRoot()
	s := mustApply(t, r, state.Initial(),
		action.AddMapObject(state.DefaultMapID, state.MapObject{ID: "o1", Type: state.MapObjectToken}),
	)

	broken := map[string]any{
		"objects": map[string]any{"entities": map[string]any{}, "ids": []string{"ghost"}},
	}
	s = mustApply(t, r, s, action.UpdateMap(action.NewUpdate(state.DefaultMapID, broken)))
	m, _ := s.Maps.Get(state.DefaultMapID)
	if m.Objects.Len() != 1 || !m.Objects.Has("o1") {
		t.Errorf("expected objects to be kept, got %v", m.Objects.IDs)
	}
	if err := state.Validate(s); err != nil {
		t.Errorf("expected valid state, got %v", err)
	}
}

func TestRoot_RejectsInvalidResult(t *testing.T) {
	r := NewRoot()
	s := state.Initial()
	m := state.Map{
		ID: "RRID/map/broken",
		Objects: state.Collection[state.MapObject]{
			Entities: map[state.ID]state.MapObject{},
			IDs:      []state.ID{"ghost"},
		},
	}
	next, err := r.Apply(s, action.AddMap(m))
	if !errors.Is(err, state.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	var applyErr *ApplyError
	if !errors.As(err, &applyErr) || applyErr.Type != action.MapAdd {
		t.Errorf("expected *ApplyError for %s, got %v", action.MapAdd, err)
	}
	if !state.Equal(s, next) {
		t.Error("expected state to be unchanged")
	}
}

func TestPrivateChats(t *testing.T) {
	r := NewRoot()

	add := action.AddPrivateChat("RRID/player/b", "RRID/player/a")
	chat, err := action.Decode[state.PrivateChat](add)
	if err != nil {
		t.Fatal(err)
	}
	if chat.IDA != "RRID/player/a" || chat.IDB != "RRID/player/b" {
		t.Errorf("expected sorted participants, got %q and %q", chat.IDA, chat.IDB)
	}

	s := mustApply(t, r, state.Initial(),
		add,
		action.AddPrivateChatMessage(chat.ID, state.PrivateChatMessage{ID: "m1", Direction: state.PrivateChatAToB, Text: "psst"}),
		action.UpdatePrivateChatMessage(chat.ID, action.NewUpdate("m1", map[string]any{"read": true})),
	)
	got, ok := s.PrivateChats.Get(chat.ID)
	if !ok {
		t.Fatal("expected chat")
	}
	m, ok := got.Messages.Get("m1")
	if !ok || !m.Read || m.Text != "psst" {
		t.Errorf("expected read message psst, got %+v", m)
	}
	if m.Timestamp == 0 {
		t.Error("expected a timestamp")
	}

	// Updating the chat never replaces its messages.
	s = mustApply(t, r, s, action.UpdatePrivateChat(action.NewUpdate(chat.ID, map[string]any{
		"messages": map[string]any{"entities": map[string]any{}, "ids": []string{}},
	})))
	got, _ = s.PrivateChats.Get(chat.ID)
	if got.Messages.Len() != 1 {
		t.Errorf("expected 1 message, got %d", got.Messages.Len())
	}

	// Messages for an unknown chat are dropped.
	before := s
	s = mustApply(t, r, s, action.AddPrivateChatMessage("RRID/privateChat/nope", state.PrivateChatMessage{Text: "lost"}))
	if !state.Equal(before, s) {
		t.Error("expected message to an unknown chat to be a no-op")
	}

	s = mustApply(t, r, s, action.RemovePrivateChat(chat.ID))
	if s.PrivateChats.Len() != 0 {
		t.Errorf("expected no chats, got %d", s.PrivateChats.Len())
	}
}

func TestSoundSets_Playlists(t *testing.T) {
	r := NewRoot()
	s := mustApply(t, r, state.Initial(),
		action.AddSoundSet(state.SoundSet{ID: "ss", Name: "Tavern", PlayerID: "RRID/player/gm"}),
		action.AddPlaylist("ss", state.Playlist{ID: "pl", Volume: 1}),
		action.AddPlaylistEntry("ss", "pl", state.PlaylistEntry{ID: "a", Type: state.PlaylistEntrySong, SongID: "s1"}),
		action.AddPlaylistEntry("ss", "pl", state.PlaylistEntry{ID: "b", Type: state.PlaylistEntrySilence, Duration: 500}),
		action.AddPlaylistEntry("ss", "pl", state.PlaylistEntry{ID: "c", Type: state.PlaylistEntrySong, SongID: "s2"}),
	)
	entryIDs := func(s state.State) []state.ID {
		set, _ := s.SoundSets.Get("ss")
		if len(set.Playlists) == 0 {
			return nil
		}
		var ids []state.ID
		for _, e := range set.Playlists[0].Entries {
			ids = append(ids, e.ID)
		}
		return ids
	}
	if got := entryIDs(s); !reflect.DeepEqual(got, []state.ID{"a", "b", "c"}) {
		t.Fatalf("expected [a b c], got %v", got)
	}

	moved := mustApply(t, r, s,
		action.MovePlaylistEntry("ss", "pl", "c", action.MoveUp),
		action.MovePlaylistEntry("ss", "pl", "a", action.MoveUp),
	)
	if got := entryIDs(moved); !reflect.DeepEqual(got, []state.ID{"a", "c", "b"}) {
		t.Errorf("expected [a c b], got %v", got)
	}
	if got := entryIDs(s); !reflect.DeepEqual(got, []state.ID{"a", "b", "c"}) {
		t.Errorf("expected the previous state to be untouched, got %v", got)
	}

	if _, err := r.Apply(s, action.MovePlaylistEntry("ss", "pl", "a", "sideways")); !errors.Is(err, ErrUnknownDirection) {
		t.Errorf("expected ErrUnknownDirection, got %v", err)
	}

	s = mustApply(t, r, s,
		action.UpdatePlaylistEntry("ss", "pl", action.NewUpdate("b", map[string]any{"duration": 1000})),
		action.UpdatePlaylist("ss", action.NewUpdate("pl", map[string]any{"volume": 0.5, "entries": []any{}})),
		action.UpdateSoundSet(action.NewUpdate("ss", map[string]any{"name": "Inn", "playlists": []any{}})),
	)
	set, _ := s.SoundSets.Get("ss")
	if set.Name != "Inn" || len(set.Playlists) != 1 {
		t.Fatalf("expected renamed set keeping its playlist, got %+v", set)
	}
	if pl := set.Playlists[0]; pl.Volume != 0.5 || len(pl.Entries) != 3 || pl.Entries[1].Duration != 1000 {
		t.Errorf("unexpected playlist %+v", pl)
	}

	// Removing the last entry removes the playlist.
	s = mustApply(t, r, s,
		action.RemovePlaylistEntry("ss", "pl", "a"),
		action.RemovePlaylistEntry("ss", "pl", "b"),
		action.RemovePlaylistEntry("ss", "pl", "c"),
	)
	set, _ = s.SoundSets.Get("ss")
	if len(set.Playlists) != 0 {
		t.Errorf("expected the empty playlist to be removed, got %d", len(set.Playlists))
	}

	s = mustApply(t, r, s,
		action.AddPlaylist("ss", state.Playlist{ID: "p2"}),
		action.RemovePlaylist("ss", "p2"),
		action.RemoveSoundSet("ss"),
	)
	if s.SoundSets.Len() != 0 {
		t.Errorf("expected no sound sets, got %d", s.SoundSets.Len())
	}
}

func TestEphemeralMusic(t *testing.T) {
	r := NewRoot()
	s := mustApply(t, r, state.Initial(),
		action.AddEphemeralPlayer(state.EphemeralPlayer{ID: "p1", IsOnline: true}),
		action.AddActiveMusic(state.ActiveMusic{ID: "am", Type: state.ActiveMusicSong, SongID: "s1", Volume: 1, AddedBy: "p1"}),
		action.UpdateActiveMusic(action.NewUpdate("am", map[string]any{"volume": 0.25})),
		action.UpdateEphemeralPlayer(action.NewUpdate("p1", map[string]any{"isOnline": false})),
	)
	m, ok := s.Ephemeral.ActiveMusic.Get("am")
	if !ok || m.Volume != 0.25 {
		t.Errorf("expected music at volume 0.25, got %+v", m)
	}
	if !s.Ephemeral.Players.Has("p1") {
		t.Error("expected presence to survive music actions")
	}

	s = mustApply(t, r, s, action.RemoveActiveMusic("am"))
	if s.Ephemeral.ActiveMusic.Len() != 0 || s.Ephemeral.Players.Len() != 1 {
		t.Errorf("expected no music and 1 player, got %d and %d", s.Ephemeral.ActiveMusic.Len(), s.Ephemeral.Players.Len())
	}
}
