package reducer

import (
	"errors"
	"fmt"
	"slices"

	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/state"
)

var (
	// ErrUnknownMap is returned for map-scoped actions that name a map which
	// does not exist.
	ErrUnknownMap = errors.New("reducer: unknown map")
	// ErrUnknownEntry is returned when the current initiative entry is set to
	// an id the tracker does not hold.
	ErrUnknownEntry = errors.New("reducer: unknown initiative entry")
	// ErrUnknownDirection is returned for a playlist move that is neither up
	// nor down.
	ErrUnknownDirection = errors.New("reducer: unknown move direction")
)

var (
	players          = state.NewAdapter[state.Player]()
	characters       = state.NewAdapter[state.Character]()
	maps             = state.NewAdapter[state.Map]()
	mapObjects       = state.NewAdapter[state.MapObject]()
	logEntries       = state.NewAdapter[state.LogEntry]()
	privateChats     = state.NewAdapter[state.PrivateChat]()
	chatMessages     = state.NewAdapter[state.PrivateChatMessage]()
	soundSets        = state.NewAdapter[state.SoundSet]()
	ephemeralPlayers = state.NewAdapter[state.EphemeralPlayer]()
	activeMusic      = state.NewAdapter[state.ActiveMusic]()
)

// GlobalSettings merges partial settings.
func GlobalSettings() Reducer[state.GlobalSettings] {
	return Func[state.GlobalSettings](func(g state.GlobalSettings, a action.Action) (state.GlobalSettings, error) {
		if a.Type != action.GlobalSettingsUpdate {
			return g, nil
		}
		return state.Merge(g, a.Payload)
	})
}

// InitiativeTracker handles visibility, the current entry and the sorted
// entry collection. The current entry must be held by the tracker or empty.
// Removing the current entry makes the entry after it current, wrapping
// around; removing the only entry clears it.
func InitiativeTracker() Reducer[state.InitiativeTracker] {
	entryReducer := entities(state.InitiativeEntries, cases{
		add:    []string{action.InitiativeTrackerCharacterAdd, action.InitiativeTrackerLairActionAdd},
		update: []string{action.InitiativeTrackerCharacterUpdate, action.InitiativeTrackerLairActionUpdate},
	})

	return Func[state.InitiativeTracker](func(t state.InitiativeTracker, a action.Action) (state.InitiativeTracker, error) {
		switch a.Type {
		case action.InitiativeTrackerSetVisible:
			visible, err := action.Decode[bool](a)
			if err != nil {
				return t, err
			}
			t.Visible = visible
			return t, nil

		case action.InitiativeTrackerSetCurrentEntry:
			// A null payload decodes to the empty id.
			id, err := action.Decode[state.ID](a)
			if err != nil {
				return t, err
			}
			if id != "" && !t.Entries.Has(id) {
				return t, fmt.Errorf("%w: %s", ErrUnknownEntry, id)
			}
			t.CurrentEntryID = id
			return t, nil

		case action.InitiativeTrackerEntryRemove:
			id, err := action.Decode[state.ID](a)
			if err != nil {
				return t, err
			}
			if t.CurrentEntryID == id {
				if idx := t.Entries.IndexOf(id); idx != -1 {
					if t.Entries.Len() == 1 {
						t.CurrentEntryID = ""
					} else {
						t.CurrentEntryID = t.Entries.IDs[(idx+1)%t.Entries.Len()]
					}
				}
			}
			t.Entries, _ = state.InitiativeEntries.RemoveOne(t.Entries, id)
			return t, nil
		}

		entries, err := entryReducer.Reduce(t.Entries, a)
		if err != nil {
			return t, err
		}
		t.Entries = entries
		return t, nil
	})
}

// Players handles the player collection.
func Players() Reducer[state.Collection[state.Player]] {
	base := entities(players, cases{
		add:    []string{action.PlayerAdd},
		update: []string{action.PlayerUpdate},
		remove: []string{action.PlayerRemove},
	})
	return Func[state.Collection[state.Player]](func(c state.Collection[state.Player], a action.Action) (state.Collection[state.Player], error) {
		if a.Type != action.PlayerAddCharacterID {
			return base.Reduce(c, a)
		}
		p, err := action.Decode[action.AddCharacterIDPayload](a)
		if err != nil {
			return c, err
		}
		next, _ := players.UpdateOne(c, p.ID, func(player state.Player) state.Player {
			ids := make([]state.ID, 0, len(player.CharacterIDs)+1)
			ids = append(ids, player.CharacterIDs...)
			player.CharacterIDs = append(ids, p.CharacterID)
			return player
		})
		return next, nil
	})
}

// Characters handles the character collection, relative HP changes and the
// removal of map-local characters together with their token.
func Characters() Reducer[state.Collection[state.Character]] {
	base := entities(characters, cases{
		add:    []string{action.CharacterAdd},
		update: []string{action.CharacterUpdate},
		remove: []string{action.CharacterRemove},
	})
	return Func[state.Collection[state.Character]](func(c state.Collection[state.Character], a action.Action) (state.Collection[state.Character], error) {
		switch a.Type {
		case action.CharacterUpdateHPRelative:
			p, err := action.Decode[action.RelativeHPPayload](a)
			if err != nil {
				return c, err
			}
			next, _ := characters.UpdateOne(c, p.ID, func(ch state.Character) state.Character {
				return applyRelativeHP(ch, p.RelativeHP)
			})
			return next, nil

		case action.MapObjectRemove:
			p, err := action.Decode[action.MapObjectRemovePayload](a)
			if err != nil {
				return c, err
			}
			if p.RemoveTemplateID == "" {
				return c, nil
			}
			next, _ := characters.RemoveOne(c, p.RemoveTemplateID)
			return next, nil
		}
		return base.Reduce(c, a)
	})
}

// applyRelativeHP applies damage (negative) or healing (positive). Damage is
// absorbed by temporary HP first. The result is clamped to [0, max HP].
func applyRelativeHP(c state.Character, relative int) state.Character {
	var hp int
	if relative < 0 {
		loss := -relative
		hp = c.HP - max(0, loss-c.TemporaryHP)
		c.TemporaryHP = max(0, c.TemporaryHP-loss)
	} else {
		hp = c.HP + relative
	}
	c.HP = max(0, min(hp, c.EffectiveMaxHP()))
	return c
}

// Maps handles the map collection and the object collections nested in each
// map. Object and settings actions for an unknown map fail with
// ErrUnknownMap. A map update never replaces the objects.
func Maps() Reducer[state.Collection[state.Map]] {
	base := entities(maps, cases{
		add:    []string{action.MapAdd},
		update: []string{action.MapUpdate},
		remove: []string{action.MapRemove},
		keep:   []string{"objects"},
	})

	withMap := func(c state.Collection[state.Map], id state.ID, fn func(state.Map) (state.Map, error)) (state.Collection[state.Map], error) {
		m, ok := c.Get(id)
		if !ok {
			return c, fmt.Errorf("%w: %s", ErrUnknownMap, id)
		}
		updated, err := fn(m)
		if err != nil {
			return c, err
		}
		next, _ := maps.UpdateOne(c, id, func(state.Map) state.Map { return updated })
		return next, nil
	}

	return Func[state.Collection[state.Map]](func(c state.Collection[state.Map], a action.Action) (state.Collection[state.Map], error) {
		switch a.Type {
		case action.MapSettingsUpdate:
			u, err := action.Decode[action.Update](a)
			if err != nil {
				return c, err
			}
			return withMap(c, u.ID, func(m state.Map) (state.Map, error) {
				settings, err := state.Merge(m.Settings, u.Changes)
				if err != nil {
					return m, err
				}
				m.Settings = settings
				return m, nil
			})

		case action.MapObjectAdd:
			p, err := action.Decode[action.MapObjectAddPayload](a)
			if err != nil {
				return c, err
			}
			return withMap(c, p.MapID, func(m state.Map) (state.Map, error) {
				m.Objects = mapObjects.AddOne(m.Objects, p.MapObject)
				return m, nil
			})

		case action.MapObjectUpdate:
			p, err := action.Decode[action.MapObjectUpdatePayload](a)
			if err != nil {
				return c, err
			}
			return withMap(c, p.MapID, func(m state.Map) (state.Map, error) {
				objects, err := updateOne(mapObjects, m.Objects, p.Update)
				if err != nil {
					return m, err
				}
				m.Objects = objects
				return m, nil
			})

		case action.MapObjectRemove:
			p, err := action.Decode[action.MapObjectRemovePayload](a)
			if err != nil {
				return c, err
			}
			return withMap(c, p.MapID, func(m state.Map) (state.Map, error) {
				m.Objects, _ = mapObjects.RemoveOne(m.Objects, p.MapObjectID)
				return m, nil
			})
		}
		return base.Reduce(c, a)
	})
}

// LogEntries handles the log.
func LogEntries() Reducer[state.Collection[state.LogEntry]] {
	return entities(logEntries, cases{
		add:    []string{action.LogEntryMessageAdd, action.LogEntryAchievementAdd, action.LogEntryDiceRollAdd},
		remove: []string{action.LogEntryRemove},
	})
}

// PrivateChats handles chats and their messages. A chat update never
// replaces the messages. Message actions for an unknown chat are no-ops.
func PrivateChats() Reducer[state.Collection[state.PrivateChat]] {
	base := entities(privateChats, cases{
		add:    []string{action.PrivateChatAdd},
		update: []string{action.PrivateChatUpdate},
		remove: []string{action.PrivateChatRemove},
		keep:   []string{"messages"},
	})
	return Func[state.Collection[state.PrivateChat]](func(c state.Collection[state.PrivateChat], a action.Action) (state.Collection[state.PrivateChat], error) {
		switch a.Type {
		case action.PrivateChatMessageAdd:
			p, err := action.Decode[action.PrivateChatMessagePayload](a)
			if err != nil {
				return c, err
			}
			next, _ := privateChats.UpdateOne(c, p.ChatID, func(chat state.PrivateChat) state.PrivateChat {
				chat.Messages = chatMessages.AddOne(chat.Messages, p.Message)
				return chat
			})
			return next, nil

		case action.PrivateChatMessageUpdate:
			p, err := action.Decode[action.PrivateChatMessageUpdatePayload](a)
			if err != nil {
				return c, err
			}
			chat, ok := c.Get(p.ChatID)
			if !ok {
				return c, nil
			}
			messages, err := updateOne(chatMessages, chat.Messages, p.Update)
			if err != nil {
				return c, err
			}
			next, _ := privateChats.UpdateOne(c, p.ChatID, func(chat state.PrivateChat) state.PrivateChat {
				chat.Messages = messages
				return chat
			})
			return next, nil
		}
		return base.Reduce(c, a)
	})
}

// SoundSets handles sound sets and the playlists nested in them. Playlists
// and their entries are plain slices; every action copies the slices it
// changes. Removing the last entry of a playlist removes the playlist.
// Actions naming an unknown sound set, playlist or entry are no-ops.
func SoundSets() Reducer[state.Collection[state.SoundSet]] {
	base := entities(soundSets, cases{
		add:    []string{action.SoundSetAdd},
		update: []string{action.SoundSetUpdate},
		remove: []string{action.SoundSetRemove},
		keep:   []string{"playlists"},
	})

	// withPlaylists replaces the playlists of a sound set by fn(playlists).
	withPlaylists := func(c state.Collection[state.SoundSet], id state.ID, fn func([]state.Playlist) ([]state.Playlist, error)) (state.Collection[state.SoundSet], error) {
		set, ok := c.Get(id)
		if !ok {
			return c, nil
		}
		playlists, err := fn(set.Playlists)
		if err != nil {
			return c, err
		}
		next, _ := soundSets.UpdateOne(c, id, func(s state.SoundSet) state.SoundSet {
			s.Playlists = playlists
			return s
		})
		return next, nil
	}

	// withEntries replaces the entries of one playlist by fn(entries). A
	// playlist whose last entry is removed is removed too.
	withEntries := func(c state.Collection[state.SoundSet], setID, playlistID state.ID, fn func([]state.PlaylistEntry) ([]state.PlaylistEntry, error)) (state.Collection[state.SoundSet], error) {
		return withPlaylists(c, setID, func(playlists []state.Playlist) ([]state.Playlist, error) {
			idx := slices.IndexFunc(playlists, func(p state.Playlist) bool { return p.ID == playlistID })
			if idx == -1 {
				return playlists, nil
			}
			entries, err := fn(slices.Clone(playlists[idx].Entries))
			if err != nil {
				return playlists, err
			}
			if len(entries) == 0 && len(playlists[idx].Entries) > 0 {
				return slices.Delete(slices.Clone(playlists), idx, idx+1), nil
			}
			next := slices.Clone(playlists)
			next[idx].Entries = entries
			return next, nil
		})
	}

	return Func[state.Collection[state.SoundSet]](func(c state.Collection[state.SoundSet], a action.Action) (state.Collection[state.SoundSet], error) {
		switch a.Type {
		case action.SoundSetPlaylistAdd:
			p, err := action.Decode[action.PlaylistPayload](a)
			if err != nil {
				return c, err
			}
			return withPlaylists(c, p.SoundSetID, func(playlists []state.Playlist) ([]state.Playlist, error) {
				return append(slices.Clone(playlists), p.Playlist), nil
			})

		case action.SoundSetPlaylistUpdate:
			p, err := action.Decode[action.PlaylistUpdatePayload](a)
			if err != nil {
				return c, err
			}
			return withPlaylists(c, p.SoundSetID, func(playlists []state.Playlist) ([]state.Playlist, error) {
				idx := slices.IndexFunc(playlists, func(pl state.Playlist) bool { return pl.ID == p.Update.ID })
				if idx == -1 {
					return playlists, nil
				}
				merged, err := state.MergeOmit(playlists[idx], p.Update.Changes, "entries")
				if err != nil {
					return playlists, err
				}
				next := slices.Clone(playlists)
				next[idx] = merged
				return next, nil
			})

		case action.SoundSetPlaylistRemove:
			p, err := action.Decode[action.PlaylistRemovePayload](a)
			if err != nil {
				return c, err
			}
			return withPlaylists(c, p.SoundSetID, func(playlists []state.Playlist) ([]state.Playlist, error) {
				return slices.DeleteFunc(slices.Clone(playlists), func(pl state.Playlist) bool { return pl.ID == p.PlaylistID }), nil
			})

		case action.SoundSetPlaylistEntryAdd:
			p, err := action.Decode[action.PlaylistEntryPayload](a)
			if err != nil {
				return c, err
			}
			return withEntries(c, p.SoundSetID, p.PlaylistID, func(entries []state.PlaylistEntry) ([]state.PlaylistEntry, error) {
				return append(entries, p.PlaylistEntry), nil
			})

		case action.SoundSetPlaylistEntryUpdate:
			p, err := action.Decode[action.PlaylistEntryUpdatePayload](a)
			if err != nil {
				return c, err
			}
			return withEntries(c, p.SoundSetID, p.PlaylistID, func(entries []state.PlaylistEntry) ([]state.PlaylistEntry, error) {
				idx := slices.IndexFunc(entries, func(e state.PlaylistEntry) bool { return e.ID == p.Update.ID })
				if idx == -1 {
					return entries, nil
				}
				merged, err := state.Merge(entries[idx], p.Update.Changes)
				if err != nil {
					return entries, err
				}
				entries[idx] = merged
				return entries, nil
			})

		case action.SoundSetPlaylistEntryMove:
			p, err := action.Decode[action.PlaylistEntryMovePayload](a)
			if err != nil {
				return c, err
			}
			step := 0
			switch p.Direction {
			case action.MoveUp:
				step = -1
			case action.MoveDown:
				step = 1
			default:
				return c, fmt.Errorf("%w: %q", ErrUnknownDirection, p.Direction)
			}
			return withEntries(c, p.SoundSetID, p.PlaylistID, func(entries []state.PlaylistEntry) ([]state.PlaylistEntry, error) {
				idx := slices.IndexFunc(entries, func(e state.PlaylistEntry) bool { return e.ID == p.PlaylistEntryID })
				to := idx + step
				if idx == -1 || to < 0 || to >= len(entries) {
					return entries, nil
				}
				entries[idx], entries[to] = entries[to], entries[idx]
				return entries, nil
			})

		case action.SoundSetPlaylistEntryRemove:
			p, err := action.Decode[action.PlaylistEntryRemovePayload](a)
			if err != nil {
				return c, err
			}
			return withEntries(c, p.SoundSetID, p.PlaylistID, func(entries []state.PlaylistEntry) ([]state.PlaylistEntry, error) {
				return slices.DeleteFunc(entries, func(e state.PlaylistEntry) bool { return e.ID == p.PlaylistEntryID }), nil
			})
		}
		return base.Reduce(c, a)
	})
}

// EphemeralPlayers handles presence records.
func EphemeralPlayers() Reducer[state.Collection[state.EphemeralPlayer]] {
	return entities(ephemeralPlayers, cases{
		add:    []string{action.EphemeralPlayerAdd},
		update: []string{action.EphemeralPlayerUpdate},
		remove: []string{action.EphemeralPlayerRemove},
	})
}

// EphemeralMusic handles the music currently playing.
func EphemeralMusic() Reducer[state.Collection[state.ActiveMusic]] {
	return entities(activeMusic, cases{
		add:    []string{action.EphemeralMusicAdd},
		update: []string{action.EphemeralMusicUpdate},
		remove: []string{action.EphemeralMusicRemove},
	})
}
