package action

import (
	"encoding/json"
	"time"

	"github.com/vango-dev/tablesync/pkg/state"
)

// Action types. The strings are part of the wire format.
const (
	GlobalSettingsUpdate = "globalSettings/update"

	InitiativeTrackerSetVisible       = "initiativeTracker/visible"
	InitiativeTrackerSetCurrentEntry  = "initiativeTracker/currentEntryId"
	InitiativeTrackerCharacterAdd     = "initiativeTracker/entry/character/add"
	InitiativeTrackerLairActionAdd    = "initiativeTracker/entry/lairAction/add"
	InitiativeTrackerCharacterUpdate  = "initiativeTracker/entry/character/update"
	InitiativeTrackerLairActionUpdate = "initiativeTracker/entry/lairAction/update"
	InitiativeTrackerEntryRemove      = "initiativeTracker/entry/remove"

	PlayerAdd            = "player/add"
	PlayerUpdate         = "player/update"
	PlayerRemove         = "player/remove"
	PlayerAddCharacterID = "player/update/characterId"

	CharacterAdd              = "character/add"
	CharacterUpdate           = "character/update"
	CharacterRemove           = "character/remove"
	CharacterUpdateHPRelative = "character/hp/update/relative"

	MapAdd            = "map/add"
	MapUpdate         = "map/update"
	MapRemove         = "map/remove"
	MapSettingsUpdate = "map/settings/update"
	MapObjectAdd      = "map/object/add"
	MapObjectUpdate   = "map/object/update"
	MapObjectRemove   = "map/object/remove"

	LogEntryMessageAdd     = "logEntry/message/add"
	LogEntryAchievementAdd = "logEntry/achievement/add"
	LogEntryDiceRollAdd    = "logEntry/diceRoll/add"
	LogEntryRemove         = "logEntry/remove"

	PrivateChatAdd           = "privateChat/add"
	PrivateChatUpdate        = "privateChat/update"
	PrivateChatRemove        = "privateChat/remove"
	PrivateChatMessageAdd    = "privateChat/message/add"
	PrivateChatMessageUpdate = "privateChat/message/update"

	SoundSetAdd                 = "soundSet/add"
	SoundSetUpdate              = "soundSet/update"
	SoundSetRemove              = "soundSet/remove"
	SoundSetPlaylistAdd         = "soundSet/playlist/add"
	SoundSetPlaylistUpdate      = "soundSet/playlist/update"
	SoundSetPlaylistRemove      = "soundSet/playlist/remove"
	SoundSetPlaylistEntryAdd    = "soundSet/playlist/entry/add"
	SoundSetPlaylistEntryUpdate = "soundSet/playlist/entry/update"
	SoundSetPlaylistEntryMove   = "soundSet/playlist/entry/move"
	SoundSetPlaylistEntryRemove = "soundSet/playlist/entry/remove"

	EphemeralPlayerAdd    = "ephemeral/player/add"
	EphemeralPlayerUpdate = "ephemeral/player/update"
	EphemeralPlayerRemove = "ephemeral/player/remove"
	EphemeralMusicAdd     = "ephemeral/music/add"
	EphemeralMusicUpdate  = "ephemeral/music/update"
	EphemeralMusicRemove  = "ephemeral/music/remove"
)

var knownTypes = map[string]bool{
	GlobalSettingsUpdate:              true,
	InitiativeTrackerSetVisible:       true,
	InitiativeTrackerSetCurrentEntry:  true,
	InitiativeTrackerCharacterAdd:     true,
	InitiativeTrackerLairActionAdd:    true,
	InitiativeTrackerCharacterUpdate:  true,
	InitiativeTrackerLairActionUpdate: true,
	InitiativeTrackerEntryRemove:      true,
	PlayerAdd:                         true,
	PlayerUpdate:                      true,
	PlayerRemove:                      true,
	PlayerAddCharacterID:              true,
	CharacterAdd:                      true,
	CharacterUpdate:                   true,
	CharacterRemove:                   true,
	CharacterUpdateHPRelative:         true,
	MapAdd:                            true,
	MapUpdate:                         true,
	MapRemove:                         true,
	MapSettingsUpdate:                 true,
	MapObjectAdd:                      true,
	MapObjectUpdate:                   true,
	MapObjectRemove:                   true,
	LogEntryMessageAdd:                true,
	LogEntryAchievementAdd:            true,
	LogEntryDiceRollAdd:               true,
	LogEntryRemove:                    true,
	EphemeralPlayerAdd:                true,
	EphemeralPlayerUpdate:             true,
	PrivateChatAdd:                    true,
	PrivateChatUpdate:                 true,
	PrivateChatRemove:                 true,
	PrivateChatMessageAdd:             true,
	PrivateChatMessageUpdate:          true,
	SoundSetAdd:                       true,
	SoundSetUpdate:                    true,
	SoundSetRemove:                    true,
	SoundSetPlaylistAdd:               true,
	SoundSetPlaylistUpdate:            true,
	SoundSetPlaylistRemove:            true,
	SoundSetPlaylistEntryAdd:          true,
	SoundSetPlaylistEntryUpdate:       true,
	SoundSetPlaylistEntryMove:         true,
	SoundSetPlaylistEntryRemove:       true,
	EphemeralPlayerRemove:             true,
	EphemeralMusicAdd:                 true,
	EphemeralMusicUpdate:              true,
	EphemeralMusicRemove:              true,
}

// Known reports whether typ is one of the action types of this build.
func Known(typ string) bool {
	return knownTypes[typ]
}

// Update is the payload of every "<entity>/update" action: a shallow partial
// update of the entity with the given id.
type Update struct {
	ID      state.ID        `json:"id"`
	Changes json.RawMessage `json:"changes"`
}

// NewUpdate encodes changes as a partial update of id. changes is usually a
// map[string]any holding only the fields to replace.
func NewUpdate(id state.ID, changes any) Update {
	raw, err := json.Marshal(changes)
	if err != nil {
		panic(err)
	}
	return Update{ID: id, Changes: raw}
}

// AddCharacterIDPayload links a character to a player.
type AddCharacterIDPayload struct {
	ID          state.ID `json:"id"`
	CharacterID state.ID `json:"characterId"`
}

// RelativeHPPayload adds RelativeHP (negative for damage) to a character.
type RelativeHPPayload struct {
	ID         state.ID `json:"id"`
	RelativeHP int      `json:"relativeHP"`
}

// MapObjectAddPayload adds an object to a map.
type MapObjectAddPayload struct {
	MapID     state.ID        `json:"mapId"`
	MapObject state.MapObject `json:"mapObject"`
}

// MapObjectUpdatePayload updates an object of a map.
type MapObjectUpdatePayload struct {
	MapID  state.ID `json:"mapId"`
	Update Update   `json:"update"`
}

// MapObjectRemovePayload removes an object from a map. When RemoveTemplateID
// is set the map-local character behind a token is removed as well.
type MapObjectRemovePayload struct {
	MapID            state.ID `json:"mapId"`
	MapObjectID      state.ID `json:"mapObjectId"`
	RemoveTemplateID state.ID `json:"removeTemplateId,omitempty"`
}

// PrivateChatMessagePayload adds a message to a chat.
type PrivateChatMessagePayload struct {
	ChatID  state.ID                 `json:"chatId"`
	Message state.PrivateChatMessage `json:"message"`
}

// PrivateChatMessageUpdatePayload updates a message of a chat.
type PrivateChatMessageUpdatePayload struct {
	ChatID state.ID `json:"chatId"`
	Update Update   `json:"update"`
}

// PlaylistPayload adds a playlist to a sound set.
type PlaylistPayload struct {
	SoundSetID state.ID       `json:"soundSetId"`
	Playlist   state.Playlist `json:"playlist"`
}

// PlaylistUpdatePayload updates a playlist of a sound set.
type PlaylistUpdatePayload struct {
	SoundSetID state.ID `json:"soundSetId"`
	Update     Update   `json:"update"`
}

// PlaylistRemovePayload removes a playlist from a sound set.
type PlaylistRemovePayload struct {
	SoundSetID state.ID `json:"soundSetId"`
	PlaylistID state.ID `json:"playlistId"`
}

// PlaylistEntryPayload adds an entry to the end of a playlist.
type PlaylistEntryPayload struct {
	SoundSetID    state.ID            `json:"soundSetId"`
	PlaylistID    state.ID            `json:"playlistId"`
	PlaylistEntry state.PlaylistEntry `json:"playlistEntry"`
}

// PlaylistEntryUpdatePayload updates an entry of a playlist.
type PlaylistEntryUpdatePayload struct {
	SoundSetID state.ID `json:"soundSetId"`
	PlaylistID state.ID `json:"playlistId"`
	Update     Update   `json:"update"`
}

// Directions of SoundSetPlaylistEntryMove.
const (
	MoveUp   = "up"
	MoveDown = "down"
)

// PlaylistEntryMovePayload moves an entry one step up or down.
type PlaylistEntryMovePayload struct {
	SoundSetID      state.ID `json:"soundSetId"`
	PlaylistID      state.ID `json:"playlistId"`
	PlaylistEntryID state.ID `json:"playlistEntryId"`
	Direction       string   `json:"direction"`
}

// PlaylistEntryRemovePayload removes an entry from a playlist.
type PlaylistEntryRemovePayload struct {
	SoundSetID      state.ID `json:"soundSetId"`
	PlaylistID      state.ID `json:"playlistId"`
	PlaylistEntryID state.ID `json:"playlistEntryId"`
}

func SetGlobalSettings(changes any) Action {
	return MustNew(GlobalSettingsUpdate, changes)
}

func SetInitiativeTrackerVisible(visible bool) Action {
	return MustNew(InitiativeTrackerSetVisible, visible)
}

// SetInitiativeTrackerCurrentEntry selects the active entry. An empty id
// ends the encounter.
func SetInitiativeTrackerCurrentEntry(id state.ID) Action {
	if id == "" {
		return Action{Type: InitiativeTrackerSetCurrentEntry, Payload: json.RawMessage("null")}
	}
	return MustNew(InitiativeTrackerSetCurrentEntry, id)
}

// AddInitiativeEntry adds e. A missing id is minted.
func AddInitiativeEntry(e state.InitiativeEntry) Action {
	if e.ID == "" {
		e.ID = state.NewID(state.KindInitiativeEntry)
	}
	if e.Type == state.InitiativeEntryLairAction {
		return MustNew(InitiativeTrackerLairActionAdd, e)
	}
	return MustNew(InitiativeTrackerCharacterAdd, e)
}

func UpdateInitiativeEntry(typ state.InitiativeEntryType, u Update) Action {
	if typ == state.InitiativeEntryLairAction {
		return MustNew(InitiativeTrackerLairActionUpdate, u)
	}
	return MustNew(InitiativeTrackerCharacterUpdate, u)
}

func RemoveInitiativeEntry(id state.ID) Action {
	return MustNew(InitiativeTrackerEntryRemove, id)
}

// AddPlayer adds p. A missing id is minted.
func AddPlayer(p state.Player) Action {
	if p.ID == "" {
		p.ID = state.NewID(state.KindPlayer)
	}
	if p.CharacterIDs == nil {
		p.CharacterIDs = []state.ID{}
	}
	return MustNew(PlayerAdd, p)
}

func UpdatePlayer(u Update) Action { return MustNew(PlayerUpdate, u) }

func RemovePlayer(id state.ID) Action { return MustNew(PlayerRemove, id) }

func AddCharacterToPlayer(playerID, characterID state.ID) Action {
	return MustNew(PlayerAddCharacterID, AddCharacterIDPayload{ID: playerID, CharacterID: characterID})
}

// AddCharacter adds c. A missing id is minted.
func AddCharacter(c state.Character) Action {
	if c.ID == "" {
		c.ID = state.NewID(state.KindCharacter)
	}
	if c.Conditions == nil {
		c.Conditions = []string{}
	}
	return MustNew(CharacterAdd, c)
}

func UpdateCharacter(u Update) Action { return MustNew(CharacterUpdate, u) }

func RemoveCharacter(id state.ID) Action { return MustNew(CharacterRemove, id) }

func UpdateCharacterHPRelative(id state.ID, relativeHP int) Action {
	return MustNew(CharacterUpdateHPRelative, RelativeHPPayload{ID: id, RelativeHP: relativeHP})
}

// AddMap adds m. A missing id is minted and a nil object collection is
// replaced by an empty one.
func AddMap(m state.Map) Action {
	if m.ID == "" {
		m.ID = state.NewID(state.KindMap)
	}
	if m.Objects.Entities == nil {
		m.Objects = state.EmptyCollection[state.MapObject]()
	}
	return MustNew(MapAdd, m)
}

func UpdateMap(u Update) Action { return MustNew(MapUpdate, u) }

func RemoveMap(id state.ID) Action { return MustNew(MapRemove, id) }

func UpdateMapSettings(u Update) Action { return MustNew(MapSettingsUpdate, u) }

// AddMapObject adds o to the map. A missing id is minted.
func AddMapObject(mapID state.ID, o state.MapObject) Action {
	if o.ID == "" {
		o.ID = state.NewID(state.KindMapObject)
	}
	return MustNew(MapObjectAdd, MapObjectAddPayload{MapID: mapID, MapObject: o})
}

func UpdateMapObject(mapID state.ID, u Update) Action {
	return MustNew(MapObjectUpdate, MapObjectUpdatePayload{MapID: mapID, Update: u})
}

func RemoveMapObject(p MapObjectRemovePayload) Action {
	return MustNew(MapObjectRemove, p)
}

// AddLogEntry adds e under the action type matching its entry type. A
// missing id is minted.
func AddLogEntry(e state.LogEntry) Action {
	if e.ID == "" {
		e.ID = state.NewID(state.KindLogEntry)
	}
	switch e.Type {
	case state.LogEntryDiceRoll:
		return MustNew(LogEntryDiceRollAdd, e)
	case state.LogEntryAchievement:
		return MustNew(LogEntryAchievementAdd, e)
	default:
		e.Type = state.LogEntryMessage
		return MustNew(LogEntryMessageAdd, e)
	}
}

func RemoveLogEntry(id state.ID) Action { return MustNew(LogEntryRemove, id) }

func AddEphemeralPlayer(p state.EphemeralPlayer) Action {
	return MustNew(EphemeralPlayerAdd, p)
}

func UpdateEphemeralPlayer(u Update) Action { return MustNew(EphemeralPlayerUpdate, u) }

func RemoveEphemeralPlayer(id state.ID) Action { return MustNew(EphemeralPlayerRemove, id) }

// AddPrivateChat opens a chat between two players. The ids are stored in
// sorted order, so the same pair always yields the same IDA and IDB.
func AddPrivateChat(player1, player2 state.ID) Action {
	a, b := player1, player2
	if b < a {
		a, b = b, a
	}
	return MustNew(PrivateChatAdd, state.PrivateChat{
		ID:       state.NewID(state.KindPrivateChat),
		IDA:      a,
		IDB:      b,
		Messages: state.EmptyCollection[state.PrivateChatMessage](),
	})
}

// UpdatePrivateChat updates the participants of a chat. Messages are not
// touched.
func UpdatePrivateChat(u Update) Action { return MustNew(PrivateChatUpdate, u) }

func RemovePrivateChat(id state.ID) Action { return MustNew(PrivateChatRemove, id) }

// AddPrivateChatMessage adds an unread message to a chat. A missing id is
// minted and a missing timestamp set to now.
func AddPrivateChatMessage(chatID state.ID, m state.PrivateChatMessage) Action {
	if m.ID == "" {
		m.ID = state.NewID(state.KindPrivateChatMessage)
	}
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}
	m.Read = false
	return MustNew(PrivateChatMessageAdd, PrivateChatMessagePayload{ChatID: chatID, Message: m})
}

func UpdatePrivateChatMessage(chatID state.ID, u Update) Action {
	return MustNew(PrivateChatMessageUpdate, PrivateChatMessageUpdatePayload{ChatID: chatID, Update: u})
}

// AddSoundSet adds s. A missing id is minted.
func AddSoundSet(s state.SoundSet) Action {
	if s.ID == "" {
		s.ID = state.NewID(state.KindSoundSet)
	}
	if s.Playlists == nil {
		s.Playlists = []state.Playlist{}
	}
	return MustNew(SoundSetAdd, s)
}

func UpdateSoundSet(u Update) Action { return MustNew(SoundSetUpdate, u) }

func RemoveSoundSet(id state.ID) Action { return MustNew(SoundSetRemove, id) }

// AddPlaylist appends p to a sound set. A missing id is minted.
func AddPlaylist(soundSetID state.ID, p state.Playlist) Action {
	if p.ID == "" {
		p.ID = state.NewID(state.KindPlaylist)
	}
	if p.Entries == nil {
		p.Entries = []state.PlaylistEntry{}
	}
	return MustNew(SoundSetPlaylistAdd, PlaylistPayload{SoundSetID: soundSetID, Playlist: p})
}

func UpdatePlaylist(soundSetID state.ID, u Update) Action {
	return MustNew(SoundSetPlaylistUpdate, PlaylistUpdatePayload{SoundSetID: soundSetID, Update: u})
}

func RemovePlaylist(soundSetID, playlistID state.ID) Action {
	return MustNew(SoundSetPlaylistRemove, PlaylistRemovePayload{SoundSetID: soundSetID, PlaylistID: playlistID})
}

// AddPlaylistEntry appends e to a playlist. A missing id is minted.
func AddPlaylistEntry(soundSetID, playlistID state.ID, e state.PlaylistEntry) Action {
	if e.ID == "" {
		e.ID = state.NewID(state.KindPlaylistEntry)
	}
	return MustNew(SoundSetPlaylistEntryAdd, PlaylistEntryPayload{
		SoundSetID: soundSetID, PlaylistID: playlistID, PlaylistEntry: e,
	})
}

func UpdatePlaylistEntry(soundSetID, playlistID state.ID, u Update) Action {
	return MustNew(SoundSetPlaylistEntryUpdate, PlaylistEntryUpdatePayload{
		SoundSetID: soundSetID, PlaylistID: playlistID, Update: u,
	})
}

// MovePlaylistEntry moves an entry one position in direction (MoveUp or
// MoveDown).
func MovePlaylistEntry(soundSetID, playlistID, entryID state.ID, direction string) Action {
	return MustNew(SoundSetPlaylistEntryMove, PlaylistEntryMovePayload{
		SoundSetID: soundSetID, PlaylistID: playlistID, PlaylistEntryID: entryID, Direction: direction,
	})
}

func RemovePlaylistEntry(soundSetID, playlistID, entryID state.ID) Action {
	return MustNew(SoundSetPlaylistEntryRemove, PlaylistEntryRemovePayload{
		SoundSetID: soundSetID, PlaylistID: playlistID, PlaylistEntryID: entryID,
	})
}

// AddActiveMusic starts playing m. A missing id is minted.
func AddActiveMusic(m state.ActiveMusic) Action {
	if m.ID == "" {
		m.ID = state.NewID(state.KindActiveMusic)
	}
	return MustNew(EphemeralMusicAdd, m)
}

func UpdateActiveMusic(u Update) Action { return MustNew(EphemeralMusicUpdate, u) }

func RemoveActiveMusic(id state.ID) Action { return MustNew(EphemeralMusicRemove, id) }
