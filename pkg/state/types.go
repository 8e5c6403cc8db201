package state

import "encoding/json"

// Point is a position in map world coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p + o.
func (p Point) Add(o Point) Point { return Point{X: p.X + o.X, Y: p.Y + o.Y} }

// Visibility controls which players see an object.
type Visibility string

const (
	VisibilityEveryone Visibility = "everyone"
	VisibilityGMOnly   Visibility = "gmOnly"
)

// GlobalSettings is the scalar settings slice.
type GlobalSettings struct {
	MusicIsGMOnly bool `json:"musicIsGMOnly"`
}

// InitiativeEntryType distinguishes character turns from lair actions.
type InitiativeEntryType string

const (
	InitiativeEntryCharacter  InitiativeEntryType = "character"
	InitiativeEntryLairAction InitiativeEntryType = "lairAction"
)

// InitiativeEntry is one row of the initiative tracker.
type InitiativeEntry struct {
	ID           ID                  `json:"id"`
	Type         InitiativeEntryType `json:"type"`
	Initiative   int                 `json:"initiative"`
	CharacterIDs []ID                `json:"characterIds,omitempty"`
	Description  string              `json:"description,omitempty"`
}

func (e InitiativeEntry) EntityID() ID { return e.ID }

// InitiativeTracker is the initiative slice. CurrentEntryID is empty when no
// entry is active.
type InitiativeTracker struct {
	Visible        bool                        `json:"visible"`
	CurrentEntryID ID                          `json:"currentEntryId"`
	Entries        Collection[InitiativeEntry] `json:"entries"`
}

// InitiativeEntries orders initiative entries by initiative, highest first.
// Entries with equal initiative keep their insertion order.
var InitiativeEntries = NewSortedAdapter(func(a, b InitiativeEntry) int {
	return b.Initiative - a.Initiative
})

// Player is a participant of the table.
type Player struct {
	ID           ID     `json:"id"`
	Name         string `json:"name"`
	Color        string `json:"color"`
	IsGM         bool   `json:"isGM"`
	CharacterIDs []ID   `json:"characterIds"`
	CurrentMap   ID     `json:"currentMap"`
}

func (p Player) EntityID() ID { return p.ID }

// Concentration records a spell a character is concentrating on.
type Concentration struct {
	Name       string `json:"name"`
	RoundsLeft int    `json:"roundsLeft"`
}

// Character is a creature that can be placed on maps as a token.
type Character struct {
	ID              ID         `json:"id"`
	Name            string     `json:"name"`
	HP              int        `json:"hp"`
	TemporaryHP     int        `json:"temporaryHP"`
	MaxHP           int        `json:"maxHP"`
	MaxHPAdjustment int        `json:"maxHPAdjustment"`
	AC              *int       `json:"ac"`
	Conditions      []string   `json:"conditions"`
	Scale           float64    `json:"scale"`
	Visibility      Visibility `json:"visibility"`
	LocalToMap      ID         `json:"localToMap,omitempty"`

	CurrentlyConcentratingOn *Concentration `json:"currentlyConcentratingOn"`
}

func (c Character) EntityID() ID { return c.ID }

// EffectiveMaxHP is MaxHP including the adjustment.
func (c Character) EffectiveMaxHP() int { return c.MaxHP + c.MaxHPAdjustment }

// MapSettings holds the presentation settings of a map.
type MapSettings struct {
	Name            string `json:"name"`
	BackgroundColor string `json:"backgroundColor"`
	GridEnabled     bool   `json:"gridEnabled"`
	GridColor       string `json:"gridColor"`
	GMWorldPosition Point  `json:"gmWorldPosition"`
}

// MapObjectType enumerates the kinds of map objects.
type MapObjectType string

const (
	MapObjectToken     MapObjectType = "token"
	MapObjectMapLink   MapObjectType = "mapLink"
	MapObjectRectangle MapObjectType = "rectangle"
	MapObjectEllipse   MapObjectType = "ellipse"
	MapObjectPolygon   MapObjectType = "polygon"
	MapObjectFreehand  MapObjectType = "freehand"
	MapObjectText      MapObjectType = "text"
	MapObjectImage     MapObjectType = "image"
)

// MapObject is anything placed on a map. Fields that do not apply to the
// object's type are left empty.
type MapObject struct {
	ID          ID            `json:"id"`
	Type        MapObjectType `json:"type"`
	Position    Point         `json:"position"`
	Rotation    float64       `json:"rotation"`
	PlayerID    ID            `json:"playerId"`
	CharacterID ID            `json:"characterId,omitempty"`
	LinkedMapID ID            `json:"mapId,omitempty"`
	Color       string        `json:"color,omitempty"`
	Locked      bool          `json:"locked"`
	Visibility  Visibility    `json:"visibility"`
	Size        *Point        `json:"size,omitempty"`
	Points      []Point       `json:"points,omitempty"`
	Text        string        `json:"text,omitempty"`
}

func (o MapObject) EntityID() ID { return o.ID }

// Map is a scene. It owns its objects.
type Map struct {
	ID       ID                    `json:"id"`
	Settings MapSettings           `json:"settings"`
	Objects  Collection[MapObject] `json:"objects"`
}

func (m Map) EntityID() ID { return m.ID }

// LogEntryType enumerates log entry kinds.
type LogEntryType string

const (
	LogEntryMessage     LogEntryType = "message"
	LogEntryDiceRoll    LogEntryType = "diceRoll"
	LogEntryAchievement LogEntryType = "achievement"
)

// LogEntry is one line of the shared log. Payload is opaque to the engine;
// dice roll trees and achievements are interpreted by their renderers.
type LogEntry struct {
	ID        ID              `json:"id"`
	Type      LogEntryType    `json:"type"`
	PlayerID  ID              `json:"playerId"`
	Timestamp int64           `json:"timestamp"`
	Silent    bool            `json:"silent"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (l LogEntry) EntityID() ID { return l.ID }

// EphemeralPlayer is the presence record of a connected player.
type EphemeralPlayer struct {
	ID          ID      `json:"id"`
	IsOnline    bool    `json:"isOnline"`
	MapMouse    *Point  `json:"mapMouse"`
	MeasurePath []Point `json:"measurePath"`
}

func (p EphemeralPlayer) EntityID() ID { return p.ID }

// PrivateChatDirection tells which participant of a chat wrote a message.
type PrivateChatDirection string

const (
	PrivateChatAToB PrivateChatDirection = "a2b"
	PrivateChatBToA PrivateChatDirection = "b2a"
)

// PrivateChatMessage is one message of a private chat.
type PrivateChatMessage struct {
	ID        ID                   `json:"id"`
	Direction PrivateChatDirection `json:"direction"`
	Text      string               `json:"text"`
	Read      bool                 `json:"read"`
	Timestamp int64                `json:"timestamp"`
}

func (m PrivateChatMessage) EntityID() ID { return m.ID }

// PrivateChat is a conversation between two players. IDA sorts before IDB.
type PrivateChat struct {
	ID       ID                             `json:"id"`
	IDA      ID                             `json:"idA"`
	IDB      ID                             `json:"idB"`
	Messages Collection[PrivateChatMessage] `json:"messages"`
}

func (c PrivateChat) EntityID() ID { return c.ID }

// PlaylistEntryType distinguishes songs from pauses.
type PlaylistEntryType string

const (
	PlaylistEntrySong    PlaylistEntryType = "song"
	PlaylistEntrySilence PlaylistEntryType = "silence"
)

// PlaylistEntry is a song, or a silence of Duration milliseconds.
type PlaylistEntry struct {
	ID       ID                `json:"id"`
	Type     PlaylistEntryType `json:"type"`
	SongID   ID                `json:"songId,omitempty"`
	Volume   float64           `json:"volume,omitempty"`
	Duration float64           `json:"duration,omitempty"`
}

// Playlist plays its entries in order and loops.
type Playlist struct {
	ID      ID              `json:"id"`
	Volume  float64         `json:"volume"`
	Entries []PlaylistEntry `json:"entries"`
}

// SoundSet is a set of playlists played in parallel.
type SoundSet struct {
	ID          ID         `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	PlayerID    ID         `json:"playerId"`
	Playlists   []Playlist `json:"playlists"`
}

func (s SoundSet) EntityID() ID { return s.ID }

// ActiveMusicType distinguishes a playing song from a playing sound set.
type ActiveMusicType string

const (
	ActiveMusicSong     ActiveMusicType = "song"
	ActiveMusicSoundSet ActiveMusicType = "soundSet"
)

// ActiveMusic is a song or sound set currently playing for the table.
type ActiveMusic struct {
	ID         ID              `json:"id"`
	Type       ActiveMusicType `json:"type"`
	StartedAt  int64           `json:"startedAt"`
	Volume     float64         `json:"volume"`
	AddedBy    ID              `json:"addedBy"`
	SongID     ID              `json:"songId,omitempty"`
	SoundSetID ID              `json:"soundSetId,omitempty"`
}

func (m ActiveMusic) EntityID() ID { return m.ID }

// Ephemeral is state that is synced but never persisted.
type Ephemeral struct {
	Players     Collection[EphemeralPlayer] `json:"players"`
	ActiveMusic Collection[ActiveMusic]     `json:"activeMusic"`
}

// EmptyEphemeral returns ephemeral state without players or music.
func EmptyEphemeral() Ephemeral {
	return Ephemeral{
		Players:     EmptyCollection[EphemeralPlayer](),
		ActiveMusic: EmptyCollection[ActiveMusic](),
	}
}

func (e Ephemeral) WithPlayers(c Collection[EphemeralPlayer]) Ephemeral {
	e.Players = c
	return e
}

func (e Ephemeral) WithActiveMusic(c Collection[ActiveMusic]) Ephemeral {
	e.ActiveMusic = c
	return e
}
