package state

import (
	"strings"

	"github.com/google/uuid"
)

// ID identifies an entity. IDs have the form "RRID/<kind>/<uuid>".
type ID string

// idPrefix is the common prefix of all entity ids.
const idPrefix = "RRID/"

// Entity kinds.
const (
	KindPlayer          = "player"
	KindCharacter       = "character"
	KindMap             = "map"
	KindMapObject       = "mapObject"
	KindLogEntry        = "logEntry"
	KindInitiativeEntry = "initiativeEntry"

	KindPrivateChat        = "privateChat"
	KindPrivateChatMessage = "privateChatMessage"
	KindSoundSet           = "soundSet"
	KindPlaylist           = "playlist"
	KindPlaylistEntry      = "playlistEntry"
	KindActiveMusic        = "activeMusic"
)

// NewID mints a fresh id of the given kind.
func NewID(kind string) ID {
	return ID(idPrefix + kind + "/" + uuid.NewString())
}

// Kind returns the kind segment of the id, or "" if the id is malformed.
func (id ID) Kind() string {
	rest, ok := strings.CutPrefix(string(id), idPrefix)
	if !ok {
		return ""
	}
	kind, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return kind
}

// Valid reports whether the id has the RRID/<kind>/<value> shape.
func (id ID) Valid() bool {
	rest, ok := strings.CutPrefix(string(id), idPrefix)
	if !ok {
		return false
	}
	kind, value, ok := strings.Cut(rest, "/")
	return ok && kind != "" && value != ""
}

// String returns the id as a string.
func (id ID) String() string {
	return string(id)
}
