package state

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CurrentVersion is the schema version written by this build.
const CurrentVersion = 42

// DefaultMapID is the id of the map present in a fresh state.
const DefaultMapID ID = "RRID/map/default"

// State is the full synced tabletop state.
//
// A State is a value: copying it is cheap and both copies may be used
// independently as long as neither is mutated in place. Use the With
// builders to derive a modified state.
type State struct {
	Version           int                     `json:"version"`
	GlobalSettings    GlobalSettings          `json:"globalSettings"`
	InitiativeTracker InitiativeTracker       `json:"initiativeTracker"`
	Players           Collection[Player]      `json:"players"`
	Characters        Collection[Character]   `json:"characters"`
	Maps              Collection[Map]         `json:"maps"`
	LogEntries        Collection[LogEntry]    `json:"logEntries"`
	PrivateChats      Collection[PrivateChat] `json:"privateChats"`
	SoundSets         Collection[SoundSet]    `json:"soundSets"`
	Ephemeral         Ephemeral               `json:"ephemeral"`
}

// DefaultMap returns the map every fresh state starts with.
func DefaultMap() Map {
	return Map{
		ID: DefaultMapID,
		Settings: MapSettings{
			Name:            "Default Map",
			BackgroundColor: "#000",
			GridEnabled:     true,
			GridColor:       "#808080",
		},
		Objects: EmptyCollection[MapObject](),
	}
}

// Initial returns a fresh state at CurrentVersion.
func Initial() State {
	return State{
		Version: CurrentVersion,
		InitiativeTracker: InitiativeTracker{
			Entries: EmptyCollection[InitiativeEntry](),
		},
		Players:      EmptyCollection[Player](),
		Characters:   EmptyCollection[Character](),
		Maps:         CollectionOf(DefaultMap()),
		LogEntries:   EmptyCollection[LogEntry](),
		PrivateChats: EmptyCollection[PrivateChat](),
		SoundSets:    EmptyCollection[SoundSet](),
		Ephemeral:    EmptyEphemeral(),
	}
}

func (s State) WithGlobalSettings(g GlobalSettings) State {
	s.GlobalSettings = g
	return s
}

func (s State) WithInitiativeTracker(t InitiativeTracker) State {
	s.InitiativeTracker = t
	return s
}

func (s State) WithPlayers(c Collection[Player]) State {
	s.Players = c
	return s
}

func (s State) WithCharacters(c Collection[Character]) State {
	s.Characters = c
	return s
}

func (s State) WithMaps(c Collection[Map]) State {
	s.Maps = c
	return s
}

func (s State) WithLogEntries(c Collection[LogEntry]) State {
	s.LogEntries = c
	return s
}

func (s State) WithPrivateChats(c Collection[PrivateChat]) State {
	s.PrivateChats = c
	return s
}

func (s State) WithSoundSets(c Collection[SoundSet]) State {
	s.SoundSets = c
	return s
}

func (s State) WithEphemeral(e Ephemeral) State {
	s.Ephemeral = e
	return s
}

// ErrInvalidState is wrapped by every error returned from Validate.
var ErrInvalidState = errors.New("state: invalid")

// Validate checks the collection invariants of every slice and the cross
// references the engine relies on.
func Validate(s State) error {
	if s.Version <= 0 {
		return fmt.Errorf("%w: version %d", ErrInvalidState, s.Version)
	}
	checks := []struct {
		name string
		fn   func() error
	}{
		{"initiativeTracker.entries", s.InitiativeTracker.Entries.Validate},
		{"players", s.Players.Validate},
		{"characters", s.Characters.Validate},
		{"maps", s.Maps.Validate},
		{"logEntries", s.LogEntries.Validate},
		{"privateChats", s.PrivateChats.Validate},
		{"soundSets", s.SoundSets.Validate},
		{"ephemeral.players", s.Ephemeral.Players.Validate},
		{"ephemeral.activeMusic", s.Ephemeral.ActiveMusic.Validate},
	}
	for _, c := range checks {
		if err := c.fn(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidState, c.name, err)
		}
	}
	for _, m := range s.Maps.All() {
		if err := m.Objects.Validate(); err != nil {
			return fmt.Errorf("%w: maps[%s].objects: %v", ErrInvalidState, m.ID, err)
		}
	}
	for _, c := range s.PrivateChats.All() {
		if err := c.Messages.Validate(); err != nil {
			return fmt.Errorf("%w: privateChats[%s].messages: %v", ErrInvalidState, c.ID, err)
		}
	}
	if cur := s.InitiativeTracker.CurrentEntryID; cur != "" && !s.InitiativeTracker.Entries.Has(cur) {
		return fmt.Errorf("%w: currentEntryId %q has no entry", ErrInvalidState, cur)
	}
	return nil
}

// Decode parses a JSON state and validates it. On error the zero State is
// returned.
func Decode(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err := Validate(s); err != nil {
		return State{}, err
	}
	return s, nil
}

// Equal reports whether two states have identical JSON encodings.
func Equal(a, b State) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ja) == string(jb)
}
