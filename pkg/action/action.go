// Package action defines the actions that drive every state transition and
// the envelope that carries them over the wire.
//
// Actions are pure data: a type string and an opaque JSON payload. The
// reducers in package reducer interpret the payload by type. Unknown types
// are ignored by the reducers so that newer clients can talk to older
// servers.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action is a single state transition request.
type Action struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UpdateID identifies an optimistic update batch. The empty UpdateID marks an
// action that was dispatched without optimistic tracking.
type UpdateID string

// Envelope wraps an action with the id of the optimistic update it belongs
// to. The action itself is never annotated.
type Envelope struct {
	Action             Action   `json:"action"`
	OptimisticUpdateID UpdateID `json:"optimisticUpdateId,omitempty"`
}

// Wrap wraps every action with the same update id.
func Wrap(id UpdateID, actions ...Action) []Envelope {
	out := make([]Envelope, len(actions))
	for i, a := range actions {
		out[i] = Envelope{Action: a, OptimisticUpdateID: id}
	}
	return out
}

// ErrNoType is returned for actions without a type.
var ErrNoType = errors.New("action: missing type")

// New builds an action with payload encoded as JSON. A nil payload produces
// an action without payload.
func New(typ string, payload any) (Action, error) {
	if typ == "" {
		return Action{}, ErrNoType
	}
	if payload == nil {
		return Action{Type: typ}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Action{}, fmt.Errorf("action: encode %s payload: %w", typ, err)
	}
	return Action{Type: typ, Payload: raw}, nil
}

// MustNew is like New but panics if the payload cannot be encoded. It is
// used by the typed constructors, whose payloads always encode.
func MustNew(typ string, payload any) Action {
	a, err := New(typ, payload)
	if err != nil {
		panic(err)
	}
	return a
}

// Decode unmarshals the payload of a into a value of type T.
func Decode[T any](a Action) (T, error) {
	var v T
	if len(a.Payload) == 0 {
		return v, fmt.Errorf("action: %s: empty payload", a.Type)
	}
	if err := json.Unmarshal(a.Payload, &v); err != nil {
		return v, fmt.Errorf("action: %s: decode payload: %w", a.Type, err)
	}
	return v, nil
}

// Validate checks the structural validity of an action.
func (a Action) Validate() error {
	if a.Type == "" {
		return ErrNoType
	}
	if len(a.Payload) > 0 && !json.Valid(a.Payload) {
		return fmt.Errorf("action: %s: payload is not valid JSON", a.Type)
	}
	return nil
}

func (a Action) String() string {
	return a.Type
}
