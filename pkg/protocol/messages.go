package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/state"
)

// Message is a frame body.
type Message interface {
	FrameType() FrameType
	EncodeTo(e *Encoder) error
}

// Dispatch carries action envelopes from a client to the server. Envelopes
// are applied in order.
type Dispatch struct {
	Envelopes []action.Envelope
}

// SetState replaces the client's authoritative state.
type SetState struct {
	Seq      uint64
	Finished []action.UpdateID
	State    json.RawMessage
}

// PatchState patches the state of the previous SetState or PatchState the
// session received.
type PatchState struct {
	Seq      uint64
	Finished []action.UpdateID
	Patch    StatePatch
}

// ServerInfo is sent once after a session connects.
type ServerInfo struct {
	Version   string
	BuildHash string
	SessionID string
}

// SetPlayer announces which player the session acts as. An empty PlayerID
// clears it.
type SetPlayer struct {
	PlayerID state.ID
}

// Broadcast is an opaque message relayed to every other session.
type Broadcast struct {
	Data json.RawMessage
}

// Control wraps a control message.
type Control struct {
	Type    ControlType
	Payload any
}

func (*Dispatch) FrameType() FrameType     { return FrameDispatch }
func (*SetState) FrameType() FrameType     { return FrameSetState }
func (*PatchState) FrameType() FrameType   { return FramePatchState }
func (*ServerInfo) FrameType() FrameType   { return FrameServerInfo }
func (*SetPlayer) FrameType() FrameType    { return FrameSetPlayer }
func (*Broadcast) FrameType() FrameType    { return FrameBroadcast }
func (*Control) FrameType() FrameType      { return FrameControl }
func (*ErrorMessage) FrameType() FrameType { return FrameError }

// EncodeTo implements Message.
func (m *Dispatch) EncodeTo(e *Encoder) error {
	e.WriteUvarint(uint64(len(m.Envelopes)))
	for _, env := range m.Envelopes {
		e.WriteString(string(env.OptimisticUpdateID))
		if err := e.WriteJSON(env.Action); err != nil {
			return err
		}
	}
	return nil
}

// EncodeTo implements Message.
func (m *SetState) EncodeTo(e *Encoder) error {
	e.WriteUvarint(m.Seq)
	WriteStrings(e, m.Finished)
	e.WriteLenBytes(m.State)
	return nil
}

// EncodeTo implements Message.
func (m *PatchState) EncodeTo(e *Encoder) error {
	e.WriteUvarint(m.Seq)
	WriteStrings(e, m.Finished)
	return e.WriteJSON(m.Patch)
}

// EncodeTo implements Message.
func (m *ServerInfo) EncodeTo(e *Encoder) error {
	e.WriteString(m.Version)
	e.WriteString(m.BuildHash)
	e.WriteString(m.SessionID)
	return nil
}

// EncodeTo implements Message.
func (m *SetPlayer) EncodeTo(e *Encoder) error {
	e.WriteString(string(m.PlayerID))
	return nil
}

// EncodeTo implements Message.
func (m *Broadcast) EncodeTo(e *Encoder) error {
	e.WriteLenBytes(m.Data)
	return nil
}

// EncodeTo implements Message.
func (m *Control) EncodeTo(e *Encoder) error {
	EncodeControlTo(e, m.Type, m.Payload)
	return nil
}

// EncodeTo implements Message.
func (m *ErrorMessage) EncodeTo(e *Encoder) error {
	e.WriteBytes(EncodeErrorMessage(m))
	return nil
}

// NewMessageFrame encodes m into a frame.
func NewMessageFrame(m Message) (*Frame, error) {
	e := NewEncoder()
	if err := m.EncodeTo(e); err != nil {
		return nil, err
	}
	if e.Len() > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	return NewFrame(m.FrameType(), e.Bytes()), nil
}

// EncodeMessage encodes m into a complete frame, compressing payloads of at
// least compressThreshold bytes. A threshold <= 0 disables compression.
func EncodeMessage(m Message, compressThreshold int) ([]byte, error) {
	f, err := NewMessageFrame(m)
	if err != nil {
		return nil, err
	}
	if err := f.Compress(compressThreshold); err != nil {
		return nil, err
	}
	return f.Encode(), nil
}

// DecodeMessage decodes a complete frame into its message.
func DecodeMessage(data []byte) (Message, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	return ParseFrame(f)
}

// ParseFrame decodes the body of f. Compressed payloads are inflated first.
func ParseFrame(f *Frame) (Message, error) {
	if err := f.Decompress(); err != nil {
		return nil, err
	}
	d := NewDecoder(f.Payload)
	var (
		m   Message
		err error
	)
	switch f.Type {
	case FrameDispatch:
		m, err = decodeDispatch(d)
	case FrameSetState:
		m, err = decodeSetState(d)
	case FramePatchState:
		m, err = decodePatchState(d)
	case FrameServerInfo:
		m, err = decodeServerInfo(d)
	case FrameSetPlayer:
		var id string
		id, err = d.ReadString()
		m = &SetPlayer{PlayerID: state.ID(id)}
	case FrameBroadcast:
		var data []byte
		data, err = d.ReadLenBytes()
		m = &Broadcast{Data: data}
	case FrameControl:
		ct, payload, err := DecodeControl(f.Payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", f.Type, err)
		}
		return &Control{Type: ct, Payload: payload}, nil
	case FrameError:
		em, err := DecodeErrorMessage(f.Payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", f.Type, err)
		}
		return em, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidFrameType, uint8(f.Type))
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", f.Type, err)
	}
	if err := d.Finish(); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", f.Type, err)
	}
	return m, nil
}

func decodeDispatch(d *Decoder) (*Dispatch, error) {
	n, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	m := &Dispatch{Envelopes: make([]action.Envelope, 0, n)}
	for i := 0; i < n; i++ {
		id, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		var a action.Action
		if err := d.ReadJSON(&a); err != nil {
			return nil, err
		}
		m.Envelopes = append(m.Envelopes, action.Envelope{
			Action:             a,
			OptimisticUpdateID: action.UpdateID(id),
		})
	}
	return m, nil
}

func decodeSetState(d *Decoder) (*SetState, error) {
	seq, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	finished, err := ReadStrings[action.UpdateID](d)
	if err != nil {
		return nil, err
	}
	body, err := d.ReadLenBytes()
	if err != nil {
		return nil, err
	}
	return &SetState{Seq: seq, Finished: finished, State: body}, nil
}

func decodePatchState(d *Decoder) (*PatchState, error) {
	seq, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	finished, err := ReadStrings[action.UpdateID](d)
	if err != nil {
		return nil, err
	}
	m := &PatchState{Seq: seq, Finished: finished}
	if err := d.ReadJSON(&m.Patch); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeServerInfo(d *Decoder) (*ServerInfo, error) {
	var m ServerInfo
	var err error
	if m.Version, err = d.ReadString(); err != nil {
		return nil, err
	}
	if m.BuildHash, err = d.ReadString(); err != nil {
		return nil, err
	}
	if m.SessionID, err = d.ReadString(); err != nil {
		return nil, err
	}
	return &m, nil
}
