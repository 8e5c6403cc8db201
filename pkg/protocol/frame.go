package protocol

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
)

// Frame constants.
const (
	// FrameHeaderSize is the size of the frame header in bytes.
	FrameHeaderSize = 6

	// MaxPayloadSize is the maximum payload size after decompression (16MB).
	MaxPayloadSize = HardMaxAllocation
)

// FrameType identifies the type of frame.
type FrameType uint8

const (
	FrameDispatch   FrameType = 0x01 // Client → Server action envelopes
	FrameSetState   FrameType = 0x02 // Server → Client full state
	FramePatchState FrameType = 0x03 // Server → Client state patch
	FrameControl    FrameType = 0x04 // Control messages (ping, close)
	FrameError      FrameType = 0x05 // Error message
	FrameServerInfo FrameType = 0x06 // Server → Client build info
	FrameSetPlayer  FrameType = 0x07 // Client → Server presence
	FrameBroadcast  FrameType = 0x08 // Relayed to every other client
)

// String returns the string representation of the frame type.
func (ft FrameType) String() string {
	switch ft {
	case FrameDispatch:
		return "Dispatch"
	case FrameSetState:
		return "SetState"
	case FramePatchState:
		return "PatchState"
	case FrameControl:
		return "Control"
	case FrameError:
		return "Error"
	case FrameServerInfo:
		return "ServerInfo"
	case FrameSetPlayer:
		return "SetPlayer"
	case FrameBroadcast:
		return "Broadcast"
	default:
		return "Unknown"
	}
}

// Valid reports whether ft is a known frame type.
func (ft FrameType) Valid() bool {
	return ft >= FrameDispatch && ft <= FrameBroadcast
}

// FrameFlags are optional flags for frame processing.
type FrameFlags uint8

const (
	FlagCompressed FrameFlags = 0x01 // Payload is gzip compressed
)

// Has returns true if the flags contain the specified flag.
func (ff FrameFlags) Has(flag FrameFlags) bool {
	return ff&flag != 0
}

// Frame errors.
var (
	ErrFrameTooLarge    = errors.New("protocol: frame payload too large")
	ErrInvalidFrameType = errors.New("protocol: invalid frame type")
)

// Frame represents a protocol frame with header and payload.
type Frame struct {
	Type    FrameType
	Flags   FrameFlags
	Payload []byte
}

// NewFrame creates a new frame with the given type and payload.
func NewFrame(ft FrameType, payload []byte) *Frame {
	return &Frame{Type: ft, Payload: payload}
}

// Encode encodes the frame to bytes including the header.
func (f *Frame) Encode() []byte {
	e := NewEncoderWithCap(FrameHeaderSize + len(f.Payload))
	f.EncodeTo(e)
	return e.Bytes()
}

// EncodeTo encodes the frame using the provided encoder.
func (f *Frame) EncodeTo(e *Encoder) {
	e.WriteByte(byte(f.Type))
	e.WriteByte(byte(f.Flags))
	e.WriteUint32(uint32(len(f.Payload)))
	e.WriteBytes(f.Payload)
}

// DecodeFrame decodes a frame from bytes. The input must contain the
// header and the full payload.
func DecodeFrame(data []byte) (*Frame, error) {
	d := NewDecoder(data)
	ft, flags, length, err := decodeHeader(d)
	if err != nil {
		return nil, err
	}
	if length > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	body, err := d.ReadBytes(length)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, length)
	copy(payload, body)
	return &Frame{Type: ft, Flags: flags, Payload: payload}, nil
}

// ReadFrame reads a complete frame from an io.Reader.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	ft, flags, length, err := decodeHeader(NewDecoder(header))
	if err != nil {
		return nil, err
	}
	if length > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return &Frame{Type: ft, Flags: flags, Payload: payload}, nil
}

// WriteFrame writes a complete frame to an io.Writer.
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Payload) > MaxPayloadSize {
		return ErrFrameTooLarge
	}
	_, err := w.Write(f.Encode())
	return err
}

func decodeHeader(d *Decoder) (FrameType, FrameFlags, int, error) {
	ft, err := d.ReadByte()
	if err != nil {
		return 0, 0, 0, err
	}
	flags, err := d.ReadByte()
	if err != nil {
		return 0, 0, 0, err
	}
	length, err := d.ReadUint32()
	if err != nil {
		return 0, 0, 0, err
	}
	return FrameType(ft), FrameFlags(flags), int(length), nil
}

// Compress gzips the payload when it is at least threshold bytes long and
// compression makes it smaller. A threshold <= 0 disables compression.
func (f *Frame) Compress(threshold int) error {
	if threshold <= 0 || len(f.Payload) < threshold || f.Flags.Has(FlagCompressed) {
		return nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(f.Payload); err != nil {
		return fmt.Errorf("protocol: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("protocol: compress: %w", err)
	}
	if buf.Len() >= len(f.Payload) {
		return nil
	}
	f.Payload = buf.Bytes()
	f.Flags |= FlagCompressed
	return nil
}

// Decompress inflates a compressed payload in place. The inflated size is
// limited to MaxPayloadSize.
func (f *Frame) Decompress() error {
	if !f.Flags.Has(FlagCompressed) {
		return nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(f.Payload))
	if err != nil {
		return fmt.Errorf("protocol: decompress: %w", err)
	}
	defer zr.Close()
	payload, err := io.ReadAll(io.LimitReader(zr, MaxPayloadSize+1))
	if err != nil {
		return fmt.Errorf("protocol: decompress: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return ErrFrameTooLarge
	}
	f.Payload = payload
	f.Flags &^= FlagCompressed
	return nil
}
