package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame limits. A tag is a short identifier and a payload is at most a full
// meeting collection document.
const (
	maxTagLength     = 256
	maxPayloadLength = 16 << 20
)

var (
	// ErrUnknownTag reports a frame carrying a tag this protocol does not
	// define.
	ErrUnknownTag = errors.New("protocol: unknown message tag")

	// ErrFrameTooLarge reports a frame whose declared length exceeds the
	// limit.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")
)

// Codec reads and writes frames on a single connection. Each frame is the
// tag length as a big-endian uint16, the tag bytes, the packed payload
// length as a big-endian int32, and the payload as a MessagePack-packed
// string. A Codec is not safe for concurrent use on the same direction.
type Codec struct {
	rw io.ReadWriter
}

// NewCodec wraps the connection.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{rw: rw}
}

// Write sends one frame.
func (c *Codec) Write(tag Tag, payload string) error {
	if len(tag) == 0 || len(tag) > maxTagLength {
		return fmt.Errorf("protocol: tag length %d out of range", len(tag))
	}
	packed, err := msgpack.Marshal(payload)
	if err != nil {
		return fmt.Errorf("protocol: pack payload: %w", err)
	}
	if len(packed) > maxPayloadLength {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 0, 2+len(tag)+4+len(packed))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(tag)))
	buf = append(buf, tag...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(packed)))
	buf = append(buf, packed...)
	if _, err := c.rw.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// Read receives one frame. Frames carrying a tag outside the defined set
// return ErrUnknownTag with the tag still populated, so callers can decide
// whether to drop or close.
func (c *Codec) Read() (Tag, string, error) {
	var tagLen uint16
	if err := binary.Read(c.rw, binary.BigEndian, &tagLen); err != nil {
		return "", "", err
	}
	if tagLen == 0 || tagLen > maxTagLength {
		return "", "", fmt.Errorf("protocol: tag length %d out of range", tagLen)
	}
	tagBytes := make([]byte, tagLen)
	if _, err := io.ReadFull(c.rw, tagBytes); err != nil {
		return "", "", fmt.Errorf("protocol: read tag: %w", err)
	}
	tag := Tag(tagBytes)

	var payloadLen int32
	if err := binary.Read(c.rw, binary.BigEndian, &payloadLen); err != nil {
		return tag, "", fmt.Errorf("protocol: read payload length: %w", err)
	}
	if payloadLen < 0 || payloadLen > maxPayloadLength {
		return tag, "", ErrFrameTooLarge
	}
	packed := make([]byte, payloadLen)
	if _, err := io.ReadFull(c.rw, packed); err != nil {
		return tag, "", fmt.Errorf("protocol: read payload: %w", err)
	}

	var payload string
	if err := msgpack.Unmarshal(packed, &payload); err != nil {
		return tag, "", fmt.Errorf("protocol: unpack payload: %w", err)
	}
	if !Known(tag) {
		return tag, payload, ErrUnknownTag
	}
	return tag, payload, nil
}
