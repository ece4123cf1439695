package transfer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// EndOfTransmission is the text message that closes every transfer.
const EndOfTransmission = "EOT"

// Message is a single message delivered by a Channel.
type Message struct {
	IsString bool
	Data     []byte
}

// TextMessage builds a text Message.
func TextMessage(s string) Message {
	return Message{IsString: true, Data: []byte(s)}
}

// BinaryMessage builds a binary Message.
func BinaryMessage(data []byte) Message {
	return Message{Data: data}
}

// IsEndOfTransmission reports whether msg is the termination sentinel.
func (m Message) IsEndOfTransmission() bool {
	return m.IsString && string(m.Data) == EndOfTransmission
}

// Metadata describes a payload. It is sent once, before any chunk.
type Metadata struct {
	Name     string `json:"name"`
	MimeType string `json:"type"`
	Size     uint64 `json:"size"`
	CRC32    uint32 `json:"crc32"`
}

// wireMetadata decodes the metadata record leniently: the browser peer emits
// crc32 as a signed 32-bit integer.
type wireMetadata struct {
	Name     *string     `json:"name"`
	MimeType string      `json:"type"`
	Size     *uint64     `json:"size"`
	CRC32    json.Number `json:"crc32"`
}

// EncodeMetadata renders meta the way JSON.stringify does: fixed key order,
// no HTML escaping, no trailing newline.
func EncodeMetadata(meta Metadata) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(meta); err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// DecodeMetadata parses a metadata message. Every failure wraps ErrMalformedMetadata.
func DecodeMetadata(text string) (Metadata, error) {
	var wire wireMetadata
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	if err := dec.Decode(&wire); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}
	if dec.More() {
		return Metadata{}, fmt.Errorf("%w: trailing data after record", ErrMalformedMetadata)
	}
	if wire.Name == nil {
		return Metadata{}, fmt.Errorf("%w: missing name", ErrMalformedMetadata)
	}
	if wire.Size == nil {
		return Metadata{}, fmt.Errorf("%w: missing size", ErrMalformedMetadata)
	}
	crc, err := parseCRC32(wire.CRC32)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}
	return Metadata{
		Name:     *wire.Name,
		MimeType: wire.MimeType,
		Size:     *wire.Size,
		CRC32:    crc,
	}, nil
}

func parseCRC32(n json.Number) (uint32, error) {
	if n == "" {
		return 0, fmt.Errorf("missing crc32")
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("invalid crc32 %q", n)
	}
	if v < math.MinInt32 || v > math.MaxUint32 {
		return 0, fmt.Errorf("crc32 %d out of range", v)
	}
	return uint32(v), nil
}
