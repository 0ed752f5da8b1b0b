// Package models provides data model definitions for the sync engine.
package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// RecordKind tags a payload with the entity kind it describes.
type RecordKind string

const (
	KindInspection RecordKind = "inspection"
	KindEntry      RecordKind = "entry"
)

// knownKinds lists the payload kinds the engine accepts.
var knownKinds = map[RecordKind]bool{
	KindInspection: true,
	KindEntry:      true,
}

// Payload is a schema-versioned tagged payload. The business fields stay
// opaque in Fields; Photos carries media references, which hold local
// staging paths until upload and server URLs after.
// A payload is an immutable value swapped wholesale on write.
type Payload struct {
	Kind          RecordKind             `json:"kind"`
	SchemaVersion int                    `json:"schema_version"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
	Photos        []string               `json:"photos,omitempty"`
}

// Validate checks that the payload has a known kind and a usable version.
func (p *Payload) Validate() error {
	if !knownKinds[p.Kind] {
		return fmt.Errorf("unknown payload kind: %q", p.Kind)
	}
	if p.SchemaVersion < 1 {
		return fmt.Errorf("invalid schema version: %d", p.SchemaVersion)
	}
	return nil
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	out := Payload{
		Kind:          p.Kind,
		SchemaVersion: p.SchemaVersion,
	}
	if p.Fields != nil {
		out.Fields = make(map[string]interface{}, len(p.Fields))
		for k, v := range p.Fields {
			out.Fields[k] = v
		}
	}
	if p.Photos != nil {
		out.Photos = append([]string(nil), p.Photos...)
	}
	return out
}

// Equal compares two payloads by their canonical JSON form.
func (p Payload) Equal(other Payload) bool {
	a, err := json.Marshal(p)
	if err != nil {
		return false
	}
	b, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Value implements driver.Valuer, storing the payload as JSON.
func (p Payload) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		*p = Payload{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Payload", value)
	}
	return json.Unmarshal(data, p)
}

// ParsePayload decodes a payload from its JSON wire form.
func ParsePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return p, nil
}

// MarshalWire encodes the payload for the remote API.
func (p Payload) MarshalWire() (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return json.RawMessage(data), nil
}
