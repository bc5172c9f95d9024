// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

// Package entity models the records exchanged with the source and target data stores.
//
// An Entity keeps the fields the migration engine reasons about (type, uuid, name,
// username, created, modified, metadata) as typed values and everything else in an
// open attribute map, so any JSON entity survives a decode/encode cycle.
package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Well-known property names.
const (
	FieldType     = "type"
	FieldUUID     = "uuid"
	FieldName     = "name"
	FieldUsername = "username"
	FieldCreated  = "created"
	FieldModified = "modified"
	FieldMetadata = "metadata"
)

// EdgeNames is a list of edge (collection or connection) names.
// The server encodes these either as a JSON array of names or as an object keyed by name.
type EdgeNames []string

// UnmarshalJSON accepts both the array and the object encodings.
func (n *EdgeNames) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = nil
		return nil
	}

	if data[0] == '[' {
		var names []string
		if err := json.Unmarshal(data, &names); err != nil {
			return fmt.Errorf("failed to decode edge name list: %w", err)
		}
		*n = names
		return nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(data, &keyed); err != nil {
		return fmt.Errorf("failed to decode edge name map: %w", err)
	}
	names := make([]string, 0, len(keyed))
	for name := range keyed {
		names = append(names, name)
	}
	sort.Strings(names)
	*n = names
	return nil
}

// Metadata carries the traversal-only part of an entity. It is never persisted to the target.
type Metadata struct {
	Collections EdgeNames `json:"collections,omitempty"` // out-edges (owned collections)
	Connections EdgeNames `json:"connections,omitempty"` // out-edges (connections)
	Connecting  EdgeNames `json:"connecting,omitempty"`  // in-edges
}

// Entity is a tagged record with typed access to the well-known fields.
type Entity struct {
	Type       string
	UUID       string
	Name       string
	Username   string
	Created    int64 // epoch millis
	Modified   int64 // epoch millis
	Metadata   *Metadata
	Attributes map[string]any // every other property
}

// New returns an empty entity of the given type.
func New(entityType string) *Entity {
	return &Entity{Type: entityType, Attributes: make(map[string]any)}
}

// Decode parses a single JSON entity.
func Decode(data []byte) (*Entity, error) {
	var e Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// UnmarshalJSON splits the well-known fields out of the object and keeps the rest as attributes.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode entity: %w", err)
	}

	*e = Entity{Attributes: make(map[string]any, len(raw))}
	for key, value := range raw {
		switch key {
		case FieldType, FieldUUID, FieldName, FieldUsername:
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				// non-string identity fields are kept verbatim
				attr, aerr := decodeAttribute(value)
				if aerr != nil {
					return aerr
				}
				e.Attributes[key] = attr
				continue
			}
			e.setIdentity(key, s)
		case FieldCreated, FieldModified:
			ts, err := decodeTimestamp(value)
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", key, err)
			}
			if key == FieldCreated {
				e.Created = ts
			} else {
				e.Modified = ts
			}
		case FieldMetadata:
			var md Metadata
			if err := json.Unmarshal(value, &md); err != nil {
				return fmt.Errorf("failed to decode metadata: %w", err)
			}
			e.Metadata = &md
		default:
			attr, err := decodeAttribute(value)
			if err != nil {
				return fmt.Errorf("failed to decode attribute %s: %w", key, err)
			}
			e.Attributes[key] = attr
		}
	}
	return nil
}

// MarshalJSON flattens the entity back into a single JSON object.
func (e *Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.toMap(true))
}

// Payload encodes the entity without its metadata. This is the body written to the target.
func (e *Entity) Payload() ([]byte, error) {
	return json.Marshal(e.toMap(false))
}

// Size is the byte length of the persisted payload.
func (e *Entity) Size() int {
	data, err := e.Payload()
	if err != nil {
		return 0
	}
	return len(data)
}

func (e *Entity) toMap(withMetadata bool) map[string]any {
	out := make(map[string]any, len(e.Attributes)+7)
	for k, v := range e.Attributes {
		out[k] = v
	}
	if e.Type != "" {
		out[FieldType] = e.Type
	}
	if e.UUID != "" {
		out[FieldUUID] = e.UUID
	}
	if e.Name != "" {
		out[FieldName] = e.Name
	}
	if e.Username != "" {
		out[FieldUsername] = e.Username
	}
	if e.Created != 0 {
		out[FieldCreated] = e.Created
	}
	if e.Modified != 0 {
		out[FieldModified] = e.Modified
	}
	if withMetadata && e.Metadata != nil {
		out[FieldMetadata] = e.Metadata
	}
	return out
}

func (e *Entity) setIdentity(key, value string) {
	switch key {
	case FieldType:
		e.Type = value
	case FieldUUID:
		e.UUID = value
	case FieldName:
		e.Name = value
	case FieldUsername:
		e.Username = value
	}
}

// Clone returns a copy whose attribute map can be mutated independently.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Attributes = make(map[string]any, len(e.Attributes))
	for k, v := range e.Attributes {
		c.Attributes[k] = v
	}
	if e.Metadata != nil {
		md := *e.Metadata
		c.Metadata = &md
	}
	return &c
}

// WithoutMetadata returns a clone with the traversal metadata stripped.
func (e *Entity) WithoutMetadata() *Entity {
	c := e.Clone()
	c.Metadata = nil
	return c
}

// String returns a string attribute, or false when absent or not a string.
func (e *Entity) String(key string) (string, bool) {
	switch key {
	case FieldType:
		return e.Type, e.Type != ""
	case FieldUUID:
		return e.UUID, e.UUID != ""
	case FieldName:
		return e.Name, e.Name != ""
	case FieldUsername:
		return e.Username, e.Username != ""
	}
	v, ok := e.Attributes[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set assigns a property, routing well-known string fields to their typed slot.
func (e *Entity) Set(key string, value any) {
	if s, ok := value.(string); ok {
		switch key {
		case FieldType, FieldUUID, FieldName, FieldUsername:
			e.setIdentity(key, s)
			return
		}
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[key] = value
}

// Field returns the value of a primary-key style property (uuid, name, username or an attribute).
func (e *Entity) Field(key string) string {
	s, _ := e.String(key)
	return s
}

// OutEdges returns the names declared in metadata.collections and metadata.connections, deduplicated.
func (e *Entity) OutEdges() []string {
	if e.Metadata == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(e.Metadata.Collections)+len(e.Metadata.Connections))
	var out []string
	for _, list := range []EdgeNames{e.Metadata.Collections, e.Metadata.Connections} {
		for _, name := range list {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// InEdges returns the names declared in metadata.connecting.
func (e *Entity) InEdges() []string {
	if e.Metadata == nil {
		return nil
	}
	return append([]string(nil), e.Metadata.Connecting...)
}

func decodeAttribute(value json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeTimestamp(value json.RawMessage) (int64, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return 0, nil
	}
	if value[0] == '"' {
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return 0, err
		}
		return strconv.ParseInt(s, 10, 64)
	}
	var n json.Number
	if err := json.Unmarshal(value, &n); err != nil {
		return 0, err
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
