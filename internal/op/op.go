// Package op defines the on-wire operation schema shared by MapKernel and
// SubDirectory: the six tagged operation shapes, the serializable-value
// envelope they carry, and the sequenced-message envelope the ordering
// service wraps them in. JSON encoding is canonical (spec §6).
package op

import "encoding/json"

// Type discriminates the six operation shapes. The discriminator matches the
// wire protocol exactly so an operation round-trips through JSON unchanged.
type Type string

const (
	TypeSet                Type = "set"
	TypeDelete             Type = "delete"
	TypeClear              Type = "clear"
	TypeCreateSubDirectory Type = "createSubDirectory"
	TypeDeleteSubDirectory Type = "deleteSubDirectory"
	TypeAct                Type = "act"
)

// Serializable is the wire form of a value stored under a key: either a raw
// JSON payload ("Plain"), a handle reference to another shared object
// ("Shared"), or a registered value-type's opaque payload.
type Serializable struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

const (
	SerializableTypePlain  = "Plain"
	SerializableTypeShared = "Shared"
)

// ActValue is the payload of an `act` operation: a value-type op name plus
// its opaque, value-type-defined parameters.
type ActValue struct {
	OpName string          `json:"opName"`
	Value  json.RawMessage `json:"value"`
}

// Operation is the tagged union of the six operation shapes. Fields that do
// not apply to a given Type are omitted on the wire. For flat-map kernels the
// Path field is absent (left as the zero value "").
type Operation struct {
	Type       Type            `json:"type"`
	Key        string          `json:"key,omitempty"`
	Path       string          `json:"path,omitempty"`
	SubdirName string          `json:"subdirName,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
}

// NewSet builds a `set` operation carrying the given serializable value.
func NewSet(path, key string, value Serializable) Operation {
	raw, _ := json.Marshal(value)
	return Operation{Type: TypeSet, Path: path, Key: key, Value: raw}
}

// NewDelete builds a `delete` operation.
func NewDelete(path, key string) Operation {
	return Operation{Type: TypeDelete, Path: path, Key: key}
}

// NewClear builds a `clear` operation.
func NewClear(path string) Operation {
	return Operation{Type: TypeClear, Path: path}
}

// NewCreateSubDirectory builds a `createSubDirectory` operation.
func NewCreateSubDirectory(path, subdirName string) Operation {
	return Operation{Type: TypeCreateSubDirectory, Path: path, SubdirName: subdirName}
}

// NewDeleteSubDirectory builds a `deleteSubDirectory` operation.
func NewDeleteSubDirectory(path, subdirName string) Operation {
	return Operation{Type: TypeDeleteSubDirectory, Path: path, SubdirName: subdirName}
}

// NewAct builds an `act` operation carrying a value-type op name and params.
func NewAct(path, key, opName string, params json.RawMessage) Operation {
	raw, _ := json.Marshal(ActValue{OpName: opName, Value: params})
	return Operation{Type: TypeAct, Path: path, Key: key, Value: raw}
}

// DecodeSerializable parses Value as a Serializable envelope, the shape
// carried by `set` operations.
func (o Operation) DecodeSerializable() (Serializable, error) {
	var s Serializable
	if len(o.Value) == 0 {
		return s, nil
	}
	err := json.Unmarshal(o.Value, &s)
	return s, err
}

// DecodeAct parses Value as an ActValue envelope, the shape carried by `act`
// operations.
func (o Operation) DecodeAct() (ActValue, error) {
	var a ActValue
	if len(o.Value) == 0 {
		return a, nil
	}
	err := json.Unmarshal(o.Value, &a)
	return a, err
}

// SequencedMessage is an inbound message from the ordering service: an
// operation that has been assigned a global sequence number and echoes back
// the client-sequence-number it was submitted with, if any.
type SequencedMessage struct {
	Type                    string    `json:"type"`
	ClientID                string    `json:"clientId"`
	ClientSequenceNumber    int64     `json:"clientSequenceNumber"`
	ReferenceSequenceNumber int64     `json:"referenceSequenceNumber"`
	SequenceNumber          int64     `json:"sequenceNumber"`
	Contents                Operation `json:"contents"`
}

// MessageTypeOp is the only message type this core consumes; the ordering
// service may carry other envelope types (joins, leaves, …) that are not
// operations and are ignored upstream of this package.
const MessageTypeOp = "op"
