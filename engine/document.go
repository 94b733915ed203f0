package engine

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/google/uuid"
)

// Document is a JSON object addressed by ID.
type Document struct {
	ID         string
	Properties map[string]any
}

// NewDocument returns an empty document. An empty id gets a random UUID.
func NewDocument(id string) *Document {
	if id == "" {
		id = uuid.New().String()
	}
	return &Document{ID: id, Properties: make(map[string]any)}
}

// Get returns the top-level property key.
func (d *Document) Get(key string) (any, bool) {
	v, ok := d.Properties[key]
	return v, ok
}

// Set assigns a top-level property and returns d for chaining.
func (d *Document) Set(key string, value any) *Document {
	if d.Properties == nil {
		d.Properties = make(map[string]any)
	}
	d.Properties[key] = value
	return d
}

// Merge copies props over the document's properties.
func (d *Document) Merge(props map[string]any) *Document {
	if d.Properties == nil {
		d.Properties = make(map[string]any, len(props))
	}
	maps.Copy(d.Properties, props)
	return d
}

// Clone returns a deep copy made through the JSON encoding the engines store.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	body, err := d.Encode()
	if err == nil {
		if c, err := DecodeDocument(d.ID, body); err == nil {
			return c
		}
	}
	// Not JSON-encodable: fall back to a shallow copy.
	return &Document{ID: d.ID, Properties: maps.Clone(d.Properties)}
}

// Encode returns the stored body of the document.
func (d *Document) Encode() ([]byte, error) {
	if d.Properties == nil {
		return []byte("{}"), nil
	}
	body, err := json.Marshal(d.Properties)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return body, nil
}

// DecodeDocument rebuilds a document from a stored body.
func DecodeDocument(id string, body []byte) (*Document, error) {
	props := make(map[string]any)
	if err := json.Unmarshal(body, &props); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return &Document{ID: id, Properties: props}, nil
}

// CheckDocument rejects nil documents and documents without an id.
func CheckDocument(doc *Document) error {
	if doc == nil || doc.ID == "" {
		return ErrInvalidDocument
	}
	return nil
}
