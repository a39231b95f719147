package schemaregistry

import (
	"context"
	"encoding/binary"

	"github.com/hamba/avro/v2"

	apperrors "github.com/streamparse/docflow/pkg/errors"
)

// wire envelope: 1 magic byte (0x00) + 4-byte big-endian schema ID + body.
const (
	wireMagicByte  = 0x00
	wireHeaderSize = 5
)

// SchemaProvider resolves a writer schema by registry ID.
type SchemaProvider interface {
	SchemaByID(ctx context.Context, id int) (avro.Schema, error)
}

// Deserializer decodes wire-enveloped Avro payloads into generic records.
type Deserializer struct {
	provider SchemaProvider
}

// NewDeserializer creates a Deserializer backed by the given provider.
func NewDeserializer(provider SchemaProvider) *Deserializer {
	return &Deserializer{provider: provider}
}

// Deserialize decodes a message value. Envelope violations and undecodable
// bodies are schema-mismatch errors; registry lookup failures keep their own
// classification.
func (d *Deserializer) Deserialize(ctx context.Context, value []byte) (map[string]any, error) {
	if len(value) < wireHeaderSize {
		return nil, apperrors.Newf(apperrors.ErrSchemaMismatch,
			"payload too short for wire envelope: %d bytes", len(value))
	}
	if value[0] != wireMagicByte {
		return nil, apperrors.Newf(apperrors.ErrSchemaMismatch,
			"unexpected magic byte 0x%02x", value[0])
	}
	schemaID := int(binary.BigEndian.Uint32(value[1:wireHeaderSize]))

	schema, err := d.provider.SchemaByID(ctx, schemaID)
	if err != nil {
		return nil, err
	}

	var record map[string]any
	if err := avro.Unmarshal(schema, value[wireHeaderSize:], &record); err != nil {
		return nil, apperrors.Newf(apperrors.ErrSchemaMismatch,
			"decoding avro body with schema %d: %v", schemaID, err)
	}
	return record, nil
}
