// Package serialization translates domain events to and from their wire
// format. Every event travels as a protobuf Struct envelope holding the event
// type, key, timestamp and a Struct payload. Payload converters are
// registered per event type.
package serialization

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/flawtracker/internal/domain/events"
	serializationerrors "github.com/ahrav/flawtracker/internal/infra/eventbus/serialization/errors"
)

// SerializeFunc converts a domain event into a Struct payload.
type SerializeFunc func(payload any) (*structpb.Struct, error)

// DeserializeFunc converts a Struct payload back into a domain event.
type DeserializeFunc func(payload *structpb.Struct) (any, error)

var (
	serializerRegistry   = map[events.EventType]SerializeFunc{}
	deserializerRegistry = map[events.EventType]DeserializeFunc{}
)

// RegisterSerializeFunc registers a serialization function for a given event type.
func RegisterSerializeFunc(eventType events.EventType, fn SerializeFunc) {
	serializerRegistry[eventType] = fn
}

// RegisterDeserializeFunc registers a deserialization function for a given event type.
func RegisterDeserializeFunc(eventType events.EventType, fn DeserializeFunc) {
	deserializerRegistry[eventType] = fn
}

func init() {
	RegisterEventSerializers()
}

const (
	fieldType      = "event_type"
	fieldKey       = "key"
	fieldTimestamp = "timestamp"
	fieldPayload   = "payload"
)

// SerializeEventEnvelope encodes evt using the serializer registered for
// its type.
func SerializeEventEnvelope(evt events.EventEnvelope) ([]byte, error) {
	fn, ok := serializerRegistry[evt.Type]
	if !ok {
		return nil, fmt.Errorf("no serializer registered for eventType=%s", evt.Type)
	}
	if evt.Payload == nil {
		return nil, serializationerrors.ErrNilEvent{EventType: evt.Type.String()}
	}
	payload, err := fn(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("serializing %s payload: %w", evt.Type, err)
	}

	env := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldType:      structpb.NewStringValue(evt.Type.String()),
		fieldKey:       structpb.NewStringValue(evt.Key),
		fieldTimestamp: structpb.NewStringValue(evt.Timestamp.UTC().Format(time.RFC3339Nano)),
		fieldPayload:   structpb.NewStructValue(payload),
	}}
	return proto.Marshal(env)
}

// DeserializeEventEnvelope decodes bytes written by SerializeEventEnvelope.
// Event payloads do not carry their own occurrence time; it is restored on
// the envelope Timestamp.
func DeserializeEventEnvelope(data []byte) (events.EventEnvelope, error) {
	var env structpb.Struct
	if err := proto.Unmarshal(data, &env); err != nil {
		return events.EventEnvelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	evtType := events.EventType(env.Fields[fieldType].GetStringValue())
	fn, ok := deserializerRegistry[evtType]
	if !ok {
		return events.EventEnvelope{}, fmt.Errorf("no deserializer registered for eventType=%s", evtType)
	}

	ts, err := time.Parse(time.RFC3339Nano, env.Fields[fieldTimestamp].GetStringValue())
	if err != nil {
		return events.EventEnvelope{}, serializationerrors.ErrInvalidTimestamp{Field: fieldTimestamp, Err: err}
	}

	payload := env.Fields[fieldPayload].GetStructValue()
	if payload == nil {
		return events.EventEnvelope{}, serializationerrors.ErrNilEvent{EventType: evtType.String()}
	}
	obj, err := fn(payload)
	if err != nil {
		return events.EventEnvelope{}, fmt.Errorf("deserializing %s payload: %w", evtType, err)
	}

	return events.EventEnvelope{
		Type:      evtType,
		Key:       env.Fields[fieldKey].GetStringValue(),
		Timestamp: ts,
		Payload:   obj,
	}, nil
}
