// Package serializer turns typed domain events and metadata into the JSON
// body/metadata pair the event store persists, and back again. It resolves
// the event_type tag to a concrete Go type via a small registry, the same
// reflect.New(type) technique the teacher's message serializer used for its
// own polymorphic wire format, generalized here to the event/metadata split
// and to upcasting.
package serializer

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	pkgerrors "github.com/pkg/errors"

	"github.com/kestrelhq/escore/errors"
	"github.com/kestrelhq/escore/event"
)

// decodeInto decodes a generic JSON-shaped map into out (a pointer), coercing
// string representations of uuid.UUID and time.Time the way encoding/json's
// own Unmarshal would if out's fields were typed at the top level. mapstructure
// only handles this via a decode hook because the generic map has already
// lost the target's static types.
func decodeInto(generic map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			uuidDecodeHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		Result: out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(generic)
}

func uuidDecodeHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if t != reflect.TypeOf(uuid.UUID{}) || f.Kind() != reflect.String {
		return data, nil
	}
	return uuid.Parse(data.(string))
}

// Upcast migrates a decoded instance of an old, retired event type into its
// canonical replacement.
type Upcast func(old event.DomainEvent) event.DomainEvent

type eventRegistration struct {
	typ    reflect.Type
	upcast Upcast
}

// Registry maps event_type tags to concrete Go types, and resolves the
// metadata type a given event class should deserialize against: the store's
// configured default, unless the event class registered a narrower one.
type Registry struct {
	mu               sync.RWMutex
	events           map[string]eventRegistration
	defaultMetadata  reflect.Type
	narrowedMetadata map[string]reflect.Type
}

// NewRegistry returns a Registry whose default metadata type is the zero
// value's concrete type.
func NewRegistry(defaultMetadata event.Metadata) *Registry {
	return &Registry{
		events:           make(map[string]eventRegistration),
		defaultMetadata:  concreteType(defaultMetadata),
		narrowedMetadata: make(map[string]reflect.Type),
	}
}

// RegisterEvent declares the concrete type backing a tag. zero is a value of
// that concrete type (typically its zero value); it is never retained, only
// inspected for its type.
func (r *Registry) RegisterEvent(zero event.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[zero.EventType()] = eventRegistration{typ: concreteType(zero)}
}

// RegisterUpcast declares that a retired tag, once decoded as oldZero's
// concrete type, should be migrated to its replacement via fn before it is
// ever handed back to a caller.
func (r *Registry) RegisterUpcast(oldZero event.DomainEvent, fn Upcast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[oldZero.EventType()] = eventRegistration{typ: concreteType(oldZero), upcast: fn}
}

// RegisterEventMetadata narrows the metadata type used for one event class,
// overriding the store's default for events of that tag only.
func (r *Registry) RegisterEventMetadata(eventTag string, zero event.Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.narrowedMetadata[eventTag] = concreteType(zero)
}

func (r *Registry) metadataTypeFor(tag string) reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.narrowedMetadata[tag]; ok {
		return t
	}
	return r.defaultMetadata
}

func concreteType(v interface{}) reflect.Type {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// EncodeBody marshals a domain event body to JSON, then validates it
// round-trips back to an equal value of its declared type. A mismatch means
// the event's json tags/field set are out of sync with its EventType tag,
// which is a programming error: EncodeBody panics with
// errors.EventBodySerializationException rather than returning it.
func (r *Registry) EncodeBody(body event.DomainEvent) []byte {
	tag := body.EventType()
	data, err := json.Marshal(body)
	if err != nil {
		panic(errors.EventBodySerializationException{Tag: tag, Err: pkgerrors.Wrap(err, "marshal")})
	}

	reg, ok := r.events[tag]
	if !ok {
		panic(errors.EventBodySerializationException{Tag: tag, Err: pkgerrors.New("event type not registered")})
	}

	roundTrip := reflect.New(reg.typ)
	if err := json.Unmarshal(data, roundTrip.Interface()); err != nil {
		panic(errors.EventBodySerializationException{Tag: tag, Err: pkgerrors.Wrap(err, "round-trip unmarshal")})
	}
	if !reflect.DeepEqual(roundTrip.Elem().Interface(), dereferenced(body)) {
		panic(errors.EventBodySerializationException{Tag: tag, Err: pkgerrors.New("round-trip value differs from original")})
	}

	return data
}

// DecodeBody resolves tag to its registered type, decodes body into it, and
// applies the registered upcast chain if tag names a retired type.
func (r *Registry) DecodeBody(tag string, body []byte) (event.DomainEvent, error) {
	r.mu.RLock()
	reg, ok := r.events[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, pkgerrors.Errorf("serializer: unknown event type %q", tag)
	}

	ptr := reflect.New(reg.typ)
	if err := json.Unmarshal(body, ptr.Interface()); err != nil {
		return nil, pkgerrors.Wrapf(err, "serializer: decoding %q", tag)
	}

	decoded := ptr.Elem().Interface().(event.DomainEvent)
	if reg.upcast != nil {
		return reg.upcast(decoded), nil
	}
	return decoded, nil
}

// EncodeMetadata marshals a metadata record to JSON, then validates it
// round-trips as the metadata type declared for the given event tag
// (the store default, unless narrowed). A mismatch panics with
// errors.EventMetadataSerializationException.
func (r *Registry) EncodeMetadata(eventTag string, meta event.Metadata) []byte {
	data, err := json.Marshal(meta)
	if err != nil {
		panic(errors.EventMetadataSerializationException{Tag: eventTag, Err: pkgerrors.Wrap(err, "marshal")})
	}

	metaType := r.metadataTypeFor(eventTag)

	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		panic(errors.EventMetadataSerializationException{Tag: eventTag, Err: pkgerrors.Wrap(err, "round-trip unmarshal")})
	}

	roundTrip := reflect.New(metaType)
	if err := decodeInto(generic, roundTrip.Interface()); err != nil {
		panic(errors.EventMetadataSerializationException{Tag: eventTag, Err: pkgerrors.Wrap(err, "decode as declared metadata type")})
	}

	return data
}

// DecodeMetadata decodes metadata JSON as the type declared for eventTag.
func (r *Registry) DecodeMetadata(eventTag string, data []byte) (event.Metadata, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, pkgerrors.Wrap(err, "serializer: unmarshal metadata")
	}

	metaType := r.metadataTypeFor(eventTag)
	out := reflect.New(metaType)
	if err := decodeInto(generic, out.Interface()); err != nil {
		return nil, pkgerrors.Wrapf(err, "serializer: decoding metadata for %q", eventTag)
	}

	meta, ok := out.Elem().Interface().(event.Metadata)
	if !ok {
		return nil, pkgerrors.Errorf("serializer: registered metadata type for %q does not implement event.Metadata", eventTag)
	}
	return meta, nil
}

func dereferenced(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	return rv.Interface()
}
