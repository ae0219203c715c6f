// Package invocation implements the C3 invocation descriptor: a
// serializable record of "call method M on type T with arguments A" and
// the machinery to execute it. The descriptor is opaque to the scheduler;
// only this package and the client-supplied registry interpret it.
package invocation

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/duracron/duracron/internal/retry"
)

// Arg is one serialized, type-tagged argument value.
type Arg struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Descriptor captures a deferred method call: the target type, the
// method to invoke, and its arguments.
type Descriptor struct {
	TypeID   string `json:"type_id"`
	MethodID string `json:"method_id"`
	Args     []Arg  `json:"args"`
	Static   bool   `json:"static"`
}

// Serialize encodes a Descriptor to the opaque bytes stored on a Job row.
func Serialize(d Descriptor) ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("invocation: serialize: %w", err)
	}
	return b, nil
}

// Deserialize decodes the opaque bytes on a Job row back into a
// Descriptor. Any failure here is a retry.SerializationError: the core
// must treat it as a non-retriable terminal failure, the job cannot be
// run.
func Deserialize(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, retry.SerializationError{Err: err}
	}
	if d.TypeID == "" || d.MethodID == "" {
		return Descriptor{}, retry.SerializationError{Err: fmt.Errorf("missing type_id or method_id")}
	}
	return d, nil
}

// ArgDecoder decodes a single serialized Arg into a Go value of the type
// the target method expects at that position.
type ArgDecoder func(raw json.RawMessage) (any, error)

// Constructor materializes a fresh instance of a registered type for
// instance-method invocations. Static invocations never call it.
type Constructor func() any

// typeEntry is what the Registry keeps per registered TypeID.
type typeEntry struct {
	construct Constructor
	decoders  map[string]ArgDecoder
}

// Registry maps type identifiers to constructors and argument decoders.
// It plays the role of the client-side object factory the spec treats as
// an external collaborator: this runtime only needs a stable lookup from
// TypeID to the means of producing an instance and decoding its
// arguments.
type Registry struct {
	types map[string]typeEntry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]typeEntry)}
}

// Register associates typeID with a constructor (used for instance
// invocations; may be nil for types that are only ever invoked
// statically) and a map of argument-type-tag to decoder.
func (r *Registry) Register(typeID string, construct Constructor, decoders map[string]ArgDecoder) {
	r.types[typeID] = typeEntry{construct: construct, decoders: decoders}
}

// MethodInvocation is a resolved, ready-to-run call: a target instance (or
// nil for static calls), the method to invoke by name, and decoded
// arguments.
type MethodInvocation struct {
	target any
	method string
	args   []any
}

// Resolve looks up d.TypeID in the registry, materializes a target
// instance (unless d.Static), decodes every argument, and returns a
// MethodInvocation ready to run. Any failure is wrapped as a
// SerializationError.
func (r *Registry) Resolve(d Descriptor) (*MethodInvocation, error) {
	entry, ok := r.types[d.TypeID]
	if !ok {
		return nil, retry.SerializationError{Err: fmt.Errorf("invocation: unregistered type %q", d.TypeID)}
	}

	var target any
	if !d.Static {
		if entry.construct == nil {
			return nil, retry.SerializationError{Err: fmt.Errorf("invocation: type %q has no constructor for instance call", d.TypeID)}
		}
		target = entry.construct()
	}

	args := make([]any, 0, len(d.Args))
	for i, a := range d.Args {
		decode, ok := entry.decoders[a.Type]
		if !ok {
			return nil, retry.SerializationError{Err: fmt.Errorf("invocation: no decoder for arg %d type %q on %q", i, a.Type, d.TypeID)}
		}
		v, err := decode(a.Value)
		if err != nil {
			return nil, retry.SerializationError{Err: fmt.Errorf("invocation: decode arg %d: %w", i, err)}
		}
		args = append(args, v)
	}

	return &MethodInvocation{target: target, method: d.MethodID, args: args}, nil
}

// Deferred is the interface a method result may implement to signal the
// worker must wait for a background computation instead of treating the
// return value as final.
type Deferred interface {
	Await(ctx context.Context) error
}

// Invoke calls the resolved method by name via reflection, passing ctx as
// the call's first argument when the method accepts one, and awaits a
// Deferred result if one is returned. A static invocation (one resolved
// without a target) is not dispatched: Invoke returns an error for it,
// since the Registry holds no function targets.
func (m *MethodInvocation) Invoke(ctx context.Context) error {
	var recv reflect.Value
	if m.target != nil {
		recv = reflect.ValueOf(m.target)
	} else {
		recv = reflect.Value{}
	}

	var fn reflect.Value
	if m.target != nil {
		fn = recv.MethodByName(m.method)
	} else {
		return fmt.Errorf("invocation: static dispatch for %q requires a registry-provided function target", m.method)
	}

	if !fn.IsValid() {
		return retry.SerializationError{Err: fmt.Errorf("invocation: method %q not found on target", m.method)}
	}

	in := make([]reflect.Value, 0, len(m.args)+1)
	ft := fn.Type()
	if ft.NumIn() > 0 && ft.In(0) == reflect.TypeOf((*context.Context)(nil)).Elem() {
		in = append(in, reflect.ValueOf(ctx))
	}
	for _, a := range m.args {
		in = append(in, reflect.ValueOf(a))
	}

	out := fn.Call(in)
	return resultOf(ctx, out)
}

func resultOf(ctx context.Context, out []reflect.Value) error {
	var deferred Deferred
	var err error

	for _, v := range out {
		if v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr {
			if d, ok := v.Interface().(Deferred); ok {
				deferred = d
				continue
			}
		}
		if e, ok := v.Interface().(error); ok && e != nil {
			err = e
		}
	}

	if err != nil {
		return err
	}
	if deferred != nil {
		return deferred.Await(ctx)
	}
	return nil
}
