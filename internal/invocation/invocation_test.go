package invocation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter struct {
	got string
}

func (g *greeter) Say(ctx context.Context, msg string) error {
	g.got = msg
	if msg == "fail" {
		return errors.New("boom")
	}
	return nil
}

func decodeString(raw json.RawMessage) (any, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	raw, err := json.Marshal("hi")
	require.NoError(t, err)

	d := Descriptor{
		TypeID:   "greeter",
		MethodID: "Say",
		Args:     []Arg{{Type: "string", Value: raw}},
	}

	data, err := Serialize(d)
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestDeserializeInvalidBytesIsSerializationError(t *testing.T) {
	_, err := Deserialize([]byte("not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serialize")
}

func TestRegistryResolveAndInvoke(t *testing.T) {
	reg := NewRegistry()
	g := &greeter{}
	reg.Register("greeter", func() any { return g }, map[string]ArgDecoder{
		"string": decodeString,
	})

	raw, err := json.Marshal("hello")
	require.NoError(t, err)

	inv, err := reg.Resolve(Descriptor{
		TypeID:   "greeter",
		MethodID: "Say",
		Args:     []Arg{{Type: "string", Value: raw}},
	})
	require.NoError(t, err)

	err = inv.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", g.got)
}

func TestInvokePropagatesMethodError(t *testing.T) {
	reg := NewRegistry()
	g := &greeter{}
	reg.Register("greeter", func() any { return g }, map[string]ArgDecoder{
		"string": decodeString,
	})

	raw, err := json.Marshal("fail")
	require.NoError(t, err)

	inv, err := reg.Resolve(Descriptor{TypeID: "greeter", MethodID: "Say", Args: []Arg{{Type: "string", Value: raw}}})
	require.NoError(t, err)

	err = inv.Invoke(context.Background())
	assert.EqualError(t, err, "boom")
}

func TestResolveUnregisteredTypeIsSerializationError(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve(Descriptor{TypeID: "missing", MethodID: "X"})
	require.Error(t, err)
}
