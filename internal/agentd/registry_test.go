// ABOUTME: Tests for command lookup in the handler registry
// ABOUTME: Unknown commands and panicking handlers must come back as errors

package agentd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryHandle(t *testing.T) {
	r := NewRegistry()
	r.Register("echo", func(_ context.Context, p Params) (map[string]any, error) {
		return map[string]any{"said": p.String("msg")}, nil
	})

	res, err := r.Handle(context.Background(), "echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", res["said"])
}

func TestRegistryUnknownCommand(t *testing.T) {
	r := NewRegistry()

	_, err := r.Handle(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCommand))
	assert.Equal(t, "unknown command: nope", err.Error())
}

func TestRegistryRecoversPanics(t *testing.T) {
	r := NewRegistry()
	r.Register("boom", func(context.Context, Params) (map[string]any, error) {
		panic("kaboom")
	})

	res, err := r.Handle(context.Background(), "boom", nil)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestRegistryNilResultBecomesEmptyMap(t *testing.T) {
	r := NewRegistry()
	r.Register("quiet", func(context.Context, Params) (map[string]any, error) {
		return nil, nil
	})

	res, err := r.Handle(context.Background(), "quiet", nil)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Empty(t, res)
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, Params) (map[string]any, error) { return nil, nil }
	r.Register("b", noop)
	r.Register("a", noop)

	assert.Equal(t, []string{"a", "b"}, r.Names())
}
