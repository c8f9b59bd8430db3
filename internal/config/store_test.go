package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissingKeyReturnsFalse(t *testing.T) {
	s := New()
	_, ok := s.Get("render/workers")
	assert.False(t, ok)
}

func TestSetValueThenGet(t *testing.T) {
	s := New()
	require.NoError(t, s.SetValue("render/workers", 8))

	v, ok := s.Get("render/workers")
	require.True(t, ok)
	assert.Equal(t, 8, v)
}

func TestAttachReturnsCurrentValue(t *testing.T) {
	s := New()
	require.NoError(t, s.SetValue("app", map[string]any{"log_dir": "/var/log"}))

	current, ok, unregister := s.Attach("app", func(any) {})
	defer unregister()
	require.True(t, ok)
	assert.Equal(t, map[string]any{"log_dir": "/var/log"}, current)
}

func TestAttachOnUnsetKeyHasNoCurrentValue(t *testing.T) {
	s := New()
	_, ok, unregister := s.Attach("render/styles", func(any) {})
	defer unregister()
	assert.False(t, ok)
}

func TestSetValueNotifiesAttachedObservers(t *testing.T) {
	s := New()
	var got []any
	_, _, unregister := s.Attach("render/workers", func(v any) { got = append(got, v) })
	defer unregister()

	require.NoError(t, s.SetValue("render/workers", 4))
	require.NoError(t, s.SetValue("render/workers", 8))

	assert.Equal(t, []any{4, 8}, got)
}

func TestSetValueNotifiesObserverEvenWhenValueIsUnchanged(t *testing.T) {
	// spec.md boundary behaviour: observers rely on watch for cache
	// invalidation, not on a value diff, so an update that re-publishes
	// an identical value must still fire.
	s := New()
	calls := 0
	_, _, unregister := s.Attach("render/workers", func(any) { calls++ })
	defer unregister()

	require.NoError(t, s.SetValue("render/workers", 4))
	require.NoError(t, s.SetValue("render/workers", 4))

	assert.Equal(t, 2, calls)
}

func TestUnregisterStopsFurtherNotifications(t *testing.T) {
	s := New()
	calls := 0
	_, _, unregister := s.Attach("render/workers", func(any) { calls++ })

	require.NoError(t, s.SetValue("render/workers", 1))
	unregister()
	require.NoError(t, s.SetValue("render/workers", 2))

	assert.Equal(t, 1, calls)
}

func TestAttachDoesNotNotifyOnRegistration(t *testing.T) {
	s := New()
	require.NoError(t, s.SetValue("render/workers", 1))

	calls := 0
	_, _, unregister := s.Attach("render/workers", func(any) { calls++ })
	defer unregister()

	assert.Equal(t, 0, calls, "Attach must not replay the current value to a fresh observer")
}

func TestMultipleObserversOnSameKeyAllFire(t *testing.T) {
	s := New()
	var a, b int
	_, _, unregA := s.Attach("cacher", func(any) { a++ })
	_, _, unregB := s.Attach("cacher", func(any) { b++ })
	defer unregA()
	defer unregB()

	require.NoError(t, s.SetValue("cacher", map[string]any{"workers": 2}))

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
