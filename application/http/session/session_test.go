package session

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	clk := clock.NewMock()
	st := NewStore(clk, time.Minute)

	s := st.Create()
	_, err := uuid.Parse(s.ID())
	require.NoError(t, err)
	assert.False(t, s.HasUser())

	s.SetUser("alice")
	s.Set("theme", "dark")

	got, err := st.Lookup(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, "alice", got.User())
	v, ok := got.Get("theme")
	assert.True(t, ok)
	assert.Equal(t, "dark", v)

	_, err = st.Lookup(uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.Lookup("not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreIdleExpiry(t *testing.T) {
	clk := clock.NewMock()
	st := NewStore(clk, time.Minute)

	kept, dropped := st.Create(), st.Create()

	clk.Add(40 * time.Second)
	_, err := st.Lookup(kept.ID())
	require.NoError(t, err)

	clk.Add(40 * time.Second)
	assert.Equal(t, 1, st.Expire())
	assert.Equal(t, 1, st.Len())

	_, err = st.Lookup(dropped.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	clk.Add(2 * time.Minute)
	_, err = st.Lookup(kept.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, st.Len())
}

func TestStoreOpen(t *testing.T) {
	st := NewStore(clock.NewMock(), 0)

	s, created := st.Open("")
	assert.True(t, created)

	again, created := st.Open(s.ID())
	assert.False(t, created)
	assert.Same(t, s, again)

	st.Delete(s.ID())
	other, created := st.Open(s.ID())
	assert.True(t, created)
	assert.NotEqual(t, s.ID(), other.ID())
}
