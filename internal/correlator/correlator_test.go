package correlator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBegin_StrictRejectsDuplicate(t *testing.T) {
	c := New(true)
	connID := uuid.New()

	require.NoError(t, c.Begin("req-1", connID, "1", true))
	err := c.Begin("req-1", connID, "1", true)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Equal(t, 1, c.Pending())
}

func TestBegin_LenientLastWriterWins(t *testing.T) {
	c := New(false)
	oldConn, newConn := uuid.New(), uuid.New()

	require.NoError(t, c.Begin("req-1", oldConn, "1", true))
	require.NoError(t, c.Begin("req-1", newConn, "1", true))

	route, ok := c.Accepted("req-1")
	require.True(t, ok)
	assert.Equal(t, newConn, route.ConnID)

	// The superseded entry must not linger in the old connection's index.
	assert.Equal(t, 0, c.CancelAllFor(oldConn))
	assert.Equal(t, 1, c.Pending())
}

func TestAccepted_KeepsEntry(t *testing.T) {
	c := New(true)
	require.NoError(t, c.Begin("req-1", uuid.New(), "1", true))

	_, ok := c.Accepted("req-1")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Pending())
}

func TestData_OneShotRemovedOnFinalBatch(t *testing.T) {
	c := New(true)
	require.NoError(t, c.Begin("req-1", uuid.New(), "1", true))

	// Intermediate batches keep the correlation open.
	_, ok := c.Data("req-1", false)
	require.True(t, ok)
	assert.Equal(t, 1, c.Pending())

	_, ok = c.Data("req-1", true)
	require.True(t, ok)
	assert.Equal(t, 0, c.Pending())

	_, ok = c.Data("req-1", true)
	assert.False(t, ok)
}

func TestData_NonOneShotPersists(t *testing.T) {
	c := New(true)
	require.NoError(t, c.Begin("req-1", uuid.New(), "1", false))

	for i := 0; i < 3; i++ {
		_, ok := c.Data("req-1", true)
		require.True(t, ok)
	}
	assert.Equal(t, 1, c.Pending())

	// Only an error terminates a persistent correlation.
	_, ok := c.Error("req-1")
	require.True(t, ok)
	assert.Equal(t, 0, c.Pending())
}

func TestError_AlwaysRemoves(t *testing.T) {
	c := New(true)
	require.NoError(t, c.Begin("req-1", uuid.New(), "1", true))

	route, ok := c.Error("req-1")
	require.True(t, ok)
	assert.Equal(t, "1", route.UserID)
	assert.Equal(t, 0, c.Pending())
}

func TestUnknownRequestID(t *testing.T) {
	c := New(true)

	_, ok := c.Accepted("ghost")
	assert.False(t, ok)
	_, ok = c.Data("ghost", true)
	assert.False(t, ok)
	_, ok = c.Error("ghost")
	assert.False(t, ok)
}

func TestCancelAllFor(t *testing.T) {
	c := New(true)
	doomed, survivor := uuid.New(), uuid.New()

	require.NoError(t, c.Begin("req-1", doomed, "1", true))
	require.NoError(t, c.Begin("req-2", doomed, "1", false))
	require.NoError(t, c.Begin("req-3", survivor, "2", true))

	assert.Equal(t, 2, c.CancelAllFor(doomed))
	assert.Equal(t, 1, c.Pending())

	_, ok := c.Data("req-1", true)
	assert.False(t, ok)
	_, ok = c.Data("req-3", false)
	assert.True(t, ok)
}

func TestCancelAllFor_UnknownConn(t *testing.T) {
	c := New(true)
	assert.Equal(t, 0, c.CancelAllFor(uuid.New()))
}

// Same request id from two different connections of the same user: strict
// mode rejects the second (see DESIGN.md).
func TestBegin_StrictRejectsCrossConnectionCollision(t *testing.T) {
	c := New(true)

	require.NoError(t, c.Begin("req-1", uuid.New(), "1", true))
	err := c.Begin("req-1", uuid.New(), "1", true)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}
