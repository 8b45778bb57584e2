package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_ReadMissingKey(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	var v []Operation
	found, err := storage.Read(QueueKey, &v)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)
}

func TestStorage_WriteReadRoundTrip(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, storage.Write(QueueKey, []Operation{{ID: "a", Kind: OpDeleteAccount, AccountID: 7}}))

	var ops []Operation
	found, err := storage.Read(QueueKey, &ops)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, ops, 1)
	assert.Equal(t, "a", ops[0].ID)
	assert.Equal(t, OpDeleteAccount, ops[0].Kind)
	assert.Equal(t, int64(7), ops[0].AccountID)

	// Writes replace the document wholesale.
	require.NoError(t, storage.Write(QueueKey, []Operation{}))
	found, err = storage.Read(QueueKey, &ops)
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, ops)
}
