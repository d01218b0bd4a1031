package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Wrap("op", nil))
	assert.Equal(t, ErrNotFound, Wrap("op", ErrNotFound))

	ioErr := errors.New("disk full")
	wrapped := Wrap("upsert", ioErr)

	var storeErr *Error
	require.ErrorAs(t, wrapped, &storeErr)
	assert.Equal(t, "upsert", storeErr.Op)
	assert.ErrorIs(t, wrapped, ioErr)
	assert.Equal(t, "storage: upsert: disk full", wrapped.Error())

	// Already wrapped errors keep their original operation
	assert.Equal(t, wrapped, Wrap("commit", wrapped))
}

func TestListOptions_GetLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "unset uses default", limit: 0, want: DefaultListLimit},
		{name: "negative uses default", limit: -3, want: DefaultListLimit},
		{name: "within range", limit: 10, want: 10},
		{name: "capped", limit: MaxListLimit + 1, want: MaxListLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ListOptions{Limit: tt.limit}.GetLimit())
		})
	}
}

func TestCursor_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		displayName string
		externalID  string
	}{
		{name: "simple", displayName: "Alice", externalID: "a"},
		{name: "name with colon", displayName: "Dr: Who", externalID: "x:1"},
		{name: "empty name", displayName: "", externalID: "id-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			name, id, err := DecodeCursor(EncodeCursor(tt.displayName, tt.externalID))
			require.NoError(t, err)
			assert.Equal(t, tt.displayName, name)
			assert.Equal(t, tt.externalID, id)
		})
	}
}

func TestDecodeCursor_Invalid(t *testing.T) {
	t.Parallel()

	name, id, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Empty(t, name)
	assert.Empty(t, id)

	_, _, err = DecodeCursor("not base64!")
	assert.Error(t, err)

	_, _, err = DecodeCursor("QWxpY2U=") // base64("Alice"), no separator
	assert.Error(t, err)
}

func TestAfter(t *testing.T) {
	t.Parallel()

	assert.True(t, After("Bob", "b", "Alice", "z"))
	assert.False(t, After("Alice", "a", "Bob", "b"))
	assert.True(t, After("Alice", "b", "Alice", "a"))
	assert.False(t, After("Alice", "a", "Alice", "a"))
}

func TestEscapeLike(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `100\% \_x\\`, EscapeLike(`100% _x\`))
	assert.Equal(t, "alice", EscapeLike("alice"))
}
