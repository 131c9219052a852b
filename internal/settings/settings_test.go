// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTypedRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, Set(s, KeyMaxTranscodes, 4))
	assert.Equal(t, 4, Get(s, KeyMaxTranscodes, 2))

	require.NoError(t, Set(s, KeyIncludeHidden, true))
	assert.True(t, Get(s, KeyIncludeHidden, false))

	type agentOrder struct {
		Names []string `json:"names"`
	}
	want := agentOrder{Names: []string{"local-file", "tmdb"}}
	require.NoError(t, Set(s, KeyAgentOrderPrefix+"lib-1", want))
	assert.Equal(t, want, Get(s, KeyAgentOrderPrefix+"lib-1", agentOrder{}))
}

func TestGetDefaultWhenAbsent(t *testing.T) {
	s := openTestStore(t)
	assert.Equal(t, 20, Get(s, KeyHubPageSize, 20))
}

func TestGetDefaultOnTypeMismatch(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetRaw(KeyMaxTranscodes, []byte(`"not a number"`)))
	assert.Equal(t, 2, Get(s, KeyMaxTranscodes, 2))
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, Set(s, KeyLogLevel, "debug"))
	require.NoError(t, s.Delete(KeyLogLevel))
	assert.Equal(t, "info", Get(s, KeyLogLevel, "info"))

	// Deleting an absent key is fine.
	require.NoError(t, s.Delete("never.stored"))
}

func TestCacheInvalidationOnWrite(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, Set(s, KeyHubPageSize, 20))
	assert.Equal(t, 20, Get(s, KeyHubPageSize, 0)) // populates cache
	require.NoError(t, Set(s, KeyHubPageSize, 50))
	assert.Equal(t, 50, Get(s, KeyHubPageSize, 0))
}

func TestGetAll(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, Set(s, KeyLogLevel, "warn"))
	require.NoError(t, Set(s, KeyHubPageSize, 10))

	all, err := s.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.JSONEq(t, `"warn"`, string(all[KeyLogLevel]))
}

func TestRestartRequired(t *testing.T) {
	assert.True(t, RestartRequired(KeyBindAddr))
	assert.False(t, RestartRequired(KeyLogLevel))
}
