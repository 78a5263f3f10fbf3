package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mcdev12/bookiebutcher/go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUpdatesDefaultsToSamples(t *testing.T) {
	updates, err := loadUpdates("")
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "bb-001", updates[0].PredictionID)
}

func TestLoadUpdatesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "updates.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"player":"Jokic","stat":"Rebounds","line":12.5}]`), 0o600))

	updates, err := loadUpdates(path)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "Jokic", updates[0].Player)
	assert.Equal(t, 12.5, updates[0].Line)

	_, err = loadUpdates(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestNewPublisherRequiresRelay(t *testing.T) {
	_, err := newPublisher(t.Context(), config.Default())
	assert.Error(t, err)
}
