// internal/mapvote/catalog_test.go
package mapvote

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatchesBySubstring(t *testing.T) {
	c := NewCatalog([]GameMap{
		{Name: "X", GameMode: "Slayer", GameType: "Standard", LobbySize: "Small"},
		{Name: "Y", GameMode: "Zombies", GameType: "Infection", LobbySize: "Large"},
	})

	got := c.Filter([]string{"small"}, []string{"standard"})
	require.Len(t, got, 1)
	assert.Equal(t, "X", got[0].Name)
}

func TestFilterExcludesMapsMissingFields(t *testing.T) {
	c := NewCatalog([]GameMap{
		{Name: "NoType", LobbySize: "Small"},
		{Name: "NoSize", GameType: "Standard"},
		{Name: "Ok", GameType: "Standard", LobbySize: "Small"},
	})

	got := c.Filter([]string{"small"}, []string{"standard"})
	require.Len(t, got, 1)
	assert.Equal(t, "Ok", got[0].Name)
}

func TestFilterMatchesAnyOfSeveralTags(t *testing.T) {
	c := NewCatalog([]GameMap{
		{Name: "A", GameType: "Minigame / Standard", LobbySize: "Small-Medium"},
		{Name: "B", GameType: "Vehicle", LobbySize: "Large"},
		{Name: "C", GameType: "Infection", LobbySize: "Any"},
	})

	got := c.Filter([]string{"medium", "large"}, []string{"standard", "vehicle"})
	names := mapNames(got)
	assert.ElementsMatch(t, []string{"A", "B"}, names)
}

func TestSampleMapsDrawsDistinctMaps(t *testing.T) {
	maps := []GameMap{{Name: "A"}, {Name: "B"}, {Name: "C"}, {Name: "D"}, {Name: "E"}}

	for i := 0; i < 50; i++ {
		picked := sampleMaps(maps, 3)
		require.Len(t, picked, 3)
		seen := map[string]bool{}
		for _, m := range picked {
			assert.False(t, seen[m.Name], "map %s sampled twice", m.Name)
			seen[m.Name] = true
		}
	}

	// fewer matches than requested: offer what exists
	assert.Len(t, sampleMaps(maps[:2], 3), 2)
	assert.Empty(t, sampleMaps(nil, 3))
}

func TestValidTags(t *testing.T) {
	assert.True(t, validTags([]string{"small", "ANY"}, ValidLobbySizes))
	assert.False(t, validTags([]string{"small", "huge"}, ValidLobbySizes))
	assert.False(t, validTags(nil, ValidLobbySizes))
	assert.True(t, validTags([]string{"infection"}, ValidGamemodes))
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maps.json")
	body := `[{"Map Name":"Relay","Game Mode":"Slayer","Game Type":"Standard","Lobby Size":"Small"}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	got := c.Filter([]string{"small"}, []string{"standard"})
	require.Len(t, got, 1)
	assert.Equal(t, "Relay", got[0].Name)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
