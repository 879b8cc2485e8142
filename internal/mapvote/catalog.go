// internal/mapvote/catalog.go
package mapvote

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
)

// GameMap is one entry of the static map catalog. Field names follow the
// catalog file's schema; GameType and LobbySize are free-text tag lists.
type GameMap struct {
	Name      string `json:"Map Name"`
	GameMode  string `json:"Game Mode"`
	GameType  string `json:"Game Type"`
	LobbySize string `json:"Lobby Size"`
}

// Catalog is the read-only map collection, loaded once at startup.
type Catalog struct {
	maps []GameMap
}

// Filter tag sets a host may select from.
var (
	ValidLobbySizes = []string{"small", "medium", "large", "any"}
	ValidGamemodes  = []string{"minigame", "standard", "infection", "vehicle", "other"}
)

// LoadCatalog reads the catalog JSON file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map catalog: %w", err)
	}
	var maps []GameMap
	if err := json.Unmarshal(data, &maps); err != nil {
		return nil, fmt.Errorf("parse map catalog %s: %w", path, err)
	}
	return &Catalog{maps: maps}, nil
}

// NewCatalog wraps an in-memory map list (used by tests).
func NewCatalog(maps []GameMap) *Catalog {
	return &Catalog{maps: maps}
}

// Len reports the catalog size.
func (c *Catalog) Len() int { return len(c.maps) }

// Filter returns the maps whose Game Type contains at least one selected
// gamemode tag and whose Lobby Size contains at least one selected size tag.
// Matching is a case-insensitive substring check; maps missing either field
// are excluded.
func (c *Catalog) Filter(sizes, gamemodes []string) []GameMap {
	var out []GameMap
	for _, m := range c.maps {
		gameType := strings.ToLower(strings.TrimSpace(m.GameType))
		lobbySize := strings.ToLower(strings.TrimSpace(m.LobbySize))
		if gameType == "" || lobbySize == "" {
			continue
		}
		if containsAny(gameType, gamemodes) && containsAny(lobbySize, sizes) {
			out = append(out, m)
		}
	}
	return out
}

func containsAny(field string, tags []string) bool {
	for _, tag := range tags {
		if strings.Contains(field, strings.ToLower(tag)) {
			return true
		}
	}
	return false
}

// sampleMaps draws up to count distinct maps uniformly at random
// (Fisher-Yates shuffle, then take the first count).
func sampleMaps(maps []GameMap, count int) []GameMap {
	shuffled := append([]GameMap(nil), maps...)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	if count > len(shuffled) {
		count = len(shuffled)
	}
	return shuffled[:count]
}

func mapNames(maps []GameMap) []string {
	names := make([]string, len(maps))
	for i, m := range maps {
		names[i] = m.Name
	}
	return names
}

// validTags reports whether every tag appears in the allowed set.
func validTags(tags, allowed []string) bool {
	if len(tags) == 0 {
		return false
	}
	for _, tag := range tags {
		found := false
		for _, a := range allowed {
			if strings.EqualFold(tag, a) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
