// Package domain contains core domain types for the Backchannel game.
package domain

// LevelDefinition describes one mission. Loaded once at startup and
// read-only afterward.
type LevelDefinition struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	Briefing      string `json:"briefing"`
	SystemPrompt  string `json:"systemPrompt"`
	MissionLength int    `json:"missionLength"`
	PassScore     int    `json:"passScore"`
}

// Index returns the position of this level in the catalog and in the
// index-parallel progress arrays. Level ids are 1-based; array indexes
// are 0-based.
func (l LevelDefinition) Index() int {
	return l.ID - 1
}
