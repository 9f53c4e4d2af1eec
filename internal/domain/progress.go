package domain

// PlayerProgress is the single persisted record for the local player.
// Unlocks and Scores are index-parallel to the level catalog by position,
// not by level id.
type PlayerProgress struct {
	Unlocks []bool `json:"unlocks"`
	Scores  []int  `json:"scores"`
}

// NewPlayerProgress returns a fresh record sized to the catalog: level 0
// unlocked, everything else locked, all scores zero.
func NewPlayerProgress(levelCount int) *PlayerProgress {
	p := &PlayerProgress{
		Unlocks: make([]bool, levelCount),
		Scores:  make([]int, levelCount),
	}
	if levelCount > 0 {
		p.Unlocks[0] = true
	}
	return p
}

// Valid reports whether the record is shaped for a catalog of levelCount
// levels. A record that fails this check is treated as corrupt and
// replaced with a fresh one.
func (p *PlayerProgress) Valid(levelCount int) bool {
	if p == nil {
		return false
	}
	if len(p.Unlocks) != levelCount || len(p.Scores) != levelCount {
		return false
	}
	return levelCount == 0 || p.Unlocks[0]
}

// Unlocked reports whether the level at index is playable.
func (p *PlayerProgress) Unlocked(index int) bool {
	return index >= 0 && index < len(p.Unlocks) && p.Unlocks[index]
}

// Best returns the stored high score for the level at index.
func (p *PlayerProgress) Best(index int) int {
	if index < 0 || index >= len(p.Scores) {
		return 0
	}
	return p.Scores[index]
}
