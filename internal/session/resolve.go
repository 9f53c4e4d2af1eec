package session

import (
	"context"
	"log/slog"

	"github.com/ashureev/backchannel/internal/domain"
	"github.com/ashureev/backchannel/internal/screen"
)

// resolveLocked settles a finished mission against the progress record:
// strictly-greater high-score replacement, next-level unlock on a pass,
// one persist. Pass is inclusive at the threshold; ties pass. The score
// comes from session state, never re-derived from history.
//
// Caller holds c.mu and has already moved the state to Ended.
func (c *Controller) resolveLocked(ctx context.Context) {
	level := c.session.Level
	idx := level.Index()

	progress, err := c.repo.LoadProgress(ctx)
	if err != nil {
		// Persistence is unavailable; the debrief still reports the run.
		slog.Error("Failed to load progress for resolution", "error", err)
		progress = domain.NewPlayerProgress(len(c.levels))
	}

	score := c.session.Score
	pass := score >= level.PassScore

	if score > progress.Scores[idx] {
		progress.Scores[idx] = score
	}

	unlockedNext := false
	if pass && idx+1 < len(c.levels) && !progress.Unlocks[idx+1] {
		progress.Unlocks[idx+1] = true
		unlockedNext = true
	}

	if err := c.repo.SaveProgress(ctx, progress); err != nil {
		slog.Error("Failed to persist progress", "error", err, "level_id", level.ID)
	}

	debrief := Debrief{
		LevelID:      level.ID,
		Pass:         pass,
		Score:        score,
		Best:         progress.Scores[idx],
		UnlockedNext: unlockedNext,
	}
	c.lastDebrief = &debrief

	c.nav.Show(screen.Debrief)
	c.events.MissionResolved(debrief)
	slog.Info("Mission resolved",
		"level_id", level.ID, "score", score, "pass", pass, "unlocked_next", unlockedNext)
}
