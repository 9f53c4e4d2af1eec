// Package session owns the mission state machine: one level at a time,
// a fixed number of player turns, a running score, and resolution against
// the persisted progress record when the turn budget runs out.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/backchannel/internal/catalog"
	"github.com/ashureev/backchannel/internal/domain"
	"github.com/ashureev/backchannel/internal/relay"
	"github.com/ashureev/backchannel/internal/screen"
	"github.com/ashureev/backchannel/internal/store"
)

// State is the controller's lifecycle state. Invalid-state operations are
// rejected here, not merely disabled in the view.
type State int

const (
	StateIdle State = iota
	StateBriefing
	StateAwaitingInput
	StateProcessing
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBriefing:
		return "briefing"
	case StateAwaitingInput:
		return "awaitingInput"
	case StateProcessing:
		return "processing"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

var (
	// ErrNotAcceptingInput is returned when a turn arrives outside
	// AwaitingInput — most commonly while a relay call is in flight.
	ErrNotAcceptingInput = errors.New("session is not accepting input")
	// ErrEmptyMessage is returned when the submitted text trims to empty.
	ErrEmptyMessage = errors.New("message is empty")
)

// Snapshot is a read-only view of the session for the API and event feed.
type Snapshot struct {
	State          string                  `json:"state"`
	Level          *domain.LevelDefinition `json:"level,omitempty"`
	Score          int                     `json:"score"`
	MessageCount   int                     `json:"messageCount"`
	TurnsRemaining int                     `json:"turnsRemaining"`
}

// Debrief reports the outcome of a finished mission.
type Debrief struct {
	LevelID      int  `json:"levelId"`
	Pass         bool `json:"pass"`
	Score        int  `json:"score"`
	Best         int  `json:"best"`
	UnlockedNext bool `json:"unlockedNext"`
}

// Events receives state-change notifications for the view-binding layer.
// Implementations must not call back into the controller and must not block.
type Events interface {
	TranscriptAppended(entry domain.TranscriptEntry)
	SessionChanged(snapshot Snapshot)
	MissionResolved(debrief Debrief)
}

type nopEvents struct{}

func (nopEvents) TranscriptAppended(domain.TranscriptEntry) {}
func (nopEvents) SessionChanged(Snapshot)                   {}
func (nopEvents) MissionResolved(Debrief)                   {}

// Controller drives one mission at a time. All dependencies are injected;
// there is no package-level state.
type Controller struct {
	levels []domain.LevelDefinition
	repo   store.Repository
	caller relay.Caller
	nav    *screen.Navigator
	events Events

	mu          sync.Mutex
	state       State
	session     domain.SessionState
	transcript  []domain.TranscriptEntry
	lastDebrief *Debrief
}

// NewController creates a controller in the Idle state. events may be nil.
func NewController(levels []domain.LevelDefinition, repo store.Repository, caller relay.Caller, nav *screen.Navigator, events Events) *Controller {
	if events == nil {
		events = nopEvents{}
	}
	return &Controller{
		levels: levels,
		repo:   repo,
		caller: caller,
		nav:    nav,
		events: events,
		state:  StateIdle,
	}
}

// StartLevel begins a mission for the given level id. An unknown id is a
// no-op: state, transcript, and the active screen stay untouched. Starting
// is rejected while a relay call is in flight.
func (c *Controller) StartLevel(ctx context.Context, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateProcessing {
		return
	}

	level := catalog.ByID(c.levels, id)
	if level == nil {
		slog.Warn("StartLevel: unknown level id", "id", id)
		return
	}

	c.state = StateBriefing
	c.session = domain.SessionState{Level: level}
	c.transcript = nil
	c.lastDebrief = nil

	c.appendTranscript(domain.TranscriptEntry{Kind: domain.EntryNarrator, Text: level.Briefing})
	c.state = StateAwaitingInput

	c.nav.Show(screen.Mission)
	c.events.SessionChanged(c.snapshotLocked())
	slog.Info("Mission started", "level_id", level.ID, "title", level.Title, "mission_length", level.MissionLength)
}

// SubmitTurn processes one player message. The message count advances on
// submission, before the relay call, so a failed call still consumes a turn
// and can end the mission.
func (c *Controller) SubmitTurn(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if text == "" {
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	if c.state != StateAwaitingInput {
		state := c.state
		c.mu.Unlock()
		slog.Debug("SubmitTurn rejected", "state", state.String())
		return ErrNotAcceptingInput
	}

	level := c.session.Level
	c.appendTranscript(domain.TranscriptEntry{Kind: domain.EntryPlayer, Text: text})
	c.session.MessageCount++
	c.state = StateProcessing
	c.events.SessionChanged(c.snapshotLocked())

	// Snapshot the history as it was before this turn; the relay call runs
	// outside the lock so reads stay responsive, and the Processing gate
	// keeps a second turn from starting.
	history := make([]domain.ChatTurn, len(c.session.History))
	copy(history, c.session.History)
	c.mu.Unlock()

	reply, err := c.caller.Send(ctx, level.SystemPrompt, history, text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		// The failed turn never reached the model, so it stays out of the
		// model-facing history; score is untouched.
		slog.Warn("Relay call failed", "error", err, "message_count", c.session.MessageCount)
		c.appendTranscript(domain.TranscriptEntry{
			Kind: domain.EntrySystem,
			Text: "Connection lost: " + relayMessage(err),
		})
	} else {
		c.session.RecordExchange(text, *reply)
		c.appendTranscript(domain.TranscriptEntry{Kind: domain.EntryCharacter, Text: reply.Response})
	}

	c.state = StateAwaitingInput

	// Mission end is evaluated after every turn attempt, success or not.
	if c.session.MissionOver() {
		c.state = StateEnded
		c.resolveLocked(ctx)
	}

	c.events.SessionChanged(c.snapshotLocked())
	return nil
}

// Reset abandons any active session and returns to level select.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateProcessing {
		return
	}

	c.state = StateIdle
	c.session = domain.SessionState{}
	c.transcript = nil

	c.nav.Show(screen.LevelSelect)
	c.events.SessionChanged(c.snapshotLocked())
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a read-only view of the session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Transcript returns a copy of the view-facing conversation log.
func (c *Controller) Transcript() []domain.TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.TranscriptEntry, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// LastDebrief returns the outcome of the most recently finished mission,
// or nil if none has finished since the last start.
func (c *Controller) LastDebrief() *Debrief {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastDebrief == nil {
		return nil
	}
	d := *c.lastDebrief
	return &d
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:          c.state.String(),
		Level:          c.session.Level,
		Score:          c.session.Score,
		MessageCount:   c.session.MessageCount,
		TurnsRemaining: c.session.TurnsRemaining(),
	}
}

func (c *Controller) appendTranscript(entry domain.TranscriptEntry) {
	c.transcript = append(c.transcript, entry)
	c.events.TranscriptAppended(entry)
}

func relayMessage(err error) string {
	var relayErr *relay.RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Message
	}
	return err.Error()
}
