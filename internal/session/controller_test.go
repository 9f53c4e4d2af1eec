package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ashureev/backchannel/internal/domain"
	"github.com/ashureev/backchannel/internal/relay"
	"github.com/ashureev/backchannel/internal/screen"
)

// memRepo is an in-memory store.Repository for controller tests.
type memRepo struct {
	mu         sync.Mutex
	progress   *domain.PlayerProgress
	levelCount int
	saves      int
	loadErr    error
	saveErr    error
}

func newMemRepo(levelCount int) *memRepo {
	return &memRepo{levelCount: levelCount}
}

func (r *memRepo) LoadProgress(ctx context.Context) (*domain.PlayerProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	if r.progress == nil {
		r.progress = domain.NewPlayerProgress(r.levelCount)
	}
	p := &domain.PlayerProgress{
		Unlocks: append([]bool(nil), r.progress.Unlocks...),
		Scores:  append([]int(nil), r.progress.Scores...),
	}
	return p, nil
}

func (r *memRepo) SaveProgress(ctx context.Context, progress *domain.PlayerProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.progress = &domain.PlayerProgress{
		Unlocks: append([]bool(nil), progress.Unlocks...),
		Scores:  append([]int(nil), progress.Scores...),
	}
	return nil
}

func (r *memRepo) Ping(ctx context.Context) error { return nil }
func (r *memRepo) Close() error                   { return nil }

func (r *memRepo) stored() *domain.PlayerProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// scriptedCaller returns canned replies or errors in order, repeating the
// last one when the script runs out.
type scriptedCaller struct {
	mu      sync.Mutex
	replies []*domain.ModelReply
	errs    []error
	calls   int
}

func (c *scriptedCaller) Send(ctx context.Context, systemPrompt string, history []domain.ChatTurn, userMessage string) (*domain.ModelReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	if i < 0 {
		return nil, &relay.RelayError{Message: "no script"}
	}
	if c.errs[i] != nil {
		return nil, c.errs[i]
	}
	return c.replies[i], nil
}

func scripted(changes ...int) *scriptedCaller {
	c := &scriptedCaller{}
	for _, ch := range changes {
		c.replies = append(c.replies, &domain.ModelReply{Response: "noted", ScoreChange: ch})
		c.errs = append(c.errs, nil)
	}
	return c
}

func (c *scriptedCaller) failAt(turn int) *scriptedCaller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[turn-1] = &relay.RelayError{Message: "transport failure"}
	return c
}

func testLevels() []domain.LevelDefinition {
	return []domain.LevelDefinition{
		{ID: 1, Title: "One", Briefing: "brief one", SystemPrompt: "sys one", MissionLength: 3, PassScore: 10},
		{ID: 2, Title: "Two", Briefing: "brief two", SystemPrompt: "sys two", MissionLength: 2, PassScore: 5},
	}
}

func newTestController(caller relay.Caller, repo *memRepo) (*Controller, *screen.Navigator) {
	nav := screen.NewNavigator()
	return NewController(testLevels(), repo, caller, nav, nil), nav
}

func TestStartLevelEmitsBriefing(t *testing.T) {
	c, nav := newTestController(scripted(0), newMemRepo(2))

	c.StartLevel(context.Background(), 1)

	if got := c.State(); got != StateAwaitingInput {
		t.Fatalf("Expected state awaitingInput, got %s", got)
	}
	if got := nav.Current(); got != screen.Mission {
		t.Errorf("Expected mission screen, got %s", got)
	}

	transcript := c.Transcript()
	if len(transcript) != 1 {
		t.Fatalf("Expected 1 transcript entry, got %d", len(transcript))
	}
	if transcript[0].Kind != domain.EntryNarrator || transcript[0].Text != "brief one" {
		t.Errorf("Expected narrator briefing, got %+v", transcript[0])
	}

	snap := c.Snapshot()
	if snap.Score != 0 || snap.MessageCount != 0 {
		t.Errorf("Expected zeroed session, got score=%d count=%d", snap.Score, snap.MessageCount)
	}
}

func TestStartLevelUnknownIDIsNoOp(t *testing.T) {
	c, nav := newTestController(scripted(4, 4, 4), newMemRepo(2))

	c.StartLevel(context.Background(), 1)
	if err := c.SubmitTurn(context.Background(), "hello"); err != nil {
		t.Fatalf("SubmitTurn failed: %v", err)
	}
	before := c.Snapshot()
	beforeScreen := nav.Current()

	c.StartLevel(context.Background(), 99)

	after := c.Snapshot()
	if after != before {
		t.Errorf("Expected session unchanged, got %+v want %+v", after, before)
	}
	if nav.Current() != beforeScreen {
		t.Errorf("Expected screen unchanged, got %s", nav.Current())
	}
}

func TestSubmitTurnRejectsEmptyAndIdle(t *testing.T) {
	c, _ := newTestController(scripted(1), newMemRepo(2))

	if err := c.SubmitTurn(context.Background(), "hello"); !errors.Is(err, ErrNotAcceptingInput) {
		t.Errorf("Expected ErrNotAcceptingInput while idle, got %v", err)
	}

	c.StartLevel(context.Background(), 1)

	if err := c.SubmitTurn(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Expected ErrEmptyMessage, got %v", err)
	}
	if got := c.Snapshot().MessageCount; got != 0 {
		t.Errorf("Expected messageCount 0 after rejected turns, got %d", got)
	}
}

func TestSubmitTurnAccumulatesScoreAndHistory(t *testing.T) {
	caller := scripted(4, -2)
	c, _ := newTestController(caller, newMemRepo(2))

	c.StartLevel(context.Background(), 1)
	if err := c.SubmitTurn(context.Background(), "first"); err != nil {
		t.Fatalf("First turn failed: %v", err)
	}
	if err := c.SubmitTurn(context.Background(), "second"); err != nil {
		t.Fatalf("Second turn failed: %v", err)
	}

	snap := c.Snapshot()
	if snap.Score != 2 {
		t.Errorf("Expected score 2 (4-2), got %d", snap.Score)
	}
	if snap.MessageCount != 2 {
		t.Errorf("Expected messageCount 2, got %d", snap.MessageCount)
	}

	transcript := c.Transcript()
	// briefing + 2x(player, character)
	if len(transcript) != 5 {
		t.Fatalf("Expected 5 transcript entries, got %d", len(transcript))
	}
	if transcript[2].Kind != domain.EntryCharacter || transcript[2].Text != "noted" {
		t.Errorf("Expected character reply, got %+v", transcript[2])
	}
}

func TestRelaySeesHistoryBeforeCurrentTurn(t *testing.T) {
	var seen [][]domain.ChatTurn
	caller := callerFunc(func(ctx context.Context, systemPrompt string, history []domain.ChatTurn, userMessage string) (*domain.ModelReply, error) {
		if systemPrompt != "sys one" {
			t.Errorf("Expected level system prompt, got %q", systemPrompt)
		}
		seen = append(seen, history)
		return &domain.ModelReply{Response: "noted", ScoreChange: 4}, nil
	})
	c, _ := newTestController(caller, newMemRepo(2))

	c.StartLevel(context.Background(), 1)
	for _, msg := range []string{"offer", "counter"} {
		if err := c.SubmitTurn(context.Background(), msg); err != nil {
			t.Fatalf("Turn %q failed: %v", msg, err)
		}
	}

	if len(seen) != 2 {
		t.Fatalf("Expected 2 relay calls, got %d", len(seen))
	}
	if len(seen[0]) != 0 {
		t.Errorf("First turn should see empty history, got %d entries", len(seen[0]))
	}
	if len(seen[1]) != 2 {
		t.Fatalf("Second turn should see 2 history entries, got %d", len(seen[1]))
	}
	if seen[1][0].Role != domain.RoleUser || seen[1][0].Content != "offer" {
		t.Errorf("Expected raw user text in history, got %+v", seen[1][0])
	}
	want := domain.ModelReply{Response: "noted", ScoreChange: 4}.Serialize()
	if seen[1][1].Role != domain.RoleModel || seen[1][1].Content != want {
		t.Errorf("Expected serialized model reply %q in history, got %+v", want, seen[1][1])
	}
}

func TestRelayFailureConsumesTurnWithoutScoring(t *testing.T) {
	caller := scripted(4, 4, 4).failAt(2)
	repo := newMemRepo(2)
	c, nav := newTestController(caller, repo)

	c.StartLevel(context.Background(), 1)
	for _, msg := range []string{"one", "two", "three"} {
		if err := c.SubmitTurn(context.Background(), msg); err != nil {
			t.Fatalf("Turn %q failed: %v", msg, err)
		}
	}

	snap := c.Snapshot()
	if snap.MessageCount != 3 {
		t.Errorf("Expected messageCount 3, got %d", snap.MessageCount)
	}
	// Turn 2 failed: only turns 1 and 3 scored.
	if snap.Score != 8 {
		t.Errorf("Expected score 8, got %d", snap.Score)
	}
	if got := c.State(); got != StateEnded {
		t.Errorf("Expected ended state, got %s", got)
	}
	if nav.Current() != screen.Debrief {
		t.Errorf("Expected debrief screen, got %s", nav.Current())
	}

	var system int
	for _, e := range c.Transcript() {
		if e.Kind == domain.EntrySystem {
			system++
		}
	}
	if system != 1 {
		t.Errorf("Expected 1 system entry for the failed turn, got %d", system)
	}

	d := c.LastDebrief()
	if d == nil {
		t.Fatal("Expected a debrief")
	}
	if d.Pass {
		t.Errorf("Expected fail at score 8 < 10, got pass")
	}
}

func TestMissionEndsOnFailedFinalTurn(t *testing.T) {
	// The count advances on submission, so the mission ends even when the
	// final turn never reached the model.
	caller := scripted(6, 6, 6).failAt(3)
	c, _ := newTestController(caller, newMemRepo(2))

	c.StartLevel(context.Background(), 1)
	for _, msg := range []string{"one", "two", "three"} {
		if err := c.SubmitTurn(context.Background(), msg); err != nil {
			t.Fatalf("Turn %q failed: %v", msg, err)
		}
	}

	if got := c.State(); got != StateEnded {
		t.Fatalf("Expected ended state, got %s", got)
	}
	d := c.LastDebrief()
	if d == nil || !d.Pass || d.Score != 12 {
		t.Errorf("Expected pass with score 12, got %+v", d)
	}
}

func TestResolutionBoundaryInclusive(t *testing.T) {
	tests := []struct {
		name    string
		changes []int
		pass    bool
		score   int
	}{
		{"exactly passScore passes", []int{4, 4, 2}, true, 10},
		{"one below fails", []int{4, 4, 1}, false, 9},
		{"three steady fours clear the bar", []int{4, 4, 4}, true, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo(2)
			c, _ := newTestController(scripted(tt.changes...), repo)

			c.StartLevel(context.Background(), 1)
			for _, msg := range []string{"one", "two", "three"} {
				if err := c.SubmitTurn(context.Background(), msg); err != nil {
					t.Fatalf("Turn failed: %v", err)
				}
			}

			d := c.LastDebrief()
			if d == nil {
				t.Fatal("Expected a debrief")
			}
			if d.Pass != tt.pass || d.Score != tt.score {
				t.Errorf("Expected pass=%v score=%d, got pass=%v score=%d", tt.pass, tt.score, d.Pass, d.Score)
			}

			stored := repo.stored()
			if tt.pass {
				if !stored.Unlocks[1] {
					t.Error("Expected next level unlocked on pass")
				}
				if !d.UnlockedNext {
					t.Error("Expected debrief to report the unlock")
				}
			} else if stored.Unlocks[1] {
				t.Error("Expected next level to stay locked on fail")
			}
		})
	}
}

func TestHighScoreOnlyIncreases(t *testing.T) {
	repo := newMemRepo(2)
	repo.progress = &domain.PlayerProgress{Unlocks: []bool{true, true}, Scores: []int{20, 0}}

	c, _ := newTestController(scripted(4, 4, 4), repo)
	c.StartLevel(context.Background(), 1)
	for _, msg := range []string{"one", "two", "three"} {
		if err := c.SubmitTurn(context.Background(), msg); err != nil {
			t.Fatalf("Turn failed: %v", err)
		}
	}

	stored := repo.stored()
	if stored.Scores[0] != 20 {
		t.Errorf("Expected stored high score to stay 20, got %d", stored.Scores[0])
	}
	d := c.LastDebrief()
	if d.Best != 20 {
		t.Errorf("Expected debrief best 20, got %d", d.Best)
	}
	if d.UnlockedNext {
		t.Error("Level 2 was already unlocked, debrief should not report a fresh unlock")
	}
}

func TestUnlockMonotonic(t *testing.T) {
	repo := newMemRepo(2)
	c, _ := newTestController(scripted(-5, -5, -5), repo)

	// Pass once to unlock level 2.
	pass := scripted(10, 10, 10)
	cPass, _ := newTestController(pass, repo)
	cPass.StartLevel(context.Background(), 1)
	for _, msg := range []string{"a", "b", "c"} {
		if err := cPass.SubmitTurn(context.Background(), msg); err != nil {
			t.Fatalf("Turn failed: %v", err)
		}
	}
	if !repo.stored().Unlocks[1] {
		t.Fatal("Expected level 2 unlocked after pass")
	}

	// Fail hard; the unlock must survive.
	c.StartLevel(context.Background(), 1)
	for _, msg := range []string{"a", "b", "c"} {
		if err := c.SubmitTurn(context.Background(), msg); err != nil {
			t.Fatalf("Turn failed: %v", err)
		}
	}
	if !repo.stored().Unlocks[1] {
		t.Error("Unlock was cleared by a failed mission")
	}
}

func TestLastLevelPassHasNoNextToUnlock(t *testing.T) {
	repo := newMemRepo(2)
	repo.progress = &domain.PlayerProgress{Unlocks: []bool{true, true}, Scores: []int{0, 0}}

	c, _ := newTestController(scripted(5, 5), repo)
	c.StartLevel(context.Background(), 2)
	for _, msg := range []string{"a", "b"} {
		if err := c.SubmitTurn(context.Background(), msg); err != nil {
			t.Fatalf("Turn failed: %v", err)
		}
	}

	d := c.LastDebrief()
	if d == nil || !d.Pass {
		t.Fatalf("Expected a passing debrief, got %+v", d)
	}
	if d.UnlockedNext {
		t.Error("No next level exists, UnlockedNext must be false")
	}
}

func TestProcessingGateBlocksConcurrentTurns(t *testing.T) {
	release := make(chan struct{})
	inFlight := make(chan struct{})

	blocking := callerFunc(func(ctx context.Context, systemPrompt string, history []domain.ChatTurn, userMessage string) (*domain.ModelReply, error) {
		close(inFlight)
		<-release
		return &domain.ModelReply{Response: "ok", ScoreChange: 1}, nil
	})

	c, _ := newTestController(blocking, newMemRepo(2))
	c.StartLevel(context.Background(), 1)

	done := make(chan error, 1)
	go func() {
		done <- c.SubmitTurn(context.Background(), "slow turn")
	}()

	<-inFlight
	if err := c.SubmitTurn(context.Background(), "too eager"); !errors.Is(err, ErrNotAcceptingInput) {
		t.Errorf("Expected ErrNotAcceptingInput while processing, got %v", err)
	}
	if got := c.State(); got != StateProcessing {
		t.Errorf("Expected processing state, got %s", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("In-flight turn failed: %v", err)
	}
	if got := c.Snapshot().MessageCount; got != 1 {
		t.Errorf("Expected messageCount 1, got %d", got)
	}
}

func TestResetReturnsToLevelSelect(t *testing.T) {
	c, nav := newTestController(scripted(1), newMemRepo(2))

	c.StartLevel(context.Background(), 1)
	if err := c.SubmitTurn(context.Background(), "hello"); err != nil {
		t.Fatalf("SubmitTurn failed: %v", err)
	}

	c.Reset()

	if got := c.State(); got != StateIdle {
		t.Errorf("Expected idle state, got %s", got)
	}
	if nav.Current() != screen.LevelSelect {
		t.Errorf("Expected level select screen, got %s", nav.Current())
	}
	if len(c.Transcript()) != 0 {
		t.Error("Expected transcript cleared on reset")
	}
	snap := c.Snapshot()
	if snap.Level != nil || snap.Score != 0 || snap.MessageCount != 0 {
		t.Errorf("Expected destroyed session state, got %+v", snap)
	}
}

// callerFunc adapts a function to relay.Caller.
type callerFunc func(ctx context.Context, systemPrompt string, history []domain.ChatTurn, userMessage string) (*domain.ModelReply, error)

func (f callerFunc) Send(ctx context.Context, systemPrompt string, history []domain.ChatTurn, userMessage string) (*domain.ModelReply, error) {
	return f(ctx, systemPrompt, history, userMessage)
}
