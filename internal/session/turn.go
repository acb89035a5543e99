package session

import (
	"log/slog"
	"time"
)

// TurnState is the stage a chat turn is in.
type TurnState string

const (
	StateIdle           TurnState = "idle"
	StatePromptBuilding TurnState = "prompt_building"
	StateGenerating     TurnState = "generating"
	StateExtracting     TurnState = "extracting"
	StatePersisting     TurnState = "persisting"
	StateCacheSyncing   TurnState = "cache_syncing"
	StateDone           TurnState = "done"
	StateErrored        TurnState = "errored"
)

// turn tracks one request's progress for logging. It is never shared between requests.
type turn struct {
	log     *slog.Logger
	state   TurnState
	started time.Time
	entered time.Time
}

func newTurn(log *slog.Logger, sessionID string) *turn {
	now := time.Now()
	return &turn{
		log:     log.With("session_id", sessionID),
		state:   StateIdle,
		started: now,
		entered: now,
	}
}

func (t *turn) advance(next TurnState) {
	now := time.Now()
	t.log.Debug("chat turn", "from", t.state, "to", next, "stage_ms", now.Sub(t.entered).Milliseconds())
	t.state = next
	t.entered = now
	if next == StateDone {
		t.log.Info("chat turn done", "total_ms", now.Sub(t.started).Milliseconds())
	}
}

func (t *turn) fail(err error) {
	t.log.Warn("chat turn failed", "stage", t.state, "total_ms", time.Since(t.started).Milliseconds(), "error", err)
	t.state = StateErrored
}
