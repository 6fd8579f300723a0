package model

import (
	"fmt"
	"time"
)

type TileState string

const (
	StatePending     TileState = "pending"
	StateDownloading TileState = "downloading"
	StateDownloaded  TileState = "downloaded"
	StateConverting  TileState = "converting"
	StateConverted   TileState = "converted"
	StateDeriving    TileState = "deriving"
	StateCompleted   TileState = "completed"
	StateFailed      TileState = "failed"
)

var allowedTransitions = map[TileState]map[TileState]bool{
	StatePending: {
		StateDownloading: true,
		StateFailed:      true,
	},
	StateDownloading: {
		StateDownloaded: true,
		StateFailed:     true,
	},
	StateDownloaded: {
		StateConverting: true,
		StateDeriving:   true, // canonical source, nothing to convert
		StateFailed:     true,
	},
	StateConverting: {
		StateConverted: true,
		StateFailed:    true,
	},
	StateConverted: {
		StateDeriving: true,
		StateFailed:   true,
	},
	StateDeriving: {
		StateCompleted: true,
		StateFailed:    true,
	},
	StateCompleted: {},
	StateFailed:    {},
}

func IsKnownState(state TileState) bool {
	_, ok := allowedTransitions[state]
	return ok
}

func IsTerminal(state TileState) bool {
	return state == StateCompleted || state == StateFailed
}

func CanTransition(from, to TileState) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// StageTiming describes one transition of a tile's state machine.
type StageTiming struct {
	From         TileState
	To           TileState
	StageElapsed time.Duration
	TotalElapsed time.Duration
}

// Tracker owns the state of exactly one tile for one run.
type Tracker struct {
	tileID  string
	state   TileState
	started time.Time
	entered time.Time
	now     func() time.Time
}

func NewTracker(tileID string, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := now()
	return &Tracker{
		tileID:  tileID,
		state:   StatePending,
		started: t,
		entered: t,
		now:     now,
	}
}

func (t *Tracker) State() TileState {
	return t.state
}

func (t *Tracker) Elapsed() time.Duration {
	return t.now().Sub(t.started)
}

func (t *Tracker) Transition(to TileState) (StageTiming, error) {
	from := t.state
	if !CanTransition(from, to) {
		return StageTiming{}, fmt.Errorf("invalid tile state transition: %q -> %q (tile_id=%s)", from, to, t.tileID)
	}
	now := t.now()
	timing := StageTiming{
		From:         from,
		To:           to,
		StageElapsed: now.Sub(t.entered),
		TotalElapsed: now.Sub(t.started),
	}
	t.state = to
	t.entered = now
	return timing, nil
}
