package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command is an inbound player signal. Each concrete type is handled by
// Session.Handle.
type Command interface {
	commandName() string
}

type Click struct {
	MultiplierHint *float64 `json:"multiplier_hint,omitempty"`
}

type Purchase struct {
	UnitID string `json:"unit_id"`
}

type RequestFullState struct{}

// SyncCycleProgress carries the client's view of cycle progress. It is only
// used to pick which units to answer for; the server's own progress is what
// comes back.
type SyncCycleProgress struct {
	ProgressByUnit map[string]float64 `json:"progress_by_unit"`
}

type StreakEnded struct {
	DurationMs int64 `json:"duration_ms"`
}

// BeginStreak is the gesture that starts a multiplier streak.
type BeginStreak struct{}

func (Click) commandName() string             { return "click" }
func (Purchase) commandName() string          { return "purchase" }
func (RequestFullState) commandName() string  { return "request_full_state" }
func (SyncCycleProgress) commandName() string { return "sync_cycle_progress" }
func (StreakEnded) commandName() string       { return "streak_ended" }
func (BeginStreak) commandName() string       { return "begin_streak" }

var ErrUnknownCommand = errors.New("unknown command")

// DecodeCommand builds a typed command from its wire name and JSON body. An
// empty body is accepted for every command.
func DecodeCommand(name string, body json.RawMessage) (Command, error) {
	var cmd Command
	switch name {
	case "click":
		var c Click
		if err := decodeBody(body, &c); err != nil {
			return nil, err
		}
		cmd = c
	case "purchase":
		var c Purchase
		if err := decodeBody(body, &c); err != nil {
			return nil, err
		}
		cmd = c
	case "request_full_state":
		cmd = RequestFullState{}
	case "sync_cycle_progress":
		var c SyncCycleProgress
		if err := decodeBody(body, &c); err != nil {
			return nil, err
		}
		cmd = c
	case "streak_ended":
		var c StreakEnded
		if err := decodeBody(body, &c); err != nil {
			return nil, err
		}
		cmd = c
	case "begin_streak":
		cmd = BeginStreak{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return cmd, nil
}

func decodeBody(body json.RawMessage, dst any) error {
	if len(body) == 0 || string(body) == "null" {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return nil
}

var ErrInvalidCommand = errors.New("invalid command")
