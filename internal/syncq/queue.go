package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Command is one game command held back while the API was unreachable.
type Command struct {
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// NewCommand stamps a fresh idempotency key onto a queued command.
func NewCommand(typ string, data any) (Command, error) {
	cmd := Command{Type: typ, IdempotencyKey: uuid.NewString()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Command{}, err
		}
		cmd.Data = raw
	}
	return cmd, nil
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".idlectl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Clear drops every queued command.
func Clear() error {
	return Save([]Command{})
}
