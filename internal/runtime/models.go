package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drewfead/hermes/internal/executil"
)

// Model is one entry from the runtime's model catalog.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DisplayName returns the human label, falling back to the id.
func (m Model) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// ListModels queries the runtime binary for available models via a
// short-lived out-of-band invocation. No session state is touched. Any
// failure maps to ErrModelListUnavailable.
func ListModels(ctx context.Context, command string) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd, err := executil.CommandContext(ctx, command, "models", "--json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelListUnavailable, err)
	}

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelListUnavailable, err)
	}

	var models []Model
	if err := json.Unmarshal(out, &models); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrModelListUnavailable, err)
	}
	return models, nil
}
