// Package agents resolves the operating agents for a run: config defaults
// overlaid with instruction overrides applied through governance.
package agents

import (
	"context"
	"errors"

	"sovereign/internal/config"
	"sovereign/internal/invoke"
	"sovereign/internal/store"
)

// Load builds the run's agent set. Stored instruction overrides win over the
// config defaults; roles without overrides keep theirs.
func Load(ctx context.Context, cfg *config.Config, st *store.Store) (map[string]invoke.Agent, error) {
	out := make(map[string]invoke.Agent, len(cfg.Agents))
	for role, ac := range cfg.Agents {
		agent := invoke.Agent{Role: role, Instruction: ac.Instruction, Model: ac.Model}
		override, err := st.GetInstruction(ctx, role)
		switch {
		case err == nil:
			agent.Instruction = override
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, err
		}
		out[role] = agent
	}
	return out, nil
}
