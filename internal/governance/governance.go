// Package governance runs the approval workflow for agent-proposed
// instruction changes. Proposals move PENDING -> APPROVED or REJECTED by a
// human reviewer, or auto-approve at the daily deadline, and approved
// proposals are executed exactly once.
package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sovereign/internal/config"
	"sovereign/internal/domain"
	"sovereign/internal/invoke"
	"sovereign/internal/store"
)

type Engine struct {
	Cfg    *config.Config
	Store  *store.Store
	Inv    *invoke.Invoker
	Agents map[string]invoke.Agent
	Log    *zap.SugaredLogger
}

// ApplyDeadline auto-approves every pending proposal once the configured
// cutoff for the day has passed. Before the cutoff it is a no-op.
func (e *Engine) ApplyDeadline(ctx context.Context, now time.Time) (int, error) {
	deadline, err := e.Cfg.DeadlineFor(now)
	if err != nil {
		return 0, err
	}
	if now.Before(deadline) {
		return 0, nil
	}

	pending, err := e.Store.ListProposalsByStatus(ctx, domain.ProposalPending)
	if err != nil {
		return 0, fmt.Errorf("list pending proposals: %w", err)
	}
	approved := 0
	for _, p := range pending {
		if err := e.Store.UpdateProposalStatus(ctx, p.ID, domain.ProposalApproved); err != nil {
			e.Log.Warnf("[governance] auto-approve %s failed: %v", p.ID, err)
			continue
		}
		e.Log.Infof("[governance] proposal %s auto-approved at deadline", p.ID)
		approved++
	}
	return approved, nil
}

// ExecuteApproved applies every approved proposal: the role instruction is
// overwritten (last write wins), a followup backlog task is created when the
// proposal requests one, and the proposal is marked executed. Safe to call
// repeatedly; an executed proposal is never picked up again and the followup
// task is deduplicated by its source proposal.
func (e *Engine) ExecuteApproved(ctx context.Context) (int, error) {
	approved, err := e.Store.ListProposalsByStatus(ctx, domain.ProposalApproved)
	if err != nil {
		return 0, fmt.Errorf("list approved proposals: %w", err)
	}

	executed := 0
	for _, p := range approved {
		if err := e.executeOne(ctx, p); err != nil {
			e.Log.Warnf("[governance] execute %s failed: %v", p.ID, err)
			continue
		}
		executed++
	}
	return executed, nil
}

func (e *Engine) executeOne(ctx context.Context, p domain.Proposal) error {
	if err := e.Store.SetInstruction(ctx, p.AgentRole, p.ProposedInstruction); err != nil {
		return fmt.Errorf("set instruction for %s: %w", p.AgentRole, err)
	}

	if p.NeedsFollowup {
		if err := e.ensureFollowupTask(ctx, p); err != nil {
			return err
		}
	}

	if err := e.Store.UpdateProposalStatus(ctx, p.ID, domain.ProposalExecuted); err != nil {
		return fmt.Errorf("mark executed: %w", err)
	}
	e.Log.Infof("[governance] proposal %s executed for role %s", p.ID, p.AgentRole)
	return nil
}

// ensureFollowupTask creates at most one backlog task per proposal. The check
// before insert handles the common rerun; the unique index on the source
// proposal column closes the race.
func (e *Engine) ensureFollowupTask(ctx context.Context, p domain.Proposal) error {
	exists, err := e.Store.TaskBySourceProposal(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("check followup task: %w", err)
	}
	if exists {
		return nil
	}

	task := domain.BacklogTask{
		ID:               uuid.New().String()[:8],
		Title:            fmt.Sprintf("Followup for %s instruction change", p.AgentRole),
		Detail:           p.Reason,
		Priority:         1,
		Status:           domain.TaskPending,
		SourceProposalID: p.ID,
		CreatedAt:        time.Now(),
	}
	if err := e.Store.InsertTask(ctx, task); err != nil {
		if errors.Is(err, store.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("insert followup task: %w", err)
	}
	e.Log.Infof("[governance] followup task %s created for proposal %s", task.ID, p.ID)
	return nil
}

type critiqueResponse struct {
	Proposals []struct {
		Role          string `json:"role"`
		Instruction   string `json:"instruction"`
		Reason        string `json:"reason"`
		NeedsFollowup bool   `json:"needs_followup"`
	} `json:"proposals"`
}

var critiqueSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"proposals": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"role":           map[string]any{"type": "string"},
					"instruction":    map[string]any{"type": "string"},
					"reason":         map[string]any{"type": "string"},
					"needs_followup": map[string]any{"type": "boolean"},
				},
				"required": []string{"role", "instruction", "reason"},
			},
		},
	},
	"required": []string{"proposals"},
}

// SelfCritique asks the critic agent to review the run and files the
// resulting instruction changes as pending proposals. A failed critique only
// costs this run its proposals; it never fails the caller.
func (e *Engine) SelfCritique(ctx context.Context, runContext string) int {
	agent, ok := e.Agents[config.RoleCritic]
	if !ok {
		agent = invoke.Agent{Role: config.RoleCritic}
	}

	prompt := "Review this run and propose instruction improvements for the analyst agents. " +
		"Only propose changes you can justify from the run output.\n\n" + runContext

	var resp critiqueResponse
	if err := e.Inv.InvokeJSON(ctx, agent, prompt, critiqueSchema, &resp); err != nil {
		e.Log.Warnf("[governance] self-critique failed: %v", err)
		return 0
	}

	filed := 0
	for _, cand := range resp.Proposals {
		role := strings.TrimSpace(cand.Role)
		instruction := strings.TrimSpace(cand.Instruction)
		if role == "" || instruction == "" {
			continue
		}
		p := domain.Proposal{
			ID:                  uuid.New().String()[:8],
			AgentRole:           role,
			ProposedInstruction: instruction,
			Reason:              strings.TrimSpace(cand.Reason),
			NeedsFollowup:       cand.NeedsFollowup,
			Status:              domain.ProposalPending,
			CreatedAt:           time.Now(),
		}
		if err := e.Store.InsertProposal(ctx, p); err != nil {
			e.Log.Warnf("[governance] filing proposal for %s failed: %v", role, err)
			continue
		}
		filed++
	}
	return filed
}

// ParseTagged extracts a proposal from the legacy free-text form, where the
// model wraps sections in [PROPOSAL] and [REASON] tags instead of JSON.
func ParseTagged(role, raw string) (domain.Proposal, error) {
	instruction, ok := between(raw, "[PROPOSAL]", "[REASON]")
	if !ok {
		return domain.Proposal{}, fmt.Errorf("no [PROPOSAL] section in response")
	}
	reason := afterTag(raw, "[REASON]")
	if strings.TrimSpace(instruction) == "" {
		return domain.Proposal{}, fmt.Errorf("empty [PROPOSAL] section")
	}
	return domain.Proposal{
		ID:                  uuid.New().String()[:8],
		AgentRole:           role,
		ProposedInstruction: strings.TrimSpace(instruction),
		Reason:              strings.TrimSpace(reason),
		Status:              domain.ProposalPending,
		CreatedAt:           time.Now(),
	}, nil
}

func between(s, open, close string) (string, bool) {
	i := strings.Index(s, open)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(open):]
	if j := strings.Index(rest, close); j >= 0 {
		return rest[:j], true
	}
	return rest, true
}

func afterTag(s, tag string) string {
	i := strings.Index(s, tag)
	if i < 0 {
		return ""
	}
	return s[i+len(tag):]
}
