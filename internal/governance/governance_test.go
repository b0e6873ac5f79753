package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sovereign/internal/config"
	"sovereign/internal/domain"
	"sovereign/internal/invoke"
	"sovereign/internal/logging"
	"sovereign/internal/store"
)

type scriptedProvider struct {
	response string
	err      error
	calls    int
}

func (p *scriptedProvider) DefaultModel() string                  { return "fake" }
func (p *scriptedProvider) AllowedModelOrDefault(m string) string { return "fake" }

func (p *scriptedProvider) Generate(ctx context.Context, prompt, model string) (string, error) {
	p.calls++
	return p.response, p.err
}

func (p *scriptedProvider) GenerateJSON(ctx context.Context, prompt, model string, schema any) (string, error) {
	p.calls++
	return p.response, p.err
}

func newTestEngine(t *testing.T, provider *scriptedProvider) *Engine {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Governance.Deadline = "18:00"
	cfg.Governance.Timezone = "UTC"

	inv := invoke.New(provider, logging.Nop())
	inv.Sleep = func(time.Duration) {}

	return &Engine{
		Cfg:    cfg,
		Store:  store.New(db, nil),
		Inv:    inv,
		Agents: map[string]invoke.Agent{},
		Log:    logging.Nop(),
	}
}

func pendingProposal(id, role string, followup bool) domain.Proposal {
	return domain.Proposal{
		ID:                  id,
		AgentRole:           role,
		ProposedInstruction: "new instruction for " + role,
		Reason:              "observed weak output",
		NeedsFollowup:       followup,
		Status:              domain.ProposalPending,
		CreatedAt:           time.Now(),
	}
}

func TestDeadlineAutoApprovalAndExecution(t *testing.T) {
	e := newTestEngine(t, &scriptedProvider{})
	ctx := context.Background()

	require.NoError(t, e.Store.InsertProposal(ctx, pendingProposal("p1", config.RoleBusiness, false)))
	require.NoError(t, e.Store.InsertProposal(ctx, pendingProposal("p2", config.RolePlanning, true)))

	afterCutoff := time.Date(2026, 8, 30, 19, 0, 0, 0, time.UTC)
	approved, err := e.ApplyDeadline(ctx, afterCutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, approved)

	executed, err := e.ExecuteApproved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, executed)

	// Instructions were overwritten for both roles.
	got, err := e.Store.GetInstruction(ctx, config.RoleBusiness)
	require.NoError(t, err)
	assert.Equal(t, "new instruction for "+config.RoleBusiness, got)

	// Only the followup proposal produced a backlog task.
	has1, err := e.Store.TaskBySourceProposal(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, has1)
	has2, err := e.Store.TaskBySourceProposal(ctx, "p2")
	require.NoError(t, err)
	assert.True(t, has2)

	for _, id := range []string{"p1", "p2"} {
		p, err := e.Store.GetProposal(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.ProposalExecuted, p.Status)
	}
}

func TestApplyDeadlineBeforeCutoffIsNoop(t *testing.T) {
	e := newTestEngine(t, &scriptedProvider{})
	ctx := context.Background()
	require.NoError(t, e.Store.InsertProposal(ctx, pendingProposal("p1", config.RoleBusiness, false)))

	beforeCutoff := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	approved, err := e.ApplyDeadline(ctx, beforeCutoff)
	require.NoError(t, err)
	assert.Zero(t, approved)

	p, err := e.Store.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalPending, p.Status)
}

func TestExecuteApprovedIsIdempotent(t *testing.T) {
	e := newTestEngine(t, &scriptedProvider{})
	ctx := context.Background()

	p := pendingProposal("p1", config.RoleSecurities, true)
	p.Status = domain.ProposalApproved
	require.NoError(t, e.Store.InsertProposal(ctx, p))

	first, err := e.ExecuteApproved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := e.ExecuteApproved(ctx)
	require.NoError(t, err)
	assert.Zero(t, second, "executed proposals must not be picked up again")

	// Even a forced re-execution creates no second task.
	require.NoError(t, e.Store.UpdateProposalStatus(ctx, "p1", domain.ProposalApproved))
	_, err = e.ExecuteApproved(ctx)
	require.NoError(t, err)

	exists, err := e.Store.TaskBySourceProposal(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSelfCritiqueFilesProposals(t *testing.T) {
	provider := &scriptedProvider{response: `{"proposals":[
		{"role":"BA","instruction":"be more specific about revenue drivers","reason":"vague output","needs_followup":false},
		{"role":"","instruction":"ignored","reason":"missing role"},
		{"role":"PM","instruction":"include a rollout timeline","reason":"plans lacked sequencing","needs_followup":true}
	]}`}
	e := newTestEngine(t, provider)

	filed := e.SelfCritique(context.Background(), "run output: topics degraded twice")
	assert.Equal(t, 2, filed, "blank role entries are dropped")

	pending, err := e.Store.ListProposalsByStatus(context.Background(), domain.ProposalPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSelfCritiqueFailureFilesNothing(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("503 backend overloaded")}
	e := newTestEngine(t, provider)

	filed := e.SelfCritique(context.Background(), "context")
	assert.Zero(t, filed)
	assert.Equal(t, 3, provider.calls, "transient failures are retried to the attempt bound")
}

func TestParseTagged(t *testing.T) {
	raw := "Some preamble.\n[PROPOSAL]Tighten the output format to three bullets.[REASON]Readers skim."
	p, err := ParseTagged(config.RoleBusiness, raw)
	require.NoError(t, err)
	assert.Equal(t, "Tighten the output format to three bullets.", p.ProposedInstruction)
	assert.Equal(t, "Readers skim.", p.Reason)
	assert.Equal(t, domain.ProposalPending, p.Status)

	_, err = ParseTagged(config.RoleBusiness, "no tags here")
	assert.Error(t, err)

	_, err = ParseTagged(config.RoleBusiness, "[PROPOSAL]   [REASON]why")
	assert.Error(t, err)
}
