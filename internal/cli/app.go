package cli

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sovereign/internal/agents"
	"sovereign/internal/collect"
	"sovereign/internal/config"
	"sovereign/internal/deploy"
	"sovereign/internal/dispatch"
	"sovereign/internal/faults"
	"sovereign/internal/governance"
	"sovereign/internal/invoke"
	"sovereign/internal/llm"
	"sovereign/internal/notify"
	"sovereign/internal/store"
	"sovereign/internal/summarize"
	"sovereign/internal/vcs"
)

func newBatcher(inv *invoke.Invoker, agentSet map[string]invoke.Agent) *summarize.Batcher {
	agent, ok := agentSet[config.RoleSummary]
	if !ok {
		agent = invoke.Agent{Role: config.RoleSummary}
	}
	return &summarize.Batcher{Inv: inv, Agent: agent}
}

// app holds the fully wired engine for one command invocation. Every run
// builds a fresh one and closes it on exit.
type app struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	db       *sql.DB
	store    *store.Store
	inv      *invoke.Invoker
	agents   map[string]invoke.Agent
	notifier notify.Notifier
	disp     *dispatch.Dispatcher
	gov      *governance.Engine
	dep      *deploy.Engine
	reporter *faults.Reporter
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*app, error) {
	provider, err := llm.New(llm.Config{
		Backend:    cfg.LLM.Backend,
		Model:      cfg.LLM.Model,
		OllamaHost: cfg.LLM.OllamaHost,
	})
	if err != nil {
		return nil, fmt.Errorf("init llm backend: %w", err)
	}

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	st := store.New(db, log)

	inv := invoke.New(provider, log)
	if cfg.LLM.Attempts > 0 {
		inv.Attempts = cfg.LLM.Attempts
	}
	if cfg.LLM.BackoffSec > 0 {
		inv.Backoff = time.Duration(cfg.LLM.BackoffSec) * time.Second
	}
	inv.CostPerCall = cfg.LLM.CostUSD
	inv.Usage = st

	agentSet, err := agents.Load(ctx, cfg, st)
	if err != nil {
		db.Close()
		return nil, err
	}

	var notifier notify.Notifier
	if cfg.Mail.Host != "" {
		notifier = notify.WithRetry(&notify.SMTPNotifier{
			Host: cfg.Mail.Host,
			Port: cfg.Mail.Port,
			From: cfg.Mail.From,
		}, cfg.Mail.Attempts, log)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		store:    st,
		inv:      inv,
		agents:   agentSet,
		notifier: notifier,
		reporter: faults.NewReporter(notifier, cfg.Mail.Admin, log),
	}
	a.disp = &dispatch.Dispatcher{
		Cfg:      cfg,
		Store:    st,
		Inv:      inv,
		Source:   collect.NewRSSSource(cfg.Feeds.Template, cfg.Feeds.VideoTemplate, cfg.Feeds.MaxItems),
		Batch:    newBatcher(inv, agentSet),
		Notifier: notifier,
		Agents:   agentSet,
		Log:      log,
	}
	a.gov = &governance.Engine{Cfg: cfg, Store: st, Inv: inv, Agents: agentSet, Log: log}
	a.dep = &deploy.Engine{
		Cfg:      cfg,
		Store:    st,
		Inv:      inv,
		Agents:   agentSet,
		VCS:      vcs.NewGit(cfg.Deploy.RepoDir, cfg.Deploy.PushRemote),
		Notifier: notifier,
		Log:      log,
	}
	return a, nil
}

// syncSnapshot commits the exported day artifact when configured. A sync
// failure is operational noise, never a run failure.
func (a *app) syncSnapshot(day string) {
	if !a.cfg.Snapshots.Sync {
		return
	}
	g := vcs.NewGit(a.cfg.Deploy.RepoDir, a.cfg.Deploy.PushRemote)
	if err := g.CommitPush(fmt.Sprintf("Update data snapshot for %s", day)); err != nil {
		a.log.Warnf("snapshot sync failed: %v", err)
	}
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}
