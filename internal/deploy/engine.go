// Package deploy is the self-modification engine. It takes one confirmed
// backlog task, asks the developer agent to rewrite the affected artifact,
// and publishes the result only after the original is backed up and the
// candidate passes validation. The live artifact is never left in a state
// that was not either its pre-image or a validated candidate.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"sovereign/internal/config"
	"sovereign/internal/domain"
	"sovereign/internal/invoke"
	"sovereign/internal/notify"
	"sovereign/internal/store"
	"sovereign/internal/vcs"
)

// ErrNoTask reports that no backlog task is ready for deployment.
var ErrNoTask = errors.New("no deployable task")

type Engine struct {
	Cfg      *config.Config
	Store    *store.Store
	Inv      *invoke.Invoker
	Agents   map[string]invoke.Agent
	VCS      vcs.Store
	Notifier notify.Notifier
	Log      *zap.SugaredLogger
	Now      func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Run deploys one task. With an explicit taskID it deploys that task
// regardless of queue order; otherwise it picks the highest-priority
// confirmed task. ErrNoTask means the queue is empty.
func (e *Engine) Run(ctx context.Context, taskID string) error {
	task, err := e.selectTask(ctx, taskID)
	if err != nil {
		return err
	}
	e.Log.Infof("[deploy] task %s selected: %s", task.ID, task.Title)

	if err := e.Store.UpdateTaskStatus(ctx, task.ID, domain.TaskDeveloping); err != nil {
		return fmt.Errorf("mark developing: %w", err)
	}
	return e.deploy(ctx, task)
}

func (e *Engine) selectTask(ctx context.Context, taskID string) (domain.BacklogTask, error) {
	if taskID != "" {
		task, err := e.Store.GetTask(ctx, taskID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.BacklogTask{}, fmt.Errorf("%w: task %s", ErrNoTask, taskID)
		}
		if err != nil {
			return domain.BacklogTask{}, err
		}
		// Explicit selection bypasses queue order, never the lifecycle: only
		// a confirmed or in-flight task may be consumed.
		if task.Status != domain.TaskConfirmed && task.Status != domain.TaskDeveloping {
			return domain.BacklogTask{}, fmt.Errorf("%w: task %s is %s", ErrNoTask, taskID, task.Status)
		}
		return task, nil
	}
	task, err := e.Store.NextDeployableTask(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return domain.BacklogTask{}, ErrNoTask
	}
	return task, err
}

func (e *Engine) deploy(ctx context.Context, task domain.BacklogTask) error {
	artifact := task.AffectedTarget
	if artifact == "" {
		artifact = e.Cfg.Deploy.PrimaryArtifact
	}

	preImage, err := e.VCS.Read(artifact)
	if err != nil {
		return e.fail(ctx, task, domain.TaskDeployFailed, fmt.Errorf("read %s: %w", artifact, err))
	}

	// Backup gates everything that follows. Without a durable pre-image no
	// mutation happens and the artifact stays exactly as it was.
	if err := e.backup(ctx, task, artifact, preImage); err != nil {
		return e.fail(ctx, task, domain.TaskBackupFailed, err)
	}

	candidate, err := e.develop(ctx, task, artifact, preImage)
	if err != nil {
		return e.fail(ctx, task, domain.TaskDeployFailed, err)
	}

	validator := &Validator{
		Primary:         e.Cfg.Deploy.PrimaryArtifact,
		MinLines:        e.Cfg.Deploy.MinLines,
		RequiredSymbols: e.Cfg.Deploy.RequiredSymbols,
	}
	if err := validator.Validate(artifact, candidate); err != nil {
		e.Log.Warnf("[deploy] task %s rejected by validation: %v", task.ID, err)
		return e.fail(ctx, task, domain.TaskValidationError, err)
	}

	if candidate == preImage {
		e.Log.Infof("[deploy] task %s produced no change, nothing to publish", task.ID)
		return e.complete(ctx, task, artifact, "no change required")
	}

	if err := e.publish(task, artifact, candidate, preImage); err != nil {
		return e.fail(ctx, task, domain.TaskDeployFailed, err)
	}
	return e.complete(ctx, task, artifact, "published")
}

// backup stores the pre-image in the database and drops a best-effort
// timestamped copy on disk. Only the database copy is load-bearing.
func (e *Engine) backup(ctx context.Context, task domain.BacklogTask, artifact, preImage string) error {
	b := domain.Backup{TaskID: task.ID, Content: preImage, CreatedAt: e.now()}
	if err := e.Store.InsertBackup(ctx, b); err != nil {
		return fmt.Errorf("backup %s: %w", artifact, err)
	}

	if dir := e.Cfg.Deploy.BackupDir; dir != "" {
		name := fmt.Sprintf("%s.%s.bak", filepath.Base(artifact), e.now().Format("20060102T150405"))
		if err := os.MkdirAll(dir, 0o755); err == nil {
			if werr := os.WriteFile(filepath.Join(dir, name), []byte(preImage), 0o644); werr != nil {
				e.Log.Warnf("[deploy] local backup copy failed: %v", werr)
			}
		}
	}
	return nil
}

func (e *Engine) develop(ctx context.Context, task domain.BacklogTask, artifact, preImage string) (string, error) {
	agent, ok := e.Agents[config.RoleDeveloper]
	if !ok {
		agent = invoke.Agent{Role: config.RoleDeveloper}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n%s\n\n", task.Title, task.Detail)
	fmt.Fprintf(&sb, "Rewrite the file %s to satisfy the task. Output the complete new file content.\n\n", artifact)
	fmt.Fprintf(&sb, "Current content:\n```\n%s\n```\n", preImage)

	raw := e.Inv.Invoke(ctx, agent, sb.String())
	if raw == invoke.Degraded {
		return "", fmt.Errorf("developer agent unavailable for task %s", task.ID)
	}
	return ExtractCode(raw), nil
}

func (e *Engine) publish(task domain.BacklogTask, artifact, candidate, preImage string) error {
	if err := e.VCS.Write(artifact, candidate); err != nil {
		// A failed write may have truncated the artifact. Put the pre-image
		// back before reporting.
		if rerr := e.VCS.Write(artifact, preImage); rerr != nil {
			e.Log.Errorf("[deploy] restore of %s failed after write error: %v", artifact, rerr)
		}
		return fmt.Errorf("write %s: %w", artifact, err)
	}
	message := fmt.Sprintf("Apply backlog task %s: %s", task.ID, task.Title)
	if err := e.VCS.CommitPush(message); err != nil {
		// The working copy holds an unpublished mutation. Put the pre-image
		// back so the next run starts from the last known good state.
		if rerr := e.VCS.Write(artifact, preImage); rerr != nil {
			e.Log.Errorf("[deploy] restore of %s failed after publish error: %v", artifact, rerr)
		}
		return fmt.Errorf("publish %s: %w", artifact, err)
	}
	return nil
}

func (e *Engine) complete(ctx context.Context, task domain.BacklogTask, artifact, outcome string) error {
	if err := e.Store.UpdateTaskStatus(ctx, task.ID, domain.TaskCompleted); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	e.Log.Infof("[deploy] task %s completed (%s)", task.ID, outcome)
	e.notifyAdmin(ctx,
		fmt.Sprintf("[sovereign] deploy completed: %s", task.ID),
		fmt.Sprintf("Task %q was applied to %s (%s).", task.Title, artifact, outcome))
	return nil
}

// fail records the terminal status and reports it. The returned error is nil:
// a failed deployment is a handled outcome for the caller, visible in the
// task status and the admin notification.
func (e *Engine) fail(ctx context.Context, task domain.BacklogTask, status string, cause error) error {
	e.Log.Warnf("[deploy] task %s failed (%s): %v", task.ID, status, cause)
	if err := e.Store.UpdateTaskStatus(ctx, task.ID, status); err != nil {
		e.Log.Errorf("[deploy] recording status %s for task %s failed: %v", status, task.ID, err)
	}
	e.notifyAdmin(ctx,
		fmt.Sprintf("[sovereign] deploy failed: %s", task.ID),
		fmt.Sprintf("Task %q ended with status %s: %v", task.Title, status, cause))
	return nil
}

func (e *Engine) notifyAdmin(ctx context.Context, subject, body string) {
	if e.Notifier == nil || e.Cfg.Mail.Admin == "" {
		return
	}
	if err := e.Notifier.Send(ctx, e.Cfg.Mail.Admin, subject, body); err != nil {
		e.Log.Warnf("[deploy] admin notification failed: %v", err)
	}
}
