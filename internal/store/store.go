package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sovereign/internal/domain"
)

type Store struct {
	DB  *sql.DB
	Log *zap.SugaredLogger
	Now func() time.Time
}

func New(db *sql.DB, log *zap.SugaredLogger) *Store {
	return &Store{DB: db, Log: log, Now: time.Now}
}

func (s *Store) now() string {
	if s.Now != nil {
		return s.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// --- instructions -----------------------------------------------------------

// GetInstruction returns the stored instruction override for a role.
func (s *Store) GetInstruction(ctx context.Context, role string) (string, error) {
	var out string
	err := s.DB.QueryRowContext(ctx, `SELECT instruction FROM instructions WHERE role=?`, role).Scan(&out)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return out, err
}

// SetInstruction overwrites a role's instruction. Last write wins.
func (s *Store) SetInstruction(ctx context.Context, role, instruction string) error {
	return s.withRetry(ctx, "set instruction", func() error {
		_, err := s.DB.ExecContext(ctx,
			`INSERT INTO instructions(role,instruction,updated_at) VALUES (?,?,?)
			 ON CONFLICT(role) DO UPDATE SET instruction=excluded.instruction, updated_at=excluded.updated_at`,
			role, instruction, s.now())
		return err
	})
}

// --- proposals --------------------------------------------------------------

func (s *Store) InsertProposal(ctx context.Context, p domain.Proposal) error {
	return s.withRetry(ctx, "insert proposal", func() error {
		_, err := s.DB.ExecContext(ctx,
			`INSERT INTO proposals(id,agent_role,proposed_instruction,reason,needs_followup,status,created_at) VALUES (?,?,?,?,?,?,?)`,
			p.ID, p.AgentRole, p.ProposedInstruction, p.Reason, boolInt(p.NeedsFollowup), p.Status, s.now())
		return err
	})
}

func (s *Store) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id,agent_role,proposed_instruction,reason,needs_followup,status,created_at FROM proposals WHERE id=?`, id)
	return scanProposal(row)
}

func (s *Store) ListProposalsByStatus(ctx context.Context, status string) ([]domain.Proposal, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,agent_role,proposed_instruction,reason,needs_followup,status,created_at FROM proposals WHERE status=? ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Proposal
	for rows.Next() {
		var p domain.Proposal
		var followup int
		var created string
		if err := rows.Scan(&p.ID, &p.AgentRole, &p.ProposedInstruction, &p.Reason, &followup, &p.Status, &created); err != nil {
			return nil, err
		}
		p.NeedsFollowup = followup != 0
		p.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProposalStatus(ctx context.Context, id, status string) error {
	return s.withRetry(ctx, "update proposal status", func() error {
		res, err := s.DB.ExecContext(ctx, `UPDATE proposals SET status=? WHERE id=?`, status, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanProposal(row *sql.Row) (domain.Proposal, error) {
	var p domain.Proposal
	var followup int
	var created string
	err := row.Scan(&p.ID, &p.AgentRole, &p.ProposedInstruction, &p.Reason, &followup, &p.Status, &created)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.NeedsFollowup = followup != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return p, nil
}

// --- backlog tasks ----------------------------------------------------------

// InsertTask inserts a backlog task. When the task carries a source proposal
// id the partial unique index enforces at-most-one task per proposal; a
// duplicate insert returns ErrDuplicateTask.
func (s *Store) InsertTask(ctx context.Context, t domain.BacklogTask) error {
	return s.withRetry(ctx, "insert task", func() error {
		_, err := s.DB.ExecContext(ctx,
			`INSERT INTO backlog_tasks(id,title,detail,affected_target,priority,status,source_proposal_id,created_at) VALUES (?,?,?,?,?,?,?,?)`,
			t.ID, t.Title, t.Detail, t.AffectedTarget, t.Priority, t.Status, nullable(t.SourceProposalID), s.now())
		if err != nil && isUniqueViolation(err) {
			return ErrDuplicateTask
		}
		return err
	})
}

// TaskBySourceProposal reports whether a task already references proposalID.
func (s *Store) TaskBySourceProposal(ctx context.Context, proposalID string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM backlog_tasks WHERE source_proposal_id=?`, proposalID).Scan(&n)
	return n > 0, err
}

func (s *Store) GetTask(ctx context.Context, id string) (domain.BacklogTask, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id,title,detail,affected_target,priority,status,COALESCE(source_proposal_id,''),created_at FROM backlog_tasks WHERE id=?`, id)
	return scanTask(row)
}

// NextDeployableTask selects the single highest-priority task that is
// CONFIRMED or DEVELOPING. ErrNotFound when the backlog has none.
func (s *Store) NextDeployableTask(ctx context.Context) (domain.BacklogTask, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id,title,detail,affected_target,priority,status,COALESCE(source_proposal_id,''),created_at
		 FROM backlog_tasks WHERE status IN (?,?) ORDER BY priority DESC, created_at LIMIT 1`,
		domain.TaskConfirmed, domain.TaskDeveloping)
	return scanTask(row)
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id, status string) error {
	return s.withRetry(ctx, "update task status", func() error {
		res, err := s.DB.ExecContext(ctx, `UPDATE backlog_tasks SET status=? WHERE id=?`, status, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanTask(row *sql.Row) (domain.BacklogTask, error) {
	var t domain.BacklogTask
	var created string
	err := row.Scan(&t.ID, &t.Title, &t.Detail, &t.AffectedTarget, &t.Priority, &t.Status, &t.SourceProposalID, &created)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return t, nil
}

// --- backups ----------------------------------------------------------------

// InsertBackup durably stores the pre-image for a task. The deployment engine
// must not touch the artifact until this has returned nil.
func (s *Store) InsertBackup(ctx context.Context, b domain.Backup) error {
	return s.withRetry(ctx, "insert backup", func() error {
		_, err := s.DB.ExecContext(ctx,
			`INSERT INTO backups(task_id,content,created_at) VALUES (?,?,?)`,
			b.TaskID, b.Content, s.now())
		return err
	})
}

// LatestBackup returns the most recent backup for a task.
func (s *Store) LatestBackup(ctx context.Context, taskID string) (domain.Backup, error) {
	var b domain.Backup
	var created string
	err := s.DB.QueryRowContext(ctx,
		`SELECT task_id,content,created_at FROM backups WHERE task_id=? ORDER BY id DESC LIMIT 1`, taskID).
		Scan(&b.TaskID, &b.Content, &created)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return b, nil
}

// --- topic cache ------------------------------------------------------------

// GetTopicCache returns the cached result bundle for (topic, day).
func (s *Store) GetTopicCache(ctx context.Context, topic, day string) (domain.TopicResult, error) {
	var payload string
	err := s.DB.QueryRowContext(ctx,
		`SELECT payload FROM topic_cache WHERE topic=? AND day=?`, topic, day).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.TopicResult{}, ErrNotFound
	}
	if err != nil {
		return domain.TopicResult{}, err
	}
	var result domain.TopicResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return domain.TopicResult{}, fmt.Errorf("corrupt cache entry %s/%s: %w", topic, day, err)
	}
	result.FromCache = true
	return result, nil
}

// PutTopicCache writes through the freshly computed bundle.
func (s *Store) PutTopicCache(ctx context.Context, day string, result domain.TopicResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "put topic cache", func() error {
		_, err := s.DB.ExecContext(ctx,
			`INSERT INTO topic_cache(topic,day,payload,created_at) VALUES (?,?,?,?)
			 ON CONFLICT(topic,day) DO UPDATE SET payload=excluded.payload, created_at=excluded.created_at`,
			result.Topic, day, string(payload), s.now())
		return err
	})
}

// --- reports ----------------------------------------------------------------

func (s *Store) UpsertReport(ctx context.Context, r domain.Report) error {
	content, err := json.Marshal(map[string]any{
		"by_topic":    r.ByTopic,
		"hr_proposal": r.HRProposal,
	})
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "upsert report", func() error {
		_, err := s.DB.ExecContext(ctx,
			`INSERT INTO reports(id,consumer_id,day,content,email_sent,created_at) VALUES (?,?,?,?,?,?)
			 ON CONFLICT(consumer_id,day) DO UPDATE SET content=excluded.content`,
			r.ID, r.ConsumerID, r.Day, string(content), boolInt(r.EmailSent), s.now())
		return err
	})
}

// ReportEmailSent reports whether the consumer's report for day was already
// delivered. Drives the skip at the top of the briefing loop.
func (s *Store) ReportEmailSent(ctx context.Context, consumerID, day string) (bool, error) {
	var sent int
	err := s.DB.QueryRowContext(ctx,
		`SELECT email_sent FROM reports WHERE consumer_id=? AND day=?`, consumerID, day).Scan(&sent)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return sent != 0, err
}

// MarkEmailSent flips the delivery flag. Only called after a confirmed send.
func (s *Store) MarkEmailSent(ctx context.Context, consumerID, day string) error {
	return s.withRetry(ctx, "mark email sent", func() error {
		_, err := s.DB.ExecContext(ctx,
			`UPDATE reports SET email_sent=1 WHERE consumer_id=? AND day=?`, consumerID, day)
		return err
	})
}

// --- usage ------------------------------------------------------------------

// RecordUsage appends one cost/usage row. Best effort: errors are logged and
// swallowed so accounting can never fail a generative call.
func (s *Store) RecordUsage(rec domain.UsageRecord) {
	_, err := s.DB.Exec(
		`INSERT INTO usage_log(role,model,attempt,ok,cost_usd,ts) VALUES (?,?,?,?,?,?)`,
		rec.Role, rec.Model, rec.Attempt, boolInt(rec.OK), rec.CostUSD, rec.Timestamp.UTC().Format(time.RFC3339))
	if err != nil && s.Log != nil {
		s.Log.Debugf("usage record dropped: %v", err)
	}
}

// UsageTotals returns call count and estimated cost recorded since ts.
func (s *Store) UsageTotals(ctx context.Context, since time.Time) (int, float64, error) {
	var calls int
	var cost float64
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(cost_usd),0) FROM usage_log WHERE ts>=?`,
		since.UTC().Format(time.RFC3339)).Scan(&calls, &cost)
	return calls, cost, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
