package domain

import "time"

// Proposal statuses. A proposal moves PENDING -> APPROVED|REJECTED -> EXECUTED.
const (
	ProposalPending  = "PENDING"
	ProposalApproved = "APPROVED"
	ProposalRejected = "REJECTED"
	ProposalExecuted = "EXECUTED"
)

// BacklogTask statuses.
const (
	TaskPending         = "PENDING"
	TaskConfirmed       = "CONFIRMED"
	TaskDeveloping      = "DEVELOPING"
	TaskCompleted       = "COMPLETED"
	TaskValidationError = "VALIDATION_ERROR"
	TaskBackupFailed    = "BACKUP_FAILED"
	TaskDeployFailed    = "DEPLOY_FAILED"
)

// Proposal is an agent-authored suggestion to change another agent's
// operating instruction. Mutated only by governance.
type Proposal struct {
	ID                  string
	AgentRole           string
	ProposedInstruction string
	Reason              string
	NeedsFollowup       bool
	Status              string
	CreatedAt           time.Time
}

// BacklogTask is one unit of engineering work consumed by the deployment
// engine. At most one task may reference a given source proposal.
type BacklogTask struct {
	ID               string
	Title            string
	Detail           string
	AffectedTarget   string
	Priority         int
	Status           string
	SourceProposalID string
	CreatedAt        time.Time
}

// Backup is the durable pre-image of an artifact about to be mutated.
type Backup struct {
	TaskID    string
	Content   string
	CreatedAt time.Time
}

// FaultRecord is one entry in a run's append-only failure log.
type FaultRecord struct {
	Stage     string
	Target    string
	Message   string
	Timestamp time.Time
}

// RawItem is one collected content item for a topic.
type RawItem struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Source    string `json:"source,omitempty"`
	Published string `json:"published,omitempty"`
}

// Brief is the structured output of one analyst call.
type Brief struct {
	Summary string   `json:"summary"`
	Points  []string `json:"points"`
	Deep    []string `json:"deep"`
}

// ItemSummary is one element of a batch summarization result, keyed back to
// its input item by Index.
type ItemSummary struct {
	Index     int    `json:"index"`
	Summary   string `json:"summary"`
	Impact    string `json:"impact"`
	Sentiment string `json:"sentiment"`
}

// AnalyzedItem is a raw item enriched with its per-item summary, sentiment
// and the publisher's trust score (0-100).
type AnalyzedItem struct {
	RawItem
	Topic      string `json:"topic"`
	Summary    string `json:"summary"`
	Impact     string `json:"impact"`
	Sentiment  string `json:"sentiment,omitempty"`
	TrustScore int    `json:"trust_score,omitempty"`
}

// TopicResult bundles everything computed for one (topic, day). This is the
// unit the cache stores and the dispatcher aggregates.
type TopicResult struct {
	Topic           string         `json:"topic"`
	BusinessBrief   Brief          `json:"business_brief"`
	SecuritiesBrief Brief          `json:"securities_brief"`
	PlanningBrief   Brief          `json:"planning_brief"`
	Items           []AnalyzedItem `json:"items"`
	FromCache       bool           `json:"-"`
	Degraded        bool           `json:"degraded,omitempty"`
}

// Report is the per-consumer aggregate for one day.
type Report struct {
	ID         string
	ConsumerID string
	Day        string
	ByTopic    map[string]TopicResult
	HRProposal string
	EmailSent  bool
	CreatedAt  time.Time
}

// Consumer is one registered report recipient.
type Consumer struct {
	ID     string   `yaml:"id"`
	Email  string   `yaml:"email"`
	Topics []string `yaml:"topics"`
}

// UsageRecord is one best-effort cost/usage entry for a generative call.
type UsageRecord struct {
	Role      string
	Model     string
	Attempt   int
	OK        bool
	CostUSD   float64
	Timestamp time.Time
}

// Day formats t as the canonical cache/report day key.
func Day(t time.Time) string {
	return t.Format("2006-01-02")
}
