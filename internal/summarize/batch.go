// Package summarize turns N per-item generation calls into one batched call,
// with deterministic repair and a per-item fallback path.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"sovereign/internal/domain"
	"sovereign/internal/invoke"
)

type Batcher struct {
	Inv   *invoke.Invoker
	Agent invoke.Agent
}

type batchResponse struct {
	Items []domain.ItemSummary `json:"items"`
}

var batchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"index":     map[string]any{"type": "integer"},
					"summary":   map[string]any{"type": "string"},
					"impact":    map[string]any{"type": "string"},
					"sentiment": map[string]any{"type": "string", "enum": []string{"positive", "neutral", "negative"}},
				},
				"required": []string{"index", "summary", "impact", "sentiment"},
			},
		},
	},
	"required": []string{"items"},
}

// Summarize issues one batched call for all items. The result always has
// exactly len(items) entries, index-aligned with the input. A non-nil error
// means total failure; the caller falls back to SummarizeEach.
func (b *Batcher) Summarize(ctx context.Context, items []domain.RawItem) ([]domain.ItemSummary, error) {
	if len(items) == 0 {
		return []domain.ItemSummary{}, nil
	}
	var resp batchResponse
	if err := b.Inv.InvokeJSON(ctx, b.Agent, buildBatchPrompt(items), batchSchema, &resp); err != nil {
		return nil, fmt.Errorf("batch summarize %d items: %w", len(items), err)
	}
	return Repair(resp.Items, len(items)), nil
}

// SummarizeEach is the slow path: one resilient call per item. It always
// produces output and never blocks the run.
func (b *Batcher) SummarizeEach(ctx context.Context, items []domain.RawItem) []domain.ItemSummary {
	out := make([]domain.ItemSummary, len(items))
	for i, item := range items {
		prompt := fmt.Sprintf("News item: %s\nReply with exactly one line: <summary> | <market impact> | <sentiment: positive, neutral or negative>", item.Title)
		line := b.Inv.Invoke(ctx, b.Agent, prompt)
		summary, impact, sentiment := splitSummaryLine(line)
		out[i] = domain.ItemSummary{Index: i, Summary: summary, Impact: impact, Sentiment: sentiment}
	}
	return out
}

// Repair normalizes a batch response to exactly n entries. Entries are
// re-keyed by their explicit index field; anything out of range is dropped
// and missing indexes become empty placeholders.
func Repair(entries []domain.ItemSummary, n int) []domain.ItemSummary {
	out := make([]domain.ItemSummary, n)
	for i := range out {
		out[i] = domain.ItemSummary{Index: i}
	}
	for _, e := range entries {
		if e.Index >= 0 && e.Index < n {
			out[e.Index] = domain.ItemSummary{Index: e.Index, Summary: e.Summary, Impact: e.Impact, Sentiment: e.Sentiment}
		}
	}
	return out
}

func buildBatchPrompt(items []domain.RawItem) string {
	var sb strings.Builder
	sb.WriteString("Summarize each of the following news items. For every item return an object with its index, a one-line summary, a one-line market impact estimate, and its sentiment (positive, neutral or negative). The items array MUST contain exactly ")
	fmt.Fprintf(&sb, "%d entries, one per input index.\n\n", len(items))
	for i, item := range items {
		fmt.Fprintf(&sb, "[%d] %s", i, item.Title)
		if item.Source != "" {
			fmt.Fprintf(&sb, " (%s)", item.Source)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func splitSummaryLine(line string) (summary, impact, sentiment string) {
	if line == invoke.Degraded {
		return line, "", ""
	}
	parts := strings.SplitN(line, "|", 3)
	summary = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		impact = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		sentiment = normalizeSentiment(parts[2])
	}
	return summary, impact, sentiment
}

func normalizeSentiment(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "positive", "neutral", "negative":
		return s
	}
	return ""
}
