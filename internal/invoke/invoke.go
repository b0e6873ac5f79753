// Package invoke wraps every call to the generative service with bounded
// retry, backoff and degraded-output fallback. Callers never see a retryable
// provider failure: they get either the model output or a fixed sentinel.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"sovereign/internal/domain"
	"sovereign/internal/llm"
)

// Degraded is the fixed placeholder returned when all attempts are exhausted
// or the failure is not worth retrying.
const Degraded = "(analysis unavailable)"

const defaultAttempts = 3
const defaultBackoff = 2 * time.Second

// Agent identifies a generative role with its current operating instruction.
type Agent struct {
	Role        string
	Instruction string
	Model       string
}

// UsageSink receives one record per attempt. Best effort: the invoker
// swallows sink failures.
type UsageSink interface {
	RecordUsage(rec domain.UsageRecord)
}

type Invoker struct {
	Provider    llm.Provider
	Attempts    int
	Backoff     time.Duration
	CostPerCall float64
	Usage       UsageSink
	Log         *zap.SugaredLogger

	// Sleep is swappable so tests can count backoff waits.
	Sleep func(d time.Duration)
}

func New(p llm.Provider, log *zap.SugaredLogger) *Invoker {
	return &Invoker{
		Provider: p,
		Attempts: defaultAttempts,
		Backoff:  defaultBackoff,
		Log:      log,
		Sleep:    time.Sleep,
	}
}

func (v *Invoker) attempts() int {
	if v.Attempts > 0 {
		return v.Attempts
	}
	return defaultAttempts
}

func (v *Invoker) backoff(attempt int) time.Duration {
	base := v.Backoff
	if base <= 0 {
		base = defaultBackoff
	}
	return base * time.Duration(attempt)
}

func (v *Invoker) record(agent Agent, attempt int, ok bool) {
	if v.Usage == nil {
		return
	}
	v.Usage.RecordUsage(domain.UsageRecord{
		Role:      agent.Role,
		Model:     agent.Model,
		Attempt:   attempt,
		OK:        ok,
		CostUSD:   v.CostPerCall,
		Timestamp: time.Now(),
	})
}

func (v *Invoker) prompt(agent Agent, prompt string) string {
	if strings.TrimSpace(agent.Instruction) == "" {
		return prompt
	}
	return agent.Instruction + "\n\n" + prompt
}

// Invoke runs one free-text generation. It never returns an error: retryable
// failures are retried up to the attempt bound with increasing backoff, and
// exhaustion or a terminal failure yields the Degraded sentinel.
func (v *Invoker) Invoke(ctx context.Context, agent Agent, prompt string) string {
	full := v.prompt(agent, prompt)
	for attempt := 1; attempt <= v.attempts(); attempt++ {
		out, err := v.Provider.Generate(ctx, full, agent.Model)
		v.record(agent, attempt, err == nil)
		if err == nil {
			return strings.TrimSpace(out)
		}
		if !llm.IsRetryable(err) {
			v.logf("generate %s: terminal (%s): %v", agent.Role, llm.KindOf(err), err)
			return Degraded
		}
		if ctx.Err() != nil {
			v.logf("generate %s: context done, not retrying: %v", agent.Role, ctx.Err())
			return Degraded
		}
		v.logf("generate %s: attempt %d/%d failed (%s): %v", agent.Role, attempt, v.attempts(), llm.KindOf(err), err)
		if attempt < v.attempts() {
			v.Sleep(v.backoff(attempt))
		}
	}
	return Degraded
}

// InvokeBrief runs the structured variant and decodes a Brief. Parse failures
// consume attempts like provider failures; the final fallback is a minimal
// brief built from the first line of the raw text with empty sub-collections.
func (v *Invoker) InvokeBrief(ctx context.Context, agent Agent, prompt string) domain.Brief {
	full := v.prompt(agent, prompt)
	raw := ""
	for attempt := 1; attempt <= v.attempts(); attempt++ {
		out, err := v.Provider.GenerateJSON(ctx, full, agent.Model, briefSchema)
		v.record(agent, attempt, err == nil)
		if err != nil {
			if !llm.IsRetryable(err) {
				v.logf("brief %s: terminal (%s): %v", agent.Role, llm.KindOf(err), err)
				return degradedBrief(raw)
			}
			if ctx.Err() != nil {
				v.logf("brief %s: context done, not retrying: %v", agent.Role, ctx.Err())
				return degradedBrief(raw)
			}
			v.logf("brief %s: attempt %d/%d failed (%s): %v", agent.Role, attempt, v.attempts(), llm.KindOf(err), err)
			if attempt < v.attempts() {
				v.Sleep(v.backoff(attempt))
			}
			continue
		}
		raw = out
		var b domain.Brief
		if jerr := json.Unmarshal([]byte(ExtractJSON(out)), &b); jerr == nil {
			if b.Points == nil {
				b.Points = []string{}
			}
			if b.Deep == nil {
				b.Deep = []string{}
			}
			return b
		}
		v.logf("brief %s: attempt %d/%d returned malformed JSON", agent.Role, attempt, v.attempts())
		if attempt < v.attempts() {
			v.Sleep(v.backoff(attempt))
		}
	}
	return degradedBrief(raw)
}

// InvokeJSON runs the structured variant and decodes into out. Unlike Invoke
// it surfaces the final error so callers can choose their own fallback (the
// batch summarizer degrades to per-item calls on it).
func (v *Invoker) InvokeJSON(ctx context.Context, agent Agent, prompt string, schema, out any) error {
	full := v.prompt(agent, prompt)
	var lastErr error
	for attempt := 1; attempt <= v.attempts(); attempt++ {
		raw, err := v.Provider.GenerateJSON(ctx, full, agent.Model, schema)
		v.record(agent, attempt, err == nil)
		if err != nil {
			lastErr = err
			if !llm.IsRetryable(err) {
				return err
			}
			if ctx.Err() != nil {
				return err
			}
			if attempt < v.attempts() {
				v.Sleep(v.backoff(attempt))
			}
			continue
		}
		if jerr := json.Unmarshal([]byte(ExtractJSON(raw)), out); jerr != nil {
			lastErr = fmt.Errorf("malformed response: %w", jerr)
			if attempt < v.attempts() {
				v.Sleep(v.backoff(attempt))
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (v *Invoker) logf(format string, args ...any) {
	if v.Log != nil {
		v.Log.Warnf(format, args...)
	}
}

var briefSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"points":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"deep":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"summary", "points", "deep"},
}

func degradedBrief(raw string) domain.Brief {
	line := FirstLine(raw)
	if line == "" {
		line = Degraded
	}
	return domain.Brief{Summary: line, Points: []string{}, Deep: []string{}}
}

// ExtractJSON strips markdown fences and any leading/trailing prose around
// the outermost JSON object.
func ExtractJSON(raw string) string {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		return clean[start : end+1]
	}
	return clean
}

// FirstLine returns the first non-empty line of s, trimmed.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
