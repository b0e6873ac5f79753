package faults

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"sovereign/internal/notify"
)

// Reporter emits one structured notification at the end of a run. Its own
// failures are logged and swallowed: the report about a run must never be
// able to fail that run.
type Reporter struct {
	Notifier notify.Notifier
	Admin    string
	Log      *zap.SugaredLogger

	// SettleDelay lets in-flight best-effort writes land before the summary.
	SettleDelay time.Duration
	Sleep       func(d time.Duration)
}

func NewReporter(n notify.Notifier, admin string, log *zap.SugaredLogger) *Reporter {
	return &Reporter{Notifier: n, Admin: admin, Log: log, SettleDelay: 2 * time.Second, Sleep: time.Sleep}
}

// Report renders totals, topic outcomes and the itemized fault table and
// sends them to the admin recipient.
func (r *Reporter) Report(ctx context.Context, mode string, c *Collector, calls int, costUSD float64) {
	body := r.render(mode, c, calls, costUSD)
	if r.Log != nil {
		r.Log.Infof("run summary:\n%s", body)
	}
	if r.Notifier == nil || r.Admin == "" {
		return
	}
	if r.Sleep != nil && r.SettleDelay > 0 {
		r.Sleep(r.SettleDelay)
	}
	subject := fmt.Sprintf("[sovereign] %s run summary %s", mode, time.Now().Format("2006-01-02"))
	if err := r.Notifier.Send(ctx, r.Admin, subject, body); err != nil {
		if r.Log != nil {
			r.Log.Warnf("run summary notification failed: %v", err)
		}
	}
}

func (r *Reporter) render(mode string, c *Collector, calls int, costUSD float64) string {
	succeeded, failed, skipped := c.Counts()

	var sb strings.Builder
	fmt.Fprintf(&sb, "mode: %s\n", mode)
	fmt.Fprintf(&sb, "duration: %s\n", time.Since(c.Start()).Round(time.Second))
	fmt.Fprintf(&sb, "work items: %d succeeded, %d failed, %d skipped\n", succeeded, failed, skipped)
	fmt.Fprintf(&sb, "generative calls: %d (est. $%.4f)\n", calls, costUSD)
	if len(c.Succeeded()) > 0 {
		fmt.Fprintf(&sb, "succeeded: %s\n", strings.Join(c.Succeeded(), ", "))
	}
	if len(c.Failed()) > 0 {
		fmt.Fprintf(&sb, "failed: %s\n", strings.Join(c.Failed(), ", "))
	}
	if len(c.Skipped()) > 0 {
		fmt.Fprintf(&sb, "skipped: %s\n", strings.Join(c.Skipped(), ", "))
	}

	records := c.Records()
	if len(records) == 0 {
		sb.WriteString("no faults recorded\n")
		return sb.String()
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Stage", "Target", "Message", "At"})
	for _, rec := range records {
		t.AppendRow(table.Row{rec.Stage, rec.Target, rec.Message, rec.Timestamp.Format("15:04:05")})
	}
	sb.WriteString(t.Render())
	sb.WriteString("\n")
	return sb.String()
}
