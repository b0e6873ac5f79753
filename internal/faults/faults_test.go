package faults

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFaultMessageTruncation(t *testing.T) {
	c := NewCollector()
	c.Fault("summarize", "topic-a", errors.New(strings.Repeat("x", 1000)))

	records := c.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if len(records[0].Message) != maxMessageLen+3 {
		t.Errorf("message not truncated: %d chars", len(records[0].Message))
	}
}

func TestCountsSumToProcessedItems(t *testing.T) {
	c := NewCollector()
	c.Succeed("a")
	c.Succeed("b")
	c.Fail("c")
	c.Skip("d")

	s, f, k := c.Counts()
	if s+f+k != 4 {
		t.Errorf("counts do not sum: %d+%d+%d", s, f, k)
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	f.calls++
	return errors.New("smtp down")
}

func TestReporterSwallowsDeliveryFailure(t *testing.T) {
	c := NewCollector()
	c.Fault("deliver", "consumer-1", errors.New("boom"))

	n := &failingNotifier{}
	r := NewReporter(n, "admin@example.com", nil)
	r.Sleep = func(time.Duration) {}

	// Must not panic or propagate.
	r.Report(context.Background(), "briefing", c, 7, 0.05)

	if n.calls != 1 {
		t.Errorf("expected one send attempt, got %d", n.calls)
	}
}

func TestRenderIncludesTotalsAndFaultTable(t *testing.T) {
	c := NewCollector()
	c.Succeed("chips")
	c.Fail("batteries")
	c.Fault("summarize", "batteries", errors.New("batch failed"))

	r := NewReporter(nil, "", nil)
	out := r.render("briefing", c, 3, 0.01)

	for _, want := range []string{"1 succeeded, 1 failed, 0 skipped", "generative calls: 3", "batteries", "batch failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q in:\n%s", want, out)
		}
	}
}
