package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"sovereign/internal/collect"
	"sovereign/internal/config"
	"sovereign/internal/domain"
	"sovereign/internal/faults"
	"sovereign/internal/invoke"
	"sovereign/internal/logging"
	"sovereign/internal/store"
	"sovereign/internal/summarize"
)

// analysisProvider answers batch requests with aligned summaries and every
// other structured request with a fixed brief.
type analysisProvider struct {
	batchCalls int
	textCalls  int
	failBatch  bool
}

func (p *analysisProvider) DefaultModel() string                  { return "fake" }
func (p *analysisProvider) AllowedModelOrDefault(m string) string { return "fake" }

func (p *analysisProvider) Generate(ctx context.Context, prompt, model string) (string, error) {
	p.textCalls++
	return "generated text", nil
}

func (p *analysisProvider) GenerateJSON(ctx context.Context, prompt, model string, schema any) (string, error) {
	if strings.Contains(prompt, "items array MUST") {
		p.batchCalls++
		if p.failBatch {
			return "garbage", nil
		}
		n := strings.Count(prompt, "[") // one index marker per item
		var entries []string
		for i := 0; i < n; i++ {
			entries = append(entries, fmt.Sprintf(`{"index":%d,"summary":"s%d","impact":"i%d","sentiment":"neutral"}`, i, i, i))
		}
		return fmt.Sprintf(`{"items":[%s]}`, strings.Join(entries, ",")), nil
	}
	return `{"summary":"brief","points":[],"deep":[]}`, nil
}

type fakeSource struct {
	calls   int
	items   map[string][]domain.RawItem
	failFor string
	failAll bool
}

func (f *fakeSource) FetchItems(ctx context.Context, topic, day string) ([]domain.RawItem, error) {
	f.calls++
	if f.failAll || topic == f.failFor {
		return nil, errors.New("feed unreachable")
	}
	return f.items[topic], nil
}

func newTestDispatcher(t *testing.T, provider *analysisProvider, source collect.Source, topics []string) *Dispatcher {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db, nil)

	inv := invoke.New(provider, logging.Nop())
	inv.Sleep = func(time.Duration) {}

	cfg := config.Default()
	cfg.Consumers = []domain.Consumer{{ID: "c1", Email: "c1@example.com", Topics: topics}}

	return &Dispatcher{
		Cfg:    cfg,
		Store:  st,
		Inv:    inv,
		Source: source,
		Batch:  &summarize.Batcher{Inv: inv, Agent: invoke.Agent{Role: "SUMMARY"}},
		Agents: map[string]invoke.Agent{},
		Log:    logging.Nop(),
	}
}

func TestCacheHitSkipsCollectionAndBatching(t *testing.T) {
	provider := &analysisProvider{}
	source := &fakeSource{items: map[string][]domain.RawItem{
		"alpha": {{Title: "a1"}, {Title: "a2"}},
		"beta":  {{Title: "b1"}, {Title: "b2"}},
	}}
	d := newTestDispatcher(t, provider, source, []string{"alpha", "beta", "gamma-cached"})
	ctx := context.Background()
	day := "2026-08-30"

	// Pre-populate one topic so the dispatcher sees a cache hit.
	if err := d.Store.PutTopicCache(ctx, day, domain.TopicResult{Topic: "gamma-cached"}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	col := faults.NewCollector()
	reports := d.RunBriefing(ctx, day, col)

	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
	if source.calls != 2 {
		t.Errorf("expected exactly 2 collection calls (1 skipped by cache), got %d", source.calls)
	}
	if provider.batchCalls != 2 {
		t.Errorf("expected exactly 2 batch summarize calls, got %d", provider.batchCalls)
	}
	s, f, k := col.Counts()
	if s != 2 || f != 0 || k != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/0/1", s, f, k)
	}
	if got := reports[0].ByTopic["gamma-cached"]; !got.FromCache {
		t.Error("cached topic should carry the cached bundle")
	}
	item := reports[0].ByTopic["alpha"].Items[0]
	if item.Sentiment != "neutral" {
		t.Errorf("item sentiment not carried through: %+v", item)
	}
	if item.TrustScore != 50 {
		t.Errorf("sourceless item should carry the unknown-provenance score, got %d", item.TrustScore)
	}
}

func TestTopicFailureIsIsolated(t *testing.T) {
	provider := &analysisProvider{}
	source := &fakeSource{
		items: map[string][]domain.RawItem{
			"good-1": {{Title: "x"}},
			"good-2": {{Title: "y"}},
		},
		failFor: "bad",
	}
	d := newTestDispatcher(t, provider, source, []string{"good-1", "bad", "good-2"})
	col := faults.NewCollector()

	reports := d.RunBriefing(context.Background(), "2026-08-30", col)

	if len(reports) != 1 {
		t.Fatalf("run must complete despite the failing topic")
	}
	report := reports[0]
	if len(report.ByTopic) != 3 {
		t.Fatalf("all 3 topics must be present, got %d", len(report.ByTopic))
	}
	if !report.ByTopic["bad"].Degraded {
		t.Error("failed topic should carry the degraded placeholder")
	}
	s, f, k := col.Counts()
	if s+f+k != 3 {
		t.Errorf("counts must sum to topic count: %d+%d+%d", s, f, k)
	}
	if f != 1 {
		t.Errorf("expected exactly 1 failed work item, got %d", f)
	}
	if len(col.Records()) == 0 {
		t.Error("failing topic must append a fault record")
	}
}

func TestAllTopicsDegradedSkipsAggregation(t *testing.T) {
	provider := &analysisProvider{}
	source := &fakeSource{failAll: true}
	d := newTestDispatcher(t, provider, source, []string{"one", "two"})
	col := faults.NewCollector()

	reports := d.RunBriefing(context.Background(), "2026-08-30", col)

	if len(reports) != 0 {
		t.Fatalf("a fully degraded consumer must produce no report, got %d", len(reports))
	}
	if provider.textCalls != 0 {
		t.Errorf("no aggregation call should be made, got %d", provider.textCalls)
	}
	_, f, _ := col.Counts()
	if f != 2 {
		t.Errorf("both topics should be recorded as failed, got %d", f)
	}
}

func TestBatchFailureFallsBackPerItem(t *testing.T) {
	provider := &analysisProvider{failBatch: true}
	source := &fakeSource{items: map[string][]domain.RawItem{
		"alpha": {{Title: "a1"}, {Title: "a2"}},
	}}
	d := newTestDispatcher(t, provider, source, []string{"alpha"})
	col := faults.NewCollector()

	reports := d.RunBriefing(context.Background(), "2026-08-30", col)

	if len(reports) != 1 {
		t.Fatal("expected a report")
	}
	items := reports[0].ByTopic["alpha"].Items
	if len(items) != 2 {
		t.Fatalf("fallback must still produce %d item summaries", 2)
	}
	// One Generate per item plus the HR aggregation call.
	if provider.textCalls != 3 {
		t.Errorf("expected 3 text calls (2 fallback + HR), got %d", provider.textCalls)
	}
	found := false
	for _, rec := range col.Records() {
		if rec.Stage == "batch" {
			found = true
		}
	}
	if !found {
		t.Error("batch failure must be fault-recorded")
	}
}

func TestEmptyCollectionYieldsPlaceholder(t *testing.T) {
	provider := &analysisProvider{}
	source := &fakeSource{items: map[string][]domain.RawItem{}}
	d := newTestDispatcher(t, provider, source, []string{"quiet"})
	col := faults.NewCollector()

	reports := d.RunBriefing(context.Background(), "2026-08-30", col)

	if len(reports) != 1 {
		t.Fatal("expected a report")
	}
	res := reports[0].ByTopic["quiet"]
	if res.BusinessBrief.Summary != noDataSummary {
		t.Errorf("expected deterministic no-data placeholder, got %q", res.BusinessBrief.Summary)
	}
	if provider.batchCalls != 0 {
		t.Errorf("no items means no batch call, got %d", provider.batchCalls)
	}
}

func TestDeliveredConsumerIsSkipped(t *testing.T) {
	provider := &analysisProvider{}
	source := &fakeSource{items: map[string][]domain.RawItem{"alpha": {{Title: "a"}}}}
	d := newTestDispatcher(t, provider, source, []string{"alpha"})
	ctx := context.Background()
	day := "2026-08-30"

	if err := d.Store.UpsertReport(ctx, domain.Report{ID: "r", ConsumerID: "c1", Day: day, ByTopic: map[string]domain.TopicResult{}}); err != nil {
		t.Fatal(err)
	}
	if err := d.Store.MarkEmailSent(ctx, "c1", day); err != nil {
		t.Fatal(err)
	}

	col := faults.NewCollector()
	reports := d.RunBriefing(ctx, day, col)

	if len(reports) != 0 {
		t.Fatalf("delivered consumer must be skipped, got %d reports", len(reports))
	}
	if source.calls != 0 {
		t.Errorf("skip must happen before collection, got %d calls", source.calls)
	}
	_, _, k := col.Counts()
	if k != 1 {
		t.Errorf("skipped topics should be counted, got %d", k)
	}
}
