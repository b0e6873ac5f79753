package summarize

import (
	"context"
	"testing"
	"time"

	"sovereign/internal/domain"
	"sovereign/internal/invoke"
	"sovereign/internal/llm"
)

func TestRepair(t *testing.T) {
	testCases := []struct {
		name    string
		entries []domain.ItemSummary
		n       int
		check   func(t *testing.T, out []domain.ItemSummary)
	}{
		{
			name: "exact match preserved",
			entries: []domain.ItemSummary{
				{Index: 0, Summary: "a"},
				{Index: 1, Summary: "b"},
			},
			n: 2,
			check: func(t *testing.T, out []domain.ItemSummary) {
				if out[0].Summary != "a" || out[1].Summary != "b" {
					t.Errorf("entries not preserved: %+v", out)
				}
			},
		},
		{
			name: "short response empty-filled by index",
			entries: []domain.ItemSummary{
				{Index: 2, Summary: "c"},
			},
			n: 3,
			check: func(t *testing.T, out []domain.ItemSummary) {
				if out[0].Summary != "" || out[1].Summary != "" || out[2].Summary != "c" {
					t.Errorf("re-indexing wrong: %+v", out)
				}
			},
		},
		{
			name: "overlong response drops out-of-range",
			entries: []domain.ItemSummary{
				{Index: 0, Summary: "a"},
				{Index: 5, Summary: "ghost"},
			},
			n: 2,
			check: func(t *testing.T, out []domain.ItemSummary) {
				if out[0].Summary != "a" || out[1].Summary != "" {
					t.Errorf("out-of-range entry not dropped: %+v", out)
				}
			},
		},
		{
			name:    "empty input",
			entries: nil,
			n:       0,
			check:   func(t *testing.T, out []domain.ItemSummary) {},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := Repair(tc.entries, tc.n)
			if len(out) != tc.n {
				t.Fatalf("output length %d, want exactly %d", len(out), tc.n)
			}
			for i, e := range out {
				if e.Index != i {
					t.Errorf("entry %d carries index %d", i, e.Index)
				}
			}
			tc.check(t, out)
		})
	}
}

type scriptedProvider struct {
	jsonOut string
	jsonErr error
	texts   []string
	calls   int
}

func (p *scriptedProvider) DefaultModel() string                  { return "fake" }
func (p *scriptedProvider) AllowedModelOrDefault(m string) string { return "fake" }
func (p *scriptedProvider) Generate(ctx context.Context, prompt, model string) (string, error) {
	i := p.calls
	p.calls++
	if i < len(p.texts) {
		return p.texts[i], nil
	}
	return "", nil
}
func (p *scriptedProvider) GenerateJSON(ctx context.Context, prompt, model string, schema any) (string, error) {
	p.calls++
	return p.jsonOut, p.jsonErr
}

func newBatcher(p llm.Provider) *Batcher {
	inv := invoke.New(p, nil)
	inv.Sleep = func(time.Duration) {}
	return &Batcher{Inv: inv, Agent: invoke.Agent{Role: "SUMMARY"}}
}

func TestSummarizeLengthMismatchRepaired(t *testing.T) {
	p := &scriptedProvider{
		jsonOut: `{"items":[{"index":1,"summary":"only one","impact":"up"}]}`,
	}
	b := newBatcher(p)

	items := []domain.RawItem{{Title: "a"}, {Title: "b"}, {Title: "c"}}
	out, err := b.Summarize(context.Background(), items)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("length %d, want 3", len(out))
	}
	if out[1].Summary != "only one" || out[0].Summary != "" {
		t.Errorf("repair misplaced entries: %+v", out)
	}
}

func TestSummarizeTotalFailureSignalsFallback(t *testing.T) {
	p := &scriptedProvider{jsonOut: "complete garbage, no braces"}
	b := newBatcher(p)

	_, err := b.Summarize(context.Background(), []domain.RawItem{{Title: "a"}})
	if err == nil {
		t.Fatal("expected error signaling fallback")
	}
}

func TestSummarizeEachAlwaysFillsAllItems(t *testing.T) {
	p := &scriptedProvider{texts: []string{"sum a | up | Positive", "sum b"}}
	b := newBatcher(p)

	out := b.SummarizeEach(context.Background(), []domain.RawItem{{Title: "a"}, {Title: "b"}})
	if len(out) != 2 {
		t.Fatalf("length %d, want 2", len(out))
	}
	if out[0].Summary != "sum a" || out[0].Impact != "up" || out[0].Sentiment != "positive" {
		t.Errorf("split wrong: %+v", out[0])
	}
	if out[1].Summary != "sum b" || out[1].Impact != "" || out[1].Sentiment != "" {
		t.Errorf("missing parts should stay empty: %+v", out[1])
	}
}

func TestSummarizeCarriesSentiment(t *testing.T) {
	p := &scriptedProvider{
		jsonOut: `{"items":[{"index":0,"summary":"s","impact":"i","sentiment":"negative"}]}`,
	}
	b := newBatcher(p)

	out, err := b.Summarize(context.Background(), []domain.RawItem{{Title: "a"}})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out[0].Sentiment != "negative" {
		t.Errorf("sentiment dropped: %+v", out[0])
	}
}

func TestNormalizeSentiment(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{" Neutral ", "neutral"},
		{"POSITIVE", "positive"},
		{"bullish", ""},
		{"", ""},
	}
	for _, tc := range testCases {
		if got := normalizeSentiment(tc.in); got != tc.want {
			t.Errorf("normalizeSentiment(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
