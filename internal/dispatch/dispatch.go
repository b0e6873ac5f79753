// Package dispatch iterates consumers and topics, applies the cache and batch
// strategies, aggregates per-consumer reports and contains every per-item
// failure so a run always completes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sovereign/internal/collect"
	"sovereign/internal/config"
	"sovereign/internal/domain"
	"sovereign/internal/faults"
	"sovereign/internal/invoke"
	"sovereign/internal/notify"
	"sovereign/internal/store"
	"sovereign/internal/summarize"
)

const noDataSummary = "No news items were found for this topic."

type Dispatcher struct {
	Cfg      *config.Config
	Store    *store.Store
	Inv      *invoke.Invoker
	Source   collect.Source
	Batch    *summarize.Batcher
	Notifier notify.Notifier
	Agents   map[string]invoke.Agent
	Log      *zap.SugaredLogger
}

func (d *Dispatcher) agent(role string) invoke.Agent {
	if a, ok := d.Agents[role]; ok {
		return a
	}
	return invoke.Agent{Role: role}
}

// RunBriefing processes every consumer for the given day. Failures are
// contained at topic granularity; the loops always run to the end.
func (d *Dispatcher) RunBriefing(ctx context.Context, day string, col *faults.Collector) []domain.Report {
	var reports []domain.Report
	for _, consumer := range d.Cfg.Consumers {
		topics := d.Cfg.Topics(consumer)
		if len(topics) == 0 {
			continue
		}

		sent, err := d.Store.ReportEmailSent(ctx, consumer.ID, day)
		if err != nil {
			col.Fault("report-check", consumer.ID, err)
		}
		if sent {
			d.Log.Infof("[%s] already delivered for %s, skipping", consumer.ID, day)
			for _, topic := range topics {
				col.Skip(consumer.ID + "/" + topic)
			}
			continue
		}

		report := d.processConsumer(ctx, consumer, topics, day, col)
		if report == nil {
			continue
		}
		reports = append(reports, *report)
	}
	return reports
}

// RunScan processes the configured industry topics without any consumer
// aggregation or delivery. Results land in the cache and the day snapshot.
func (d *Dispatcher) RunScan(ctx context.Context, day string, col *faults.Collector) []domain.TopicResult {
	var results []domain.TopicResult
	for _, topic := range d.Cfg.IndustryTopics {
		result, _ := d.runTopic(ctx, topic, day, col)
		results = append(results, result)
	}
	return results
}

func (d *Dispatcher) processConsumer(ctx context.Context, consumer domain.Consumer, topics []string, day string, col *faults.Collector) *domain.Report {
	d.Log.Infof("[%s] analyzing topics %v", consumer.ID, topics)

	byTopic := make(map[string]domain.TopicResult, len(topics))
	var allTitles []string
	for _, topic := range topics {
		result, _ := d.runTopic(ctx, topic, day, col)
		byTopic[topic] = result
		for _, item := range result.Items {
			allTitles = append(allTitles, fmt.Sprintf("[%s] %s", topic, item.Title))
		}
	}

	// Aggregation needs at least one topic that actually produced analysis.
	// A consumer whose every topic degraded gets no report this run; the
	// absent delivery flag retries the whole set on the next trigger.
	usable := 0
	for _, res := range byTopic {
		if !res.Degraded {
			usable++
		}
	}
	if usable == 0 {
		d.Log.Infof("[%s] every topic degraded, skipping aggregation and delivery", consumer.ID)
		return nil
	}

	hrProposal := d.Inv.Invoke(ctx,
		d.agent(config.RoleHR),
		"Organizational and staffing implications across all topics:\n"+strings.Join(allTitles, "\n"))

	report := domain.Report{
		ID:         uuid.New().String()[:8],
		ConsumerID: consumer.ID,
		Day:        day,
		ByTopic:    byTopic,
		HRProposal: hrProposal,
		CreatedAt:  time.Now(),
	}

	// Persistence and delivery are independent steps: each retried on its
	// own, each fault-recorded on its own. A delivery failure never undoes
	// the stored report; a persistence failure only skips this consumer's
	// delivery.
	if err := d.Store.UpsertReport(ctx, report); err != nil {
		col.Fault("report-save", consumer.ID, err)
		return &report
	}
	if d.Notifier == nil || consumer.Email == "" {
		return &report
	}
	subject := fmt.Sprintf("[sovereign] daily briefing %s", day)
	if err := d.Notifier.Send(ctx, consumer.Email, subject, renderReport(report)); err != nil {
		col.Fault("deliver", consumer.ID, err)
		return &report
	}
	if err := d.Store.MarkEmailSent(ctx, consumer.ID, day); err != nil {
		// Send succeeded but flag write failed: absent flag re-delivers on
		// the next trigger, which is the safe side of the tradeoff.
		col.Fault("deliver-flag", consumer.ID, err)
	}
	report.EmailSent = true
	d.Log.Infof("[%s] report stored and delivered", consumer.ID)
	return &report
}

// runTopic computes (or recalls) one topic result, containing any failure.
// It records the work item outcome and always returns a usable result.
func (d *Dispatcher) runTopic(ctx context.Context, topic, day string, col *faults.Collector) (domain.TopicResult, bool) {
	target := topic
	result, hit, err := d.computeTopic(ctx, topic, day, col)
	switch {
	case err != nil:
		col.Fault("topic", target, err)
		col.Fail(target)
		return degradedResult(topic), false
	case hit:
		col.Skip(target)
		return result, true
	default:
		col.Succeed(target)
		return result, false
	}
}

func (d *Dispatcher) computeTopic(ctx context.Context, topic, day string, col *faults.Collector) (result domain.TopicResult, hit bool, err error) {
	// Anything a single topic does (collection, batching, analysis) may
	// fail or panic without taking the rest of the run with it.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic processing topic %s: %v", topic, rec)
		}
	}()

	cached, cerr := d.Store.GetTopicCache(ctx, topic, day)
	if cerr == nil {
		d.Log.Infof("[%s] cache hit for %s", topic, day)
		return cached, true, nil
	}
	if !errors.Is(cerr, store.ErrNotFound) {
		d.Log.Warnf("[%s] cache read failed: %v", topic, cerr)
	}

	items, ferr := d.Source.FetchItems(ctx, topic, day)
	if ferr != nil {
		return domain.TopicResult{}, false, fmt.Errorf("collect %s: %w", topic, ferr)
	}
	if len(items) == 0 {
		d.Log.Infof("[%s] no items found", topic)
		return noDataResult(topic), false, nil
	}

	sums, berr := d.Batch.Summarize(ctx, items)
	if berr != nil {
		col.Fault("batch", topic, berr)
		sums = d.Batch.SummarizeEach(ctx, items)
	}

	analyzed := make([]domain.AnalyzedItem, len(items))
	var titles []string
	for i, item := range items {
		analyzed[i] = domain.AnalyzedItem{
			RawItem:    item,
			Topic:      topic,
			Summary:    sums[i].Summary,
			Impact:     sums[i].Impact,
			Sentiment:  sums[i].Sentiment,
			TrustScore: collect.PublisherTrust(item.Source),
		}
		titles = append(titles, item.Title)
	}

	topicCtx := strings.Join(titles, "\n")
	result = domain.TopicResult{
		Topic:           topic,
		BusinessBrief:   d.Inv.InvokeBrief(ctx, d.agent(config.RoleBusiness), fmt.Sprintf("Business revenue structure and competition analysis for %q:\n%s", topic, topicCtx)),
		SecuritiesBrief: d.Inv.InvokeBrief(ctx, d.agent(config.RoleSecurities), fmt.Sprintf("Stock market reaction and investment insight for %q:\n%s", topic, topicCtx)),
		PlanningBrief:   d.Inv.InvokeBrief(ctx, d.agent(config.RolePlanning), fmt.Sprintf("Strategic service planning brief for %q:\n%s", topic, topicCtx)),
		Items:           analyzed,
	}

	// Cache is a performance optimization, never a correctness dependency.
	if perr := d.Store.PutTopicCache(ctx, day, result); perr != nil {
		d.Log.Warnf("[%s] cache write failed: %v", topic, perr)
	}
	return result, false, nil
}

func noDataResult(topic string) domain.TopicResult {
	empty := domain.Brief{Summary: noDataSummary, Points: []string{}, Deep: []string{}}
	return domain.TopicResult{
		Topic:           topic,
		BusinessBrief:   empty,
		SecuritiesBrief: empty,
		PlanningBrief:   empty,
		Items:           []domain.AnalyzedItem{},
	}
}

func degradedResult(topic string) domain.TopicResult {
	deg := domain.Brief{Summary: invoke.Degraded, Points: []string{}, Deep: []string{}}
	return domain.TopicResult{
		Topic:           topic,
		BusinessBrief:   deg,
		SecuritiesBrief: deg,
		PlanningBrief:   deg,
		Items:           []domain.AnalyzedItem{},
		Degraded:        true,
	}
}

func renderReport(r domain.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Daily briefing for %s\n\n", r.Day)
	for topic, res := range r.ByTopic {
		fmt.Fprintf(&sb, "== %s ==\n", topic)
		fmt.Fprintf(&sb, "Business: %s\n", res.BusinessBrief.Summary)
		fmt.Fprintf(&sb, "Securities: %s\n", res.SecuritiesBrief.Summary)
		fmt.Fprintf(&sb, "Planning: %s\n", res.PlanningBrief.Summary)
		for _, item := range res.Items {
			fmt.Fprintf(&sb, "- %s", item.Title)
			if item.Summary != "" {
				fmt.Fprintf(&sb, ": %s", item.Summary)
			}
			if item.Sentiment != "" {
				fmt.Fprintf(&sb, " [%s]", item.Sentiment)
			}
			if item.TrustScore > 0 {
				fmt.Fprintf(&sb, " (trust %d/100)", item.TrustScore)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "HR perspective: %s\n", r.HRProposal)
	return sb.String()
}
