// Package faults collects per-run failures and emits the end-of-run summary.
// A Collector is created at run start and discarded with the run; it is not
// safe for concurrent runs and is never shared across them.
package faults

import (
	"time"

	"sovereign/internal/domain"
)

const maxMessageLen = 300

// Collector is the run-scoped fault list plus work item counters.
type Collector struct {
	start     time.Time
	records   []domain.FaultRecord
	succeeded []string
	failed    []string
	skipped   []string
}

func NewCollector() *Collector {
	return &Collector{start: time.Now()}
}

func (c *Collector) Start() time.Time { return c.start }

// Fault appends exactly one record for a component-level failure.
func (c *Collector) Fault(stage, target string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen] + "..."
	}
	c.records = append(c.records, domain.FaultRecord{
		Stage:     stage,
		Target:    target,
		Message:   msg,
		Timestamp: time.Now(),
	})
}

func (c *Collector) Succeed(target string) { c.succeeded = append(c.succeeded, target) }
func (c *Collector) Fail(target string)    { c.failed = append(c.failed, target) }
func (c *Collector) Skip(target string)    { c.skipped = append(c.skipped, target) }

func (c *Collector) Counts() (succeeded, failed, skipped int) {
	return len(c.succeeded), len(c.failed), len(c.skipped)
}

func (c *Collector) Succeeded() []string           { return c.succeeded }
func (c *Collector) Failed() []string              { return c.failed }
func (c *Collector) Skipped() []string             { return c.skipped }
func (c *Collector) Records() []domain.FaultRecord { return c.records }
