// Package queuetest provides an in-memory Scheduler for testing.
package queuetest

import (
	"context"
	"sync"
)

// StatusReport records one ReportStatus call.
type StatusReport struct {
	TaskID string
	Stage  string
	Detail string
}

// FakeScheduler records Schedule and ReportStatus calls.
type FakeScheduler struct {
	mu        sync.Mutex
	scheduled []string
	statuses  []StatusReport

	ScheduleErr error
}

// NewFakeScheduler creates an empty fake scheduler.
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{}
}

// Schedule implements queue.Scheduler.
func (f *FakeScheduler) Schedule(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScheduleErr != nil {
		return f.ScheduleErr
	}
	f.scheduled = append(f.scheduled, taskID)
	return nil
}

// ReportStatus implements queue.Scheduler.
func (f *FakeScheduler) ReportStatus(_ context.Context, taskID, stage, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, StatusReport{TaskID: taskID, Stage: stage, Detail: detail})
	return nil
}

// Scheduled returns every task ID scheduled so far.
func (f *FakeScheduler) Scheduled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scheduled...)
}

// Statuses returns every status report recorded so far.
func (f *FakeScheduler) Statuses() []StatusReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StatusReport(nil), f.statuses...)
}
