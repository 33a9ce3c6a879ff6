// Package docket creates and starts sessions on cron schedules.
package docket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/store"
)

// parser accepts standard 5-field cron expressions (minute, hour, dom,
// month, dow) plus descriptors such as @hourly.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("docket: schedule %q: %w", expr, err)
	}
	return s, nil
}

// Entry is one scheduled case.
type Entry struct {
	Schedule     string
	Topic        string
	CaseType     court.CaseType
	Participants []string
}

// Launcher creates a session from in and starts its orchestration.
type Launcher func(ctx context.Context, in store.CreateInput) (*court.Session, error)

// Docket runs entries on their schedules while started.
type Docket struct {
	cron    *cron.Cron
	entries []Entry
	scheds  []cron.Schedule
	launch  Launcher

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates every entry. All problems are reported together.
func New(entries []Entry, launch Launcher) (*Docket, error) {
	if launch == nil {
		return nil, fmt.Errorf("docket: launcher is required")
	}
	d := &Docket{
		cron:   cron.New(cron.WithParser(parser)),
		launch: launch,
	}
	var errs []error
	for i, e := range entries {
		sched, err := ParseSchedule(e.Schedule)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		if strings.TrimSpace(e.Topic) == "" {
			errs = append(errs, fmt.Errorf("docket: entry %d: topic is required", i))
			continue
		}
		d.entries = append(d.entries, e)
		d.scheds = append(d.scheds, sched)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for i, sched := range d.scheds {
		d.cron.Schedule(sched, cron.FuncJob(func() { d.fire(i) }))
	}
	return d, nil
}

// Len returns the number of scheduled entries.
func (d *Docket) Len() int { return len(d.entries) }

// Start runs the scheduler until ctx is done or Stop is called.
func (d *Docket) Start(ctx context.Context) {
	d.mu.Lock()
	d.ctx, d.cancel = context.WithCancel(ctx)
	runCtx := d.ctx
	d.mu.Unlock()

	d.cron.Start()
	go func() {
		<-runCtx.Done()
		d.cron.Stop()
	}()
	log.Printf("docket: %d case(s) scheduled", len(d.entries))
}

// Stop halts the scheduler. Sessions already launched keep running.
func (d *Docket) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-d.cron.Stop().Done()
}

func (d *Docket) fire(i int) {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	e := d.entries[i]
	s, err := d.launch(ctx, store.CreateInput{
		Topic:        e.Topic,
		CaseType:     e.CaseType,
		Participants: e.Participants,
	})
	if err != nil {
		log.Printf("docket: launch %q: %v", e.Topic, err)
		return
	}
	log.Printf("docket: launched session %s (%q)", s.ID, e.Topic)
}

// Upcoming is an entry with its next fire time.
type Upcoming struct {
	Entry Entry
	Next  time.Time
}

// Upcoming returns the next fire time of every entry after now.
func (d *Docket) Upcoming(now time.Time) []Upcoming {
	out := make([]Upcoming, len(d.entries))
	for i, e := range d.entries {
		out[i] = Upcoming{Entry: e, Next: d.scheds[i].Next(now)}
	}
	return out
}
