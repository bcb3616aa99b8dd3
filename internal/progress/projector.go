// Package progress derives per-step node statuses and an overall percentage
// from a run's ordered event log. The log is the single source of truth:
// every query recomputes from the full log, never from incrementally patched
// state.
package progress

import (
	"math"

	"github.com/shortfactory/api/internal/model"
)

// Projector consumes a run's events and answers status queries about the
// fixed step vocabulary. It is not safe for concurrent use.
type Projector struct {
	events  []model.Event
	running bool
	errMsg  string
}

func New() *Projector {
	return &Projector{}
}

// Begin clears any previous log and marks a run as active.
func (p *Projector) Begin() {
	p.events = nil
	p.running = true
	p.errMsg = ""
}

// Observe appends one event to the log. A terminal event ends the run.
func (p *Projector) Observe(event model.Event) {
	p.events = append(p.events, event)

	switch event.Step {
	case model.StepError:
		p.errMsg = event.Message
		if p.errMsg == "" {
			p.errMsg = "unknown error"
		}
		p.running = false
	case model.StepDone:
		p.running = false
	}
}

// Abort records a stream that dropped before its terminal event; observers
// must treat that as an implicit error.
func (p *Projector) Abort(message string) {
	if message == "" {
		message = "event stream closed before completion"
	}
	p.errMsg = message
	p.running = false
}

// Running reports whether the run is still in progress.
func (p *Projector) Running() bool { return p.running }

// Err returns the run-level error message, or "" when none is active.
func (p *Projector) Err() string { return p.errMsg }

// Events returns a copy of the observed log.
func (p *Projector) Events() []model.Event {
	out := make([]model.Event, len(p.events))
	copy(out, p.events)
	return out
}

// LastStep returns the step name of the most recent event that belongs to the
// ordered vocabulary, or "" when none has been observed.
func (p *Projector) LastStep() string {
	for i := len(p.events) - 1; i >= 0; i-- {
		if model.StepIndex(p.events[i].Step) != -1 {
			return p.events[i].Step
		}
	}
	return ""
}

// Status derives the state of one step. A step counts as done the moment any
// event for it has been observed; a run-level error is attributed to the last
// reported step.
func (p *Projector) Status(step string) model.NodeStatus {
	last := p.LastStep()

	if p.errMsg != "" && last == step {
		return model.NodeError
	}
	if p.completed(step) {
		return model.NodeDone
	}
	if p.running && last == step {
		return model.NodeActive
	}

	if !p.running {
		return model.NodeIdle
	}
	lastIdx := model.StepIndex(last)
	if lastIdx == -1 {
		return model.NodeQueued
	}
	if model.StepIndex(step) > lastIdx {
		return model.NodeQueued
	}
	return model.NodeIdle
}

// StatusAll derives the state of every step in the vocabulary.
func (p *Projector) StatusAll() map[string]model.NodeStatus {
	out := make(map[string]model.NodeStatus, len(model.StepOrder))
	for _, step := range model.StepOrder {
		out[step] = p.Status(step)
	}
	return out
}

// Progress returns the overall completion percentage: the position of the
// last observed vocabulary step over the vocabulary length, or 0 when no
// step has been observed yet.
func (p *Projector) Progress() int {
	idx := model.StepIndex(p.LastStep())
	if idx == -1 {
		return 0
	}
	return int(math.Round(float64(idx+1) / float64(len(model.StepOrder)) * 100))
}

func (p *Projector) completed(step string) bool {
	if model.StepIndex(step) == -1 {
		return false
	}
	for _, e := range p.events {
		if e.Step == step {
			return true
		}
	}
	return false
}
