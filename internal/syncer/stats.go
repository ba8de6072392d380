// internal/syncer/stats.go
package syncer

import (
	"time"

	"github.com/google/uuid"
)

// Stats summarizes one cycle. It is the only thing downstream consumers see.
type Stats struct {
	Added   int      `json:"added" yaml:"added"`
	Updated int      `json:"updated" yaml:"updated"`
	Deleted int      `json:"deleted" yaml:"deleted"`
	Errors  []string `json:"errors" yaml:"errors"`
}

// NewStats returns zero stats with a non-nil error list, so the JSON form
// always carries "errors": [].
func NewStats() Stats {
	return Stats{Errors: []string{}}
}

func (s *Stats) addError(err error) {
	s.Errors = append(s.Errors, err.Error())
}

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerStartup  Trigger = "startup"
	TriggerHTTP     Trigger = "http"
	TriggerCLI      Trigger = "cli"
)

// Status values recorded for finished cycles.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Result is one finished cycle.
type Result struct {
	ID         uuid.UUID `json:"id" yaml:"id"`
	Trigger    Trigger   `json:"trigger" yaml:"trigger"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Stats      Stats     `json:"stats" yaml:"stats"`
	// Err is set when the cycle aborted before applying. It is also the last
	// entry of Stats.Errors.
	Err error `json:"-" yaml:"-"`
}

// Success reports whether the cycle ran to completion.
func (r Result) Success() bool {
	return r.Err == nil
}

// Status classifies the result for run history.
func (r Result) Status() string {
	switch {
	case r.Err != nil:
		return StatusFailed
	case len(r.Stats.Errors) > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

// Duration is the wall time of the cycle.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
