package domain

import (
	"time"
)

// Verdict is the outcome of a freshness check.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictSkip   Verdict = "skip"
)

// Decision is returned by the freshness gate. Age and Last are set only when
// a previous observation exists.
type Decision struct {
	Verdict Verdict
	Age     time.Duration
	Last    *Observation
}

// Accepted reports whether a new observation should be written.
func (d Decision) Accepted() bool { return d.Verdict == VerdictAccept }

// AgeMinutes returns the measured age in fractional minutes.
func (d Decision) AgeMinutes() float64 { return d.Age.Minutes() }

// OutcomeStatus is the terminal state of one entity within a run.
type OutcomeStatus string

const (
	StatusSaved       OutcomeStatus = "saved"
	StatusSkipped     OutcomeStatus = "skipped_fresh"
	StatusFetchFailed OutcomeStatus = "fetch_failed"
	StatusSaveFailed  OutcomeStatus = "save_failed"
	StatusGateFailed  OutcomeStatus = "gate_failed"
)

// EntityOutcome reports what happened to one entity key in a run.
type EntityOutcome struct {
	EntityKey   string        `json:"entity_key"`
	Status      OutcomeStatus `json:"status"`
	Observation *Observation  `json:"observation,omitempty"`
	AgeMinutes  *float64      `json:"age_minutes,omitempty"`
	FailureKind FailureKind   `json:"failure_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// RunSummary aggregates the outcomes of one pipeline run.
type RunSummary struct {
	RunID         string                   `json:"run_id"`
	StartedAt     time.Time                `json:"started_at"`
	FinishedAt    time.Time                `json:"finished_at"`
	MinAgeMinutes int                      `json:"min_age_minutes"`
	SkipIfFresh   bool                     `json:"skip_if_fresh"`
	Requested     int                      `json:"requested"`
	Saved         int                      `json:"saved"`
	Skipped       int                      `json:"skipped"`
	FetchFailed   int                      `json:"fetch_failed"`
	SaveFailed    int                      `json:"save_failed"`
	Outcomes      map[string]EntityOutcome `json:"outcomes"`
}

// Record stores an outcome and bumps the matching counter. Gate failures are
// counted with save failures since in both cases nothing was written.
func (s *RunSummary) Record(o EntityOutcome) {
	if s.Outcomes == nil {
		s.Outcomes = make(map[string]EntityOutcome)
	}
	s.Outcomes[o.EntityKey] = o
	switch o.Status {
	case StatusSaved:
		s.Saved++
	case StatusSkipped:
		s.Skipped++
	case StatusFetchFailed:
		s.FetchFailed++
	case StatusSaveFailed, StatusGateFailed:
		s.SaveFailed++
	}
}

// Duration returns how long the run took.
func (s RunSummary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }
