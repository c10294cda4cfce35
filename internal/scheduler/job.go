package scheduler

import (
	"context"
	"time"
)

// historyLimit bounds the per-job result history kept in memory
const historyLimit = 100

// Job is a unit of scheduled work, typically one strategy's rebalance
// ⭐ SSOT: 스케줄 작업 인터페이스는 여기서만 정의
type Job interface {
	Name() string

	// Run executes the job. Errors wrapping a contracts sentinel are final and not retried.
	Run(ctx context.Context) error

	// Schedule returns the cron expression, seconds first ("0 0 18 * * *", "@monthly").
	// A "CRON_TZ=<zone> " prefix pins it to a timezone.
	Schedule() string
}

// JobResult is the outcome of one triggered run, retries included
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Attempts  int           `json:"attempts"`
	ErrorKind string        `json:"error_kind,omitempty"` // contracts.ErrorKind, "internal" for transient failures
	Error     string        `json:"error,omitempty"`
}

// JobHistory keeps the latest historyLimit results, oldest first
type JobHistory struct {
	Results []JobResult
}

// AddResult appends a result, evicting the oldest past historyLimit
func (h *JobHistory) AddResult(result JobResult) {
	h.Results = append(h.Results, result)
	if len(h.Results) > historyLimit {
		h.Results = h.Results[len(h.Results)-historyLimit:]
	}
}

// Latest returns the most recent result
func (h *JobHistory) Latest() (JobResult, bool) {
	if len(h.Results) == 0 {
		return JobResult{}, false
	}
	return h.Results[len(h.Results)-1], true
}

// LastWhere returns the most recent result whose Success equals success
func (h *JobHistory) LastWhere(success bool) (JobResult, bool) {
	for i := len(h.Results) - 1; i >= 0; i-- {
		if h.Results[i].Success == success {
			return h.Results[i], true
		}
	}
	return JobResult{}, false
}

// Counts returns the number of successful and failed results
func (h *JobHistory) Counts() (ok, failed int) {
	for _, r := range h.Results {
		if r.Success {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}

// SuccessRate returns the success rate (0.0 - 1.0)
func (h *JobHistory) SuccessRate() float64 {
	if len(h.Results) == 0 {
		return 0
	}
	ok, _ := h.Counts()
	return float64(ok) / float64(len(h.Results))
}

// FailuresByKind counts failed results per error kind
func (h *JobHistory) FailuresByKind() map[string]int {
	out := make(map[string]int)
	for _, r := range h.Results {
		if !r.Success {
			out[r.ErrorKind]++
		}
	}
	return out
}
