package domain

// JobState is the lifecycle state of an analysis job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// IsValid checks if the state is a valid value.
func (s JobState) IsValid() bool {
	switch s {
	case JobPending, JobRunning, JobCompleted, JobFailed:
		return true
	}
	return false
}

// CanTransition reports whether from → to is a legal state machine edge.
// Legal edges: pending→running, running→completed, running→failed.
func CanTransition(from, to JobState) bool {
	switch from {
	case JobPending:
		return to == JobRunning
	case JobRunning:
		return to == JobCompleted || to == JobFailed
	}
	return false
}

// Job is one analysis request.
type Job struct {
	ID          string         `json:"job_id"`
	Address     WalletAddress  `json:"address"`
	State       JobState       `json:"state"`
	Result      *PersonaResult `json:"result,omitempty"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	Attempts    int            `json:"attempts"`
	Owner       string         `json:"owner,omitempty"` // instance that started the job
	CreatedAt   int64          `json:"created_at"`            // Unix ms
	StartedAt   int64          `json:"started_at,omitempty"`  // Unix ms, 0 until running
	FinishedAt  int64          `json:"finished_at,omitempty"` // Unix ms, 0 until terminal
}

// Clone returns a deep copy safe to hand to callers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Result = j.Result.Clone()
	return &c
}

// JobUpdate carries the fields written by a state transition.
type JobUpdate struct {
	State       JobState
	Result      *PersonaResult
	ErrorKind   ErrorKind
	ErrorDetail string
	Attempts    int
	Owner       string // recorded on pending→running
	At          int64  // Unix ms of the transition
}
