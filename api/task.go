package api

import (
	"time"

	"github.com/corverroos/loom"
)

// DecisionTask asks a workflow worker to advance one execution. History
// always starts at event 1; pages beyond the first are fetched via
// NextPageToken. Events after PreviousStartedEventID are new since the last
// completed decision.
type DecisionTask struct {
	TaskToken    string
	Execution    loom.Execution
	WorkflowType string

	History       []HistoryEvent
	NextPageToken string

	PreviousStartedEventID int64
	StartedEventID         int64
	Attempt                int

	// Query is set for query-only decision tasks. Such tasks carry no new
	// events and their completion appends nothing to history.
	Query *QueryInput
}

// QueryInput carries a synchronous query against workflow state.
type QueryInput struct {
	QueryType string
	Args      []byte
}

// ActivityTask asks an activity worker to execute one activity attempt.
type ActivityTask struct {
	TaskToken string
	Execution loom.Execution

	ActivityID   string
	ActivityType string
	Input        []byte
	Attempt      int

	ScheduledTime time.Time
	StartedTime   time.Time

	ScheduleToCloseTimeout time.Duration
	StartToCloseTimeout    time.Duration
	HeartbeatTimeout       time.Duration

	// HeartbeatDetails holds the details of the previous attempt's last
	// heartbeat, if any.
	HeartbeatDetails []byte
}
