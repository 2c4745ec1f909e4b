package internal

import (
	"path"
	"strconv"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// TaskToken identifies an in-flight decision or activity task. It is opaque
// to workers and round-trips through poll and respond verbs.
type TaskToken struct {
	Domain     string
	WorkflowID string
	RunID      string

	// ScheduledEventID is the event that scheduled the task.
	ScheduledEventID int64
	Attempt          int
}

func (t TaskToken) Encode() string {
	return path.Join(t.Domain, t.WorkflowID, t.RunID,
		strconv.FormatInt(t.ScheduledEventID, 10), strconv.Itoa(t.Attempt))
}

func DecodeTaskToken(token string) (TaskToken, error) {
	split := strings.Split(token, "/")
	if len(split) != 5 {
		return TaskToken{}, errors.New("invalid task token", j.KV("token", token))
	}

	eventID, err := strconv.ParseInt(split[3], 10, 64)
	if err != nil {
		return TaskToken{}, errors.New("invalid task token event id", j.KV("token", token))
	}
	attempt, err := strconv.Atoi(split[4])
	if err != nil {
		return TaskToken{}, errors.New("invalid task token attempt", j.KV("token", token))
	}

	return TaskToken{
		Domain:           split[0],
		WorkflowID:       split[1],
		RunID:            split[2],
		ScheduledEventID: eventID,
		Attempt:          attempt,
	}, nil
}

// RunPath keys an execution as domain/workflow_id/run_id, used as stream
// foreign IDs and map keys.
func RunPath(domain, workflowID, runID string) string {
	return path.Join(domain, workflowID, runID)
}
