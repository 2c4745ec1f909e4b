// Package activity provides helpers available inside activity functions via
// their context: execution info, heartbeats and heartbeat details of the
// previous attempt.
package activity

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"

	"github.com/corverroos/loom"
	"github.com/corverroos/loom/converter"
)

// Info describes the executing activity attempt.
type Info struct {
	TaskToken    string
	Execution    loom.Execution
	ActivityID   string
	ActivityType string
	Attempt      int

	ScheduledTime time.Time
	StartedTime   time.Time

	HeartbeatTimeout time.Duration

	// HeartbeatDetails holds the last heartbeat details of the previous
	// attempt, if any.
	HeartbeatDetails []byte
}

// Env is installed on the activity context by the worker.
type Env struct {
	Info Info
	DC   converter.DataConverter

	// Heartbeat records progress with the service. It is rate-limited by
	// the worker.
	Heartbeat func(ctx context.Context, details []byte) error
}

type envKey struct{}

// WithEnv returns a context carrying the activity environment.
func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

func getEnv(ctx context.Context) *Env {
	env, ok := ctx.Value(envKey{}).(*Env)
	if !ok {
		panic("not an activity context")
	}
	return env
}

// GetInfo returns the executing activity's info.
func GetInfo(ctx context.Context) Info {
	return getEnv(ctx).Info
}

// RecordHeartbeat records activity progress. If the service has a pending
// cancellation request for this activity, the context is cancelled.
func RecordHeartbeat(ctx context.Context, details ...any) {
	env := getEnv(ctx)

	var data []byte
	if len(details) > 0 {
		var err error
		data, err = env.DC.ToData(details...)
		if err != nil {
			return
		}
	}
	_ = env.Heartbeat(ctx, data)
}

// HasHeartbeatDetails returns true if the previous attempt recorded
// heartbeat details.
func HasHeartbeatDetails(ctx context.Context) bool {
	return len(getEnv(ctx).Info.HeartbeatDetails) > 0
}

// GetHeartbeatDetails decodes the previous attempt's last heartbeat details.
func GetHeartbeatDetails(ctx context.Context, valuePtrs ...any) error {
	env := getEnv(ctx)
	if len(env.Info.HeartbeatDetails) == 0 {
		return errors.New("no heartbeat details")
	}
	return env.DC.FromData(env.Info.HeartbeatDetails, valuePtrs...)
}
