package server

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/reflex"

	"github.com/corverroos/loom/api"
)

// closeEvent is one entry of the append-only close stream. IDs are the
// 1-based append sequence.
type closeEvent struct {
	id        int64
	timestamp time.Time
	typ       api.EventType
	foreignID string
	metadata  []byte
}

// pushCloseEvent appends the terminal event of an execution to the close
// stream. Metadata carries the JSON visibility record. Callers must hold
// s.mu.
func (s *Server) pushCloseEvent(e *execution, ev api.HistoryEvent) {
	meta, err := json.Marshal(e.info())
	if err != nil {
		meta = nil
	}

	s.closeEvents = append(s.closeEvents, closeEvent{
		id:        int64(len(s.closeEvents)) + 1,
		timestamp: s.clock.Now(),
		typ:       ev.Type,
		foreignID: e.path(),
		metadata:  meta,
	})
	close(s.streamNotify)
	s.streamNotify = make(chan struct{})
}

// Stream returns a reflex stream client of workflow close events after the
// given cursor. Event types are the terminal history event types, foreign
// IDs are domain/workflow_id/run_id paths and metadata is the JSON encoded
// api.ExecutionInfo of the closed run.
func (s *Server) Stream(ctx context.Context, after string, opts ...reflex.StreamOption) (reflex.StreamClient, error) {
	var o reflex.StreamOptions
	for _, opt := range opts {
		opt(&o)
	}

	var next int64 = 1
	if after != "" {
		i, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			return nil, errors.New("invalid stream cursor", j.KV("after", after))
		}
		next = i + 1
	}

	if o.StreamFromHead {
		s.mu.Lock()
		next = int64(len(s.closeEvents)) + 1
		s.mu.Unlock()
	}

	return &streamClient{
		s:      s,
		ctx:    ctx,
		next:   next,
		toHead: o.StreamToHead,
	}, nil
}

type streamClient struct {
	s      *Server
	ctx    context.Context
	next   int64
	toHead bool
}

func (c *streamClient) Recv() (*reflex.Event, error) {
	for {
		c.s.mu.Lock()
		if c.next <= int64(len(c.s.closeEvents)) {
			ev := c.s.closeEvents[c.next-1]
			c.next++
			c.s.mu.Unlock()

			return &reflex.Event{
				ID:        strconv.FormatInt(ev.id, 10),
				Type:      ev.typ,
				ForeignID: ev.foreignID,
				Timestamp: ev.timestamp,
				MetaData:  ev.metadata,
			}, nil
		}

		if c.toHead {
			c.s.mu.Unlock()
			return nil, reflex.ErrHeadReached
		}

		notify := c.s.streamNotify
		c.s.mu.Unlock()

		select {
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		case <-notify:
		}
	}
}
