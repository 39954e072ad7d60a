package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/store"
)

// ProcessingFailure is an event a downstream stage could not handle.
type ProcessingFailure struct {
	Source    string          `json:"source"`
	Topic     string          `json:"topic,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
}

// FailureLog is the bounded dead-letter list for processing failures.
type FailureLog struct {
	rdb        redis.Cmdable
	maxEntries int64
}

func NewFailureLog(rdb redis.Cmdable, maxEntries int64) *FailureLog {
	return &FailureLog{rdb: rdb, maxEntries: maxEntries}
}

// Record stores a failure. Payloads that are not valid JSON are stored as a
// JSON string.
func (l *FailureLog) Record(ctx context.Context, failure ProcessingFailure) error {
	if !json.Valid(failure.Payload) {
		quoted, err := json.Marshal(string(failure.Payload))
		if err != nil {
			return eris.Wrap(err, "pipeline: quote failed payload")
		}
		failure.Payload = quoted
	}
	if failure.Timestamp.IsZero() {
		failure.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(failure)
	if err != nil {
		return eris.Wrap(err, "pipeline: encode failure")
	}
	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, store.KeyFailedProcessing, data)
		if l.maxEntries > 0 {
			pipe.LTrim(ctx, store.KeyFailedProcessing, 0, l.maxEntries-1)
		}
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "pipeline: record failure")
	}
	return nil
}

// Recent returns the newest failures first.
func (l *FailureLog) Recent(ctx context.Context, limit int64) ([]ProcessingFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := l.rdb.LRange(ctx, store.KeyFailedProcessing, 0, limit-1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read failures")
	}

	out := make([]ProcessingFailure, 0, len(raw))
	for _, item := range raw {
		var f ProcessingFailure
		if err := json.Unmarshal([]byte(item), &f); err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}
