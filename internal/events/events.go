// Package events delivers the events and scheduled actions rendered by an
// accepted transition to downstream systems.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind distinguishes notifications from work to be scheduled.
type Kind string

const (
	KindEvent  Kind = "event"
	KindAction Kind = "action"
)

// Record is one published message.
type Record struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Type       string            `json:"type"`
	EntityType string            `json:"entityType"`
	ResourceID string            `json:"resourceId"`
	AuditID    string            `json:"auditId"`
	Data       map[string]string `json:"data,omitempty"`
	// Timeout and DueAt are set on actions whose edge declares a timeout.
	Timeout    string    `json:"timeout,omitempty"`
	DueAt      time.Time `json:"dueAt,omitzero"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Key is the partitioning key: all records of one resource share it.
func (r Record) Key() string {
	return r.EntityType + "/" + r.ResourceID
}

// Publisher delivers records. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, records []Record) error
}

// MetricsRecorder is an optional callback for recording publish outcomes.
type MetricsRecorder func(sink string, success bool)

// LogPublisher writes records to a zap logger. It is the default sink.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, records []Record) error {
	for _, r := range records {
		p.logger.Info("lifecycle record",
			zap.String("id", r.ID),
			zap.String("kind", string(r.Kind)),
			zap.String("type", r.Type),
			zap.String("key", r.Key()),
			zap.String("audit_id", r.AuditID),
			zap.Any("data", r.Data),
			zap.String("timeout", r.Timeout),
		)
	}
	return nil
}

// Multi fans records out to every publisher and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, records []Record) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Instrumented reports every Publish outcome of a named sink.
type Instrumented struct {
	Sink      string
	Publisher Publisher
	Record    MetricsRecorder
}

// Instrument wraps p so each batch outcome is passed to rec.
func Instrument(sink string, p Publisher, rec MetricsRecorder) *Instrumented {
	return &Instrumented{Sink: sink, Publisher: p, Record: rec}
}

// Publish implements Publisher.
func (i *Instrumented) Publish(ctx context.Context, records []Record) error {
	err := i.Publisher.Publish(ctx, records)
	if i.Record != nil {
		i.Record(i.Sink, err == nil)
	}
	return err
}

// Recorder is a Publisher that keeps every record in memory.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	return nil
}

// Records returns a copy of everything published so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}
