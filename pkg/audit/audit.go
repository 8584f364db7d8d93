// Package audit records who changed what. Recording happens after commit and never fails
// the operation that triggered it.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionDelete  Action = "DELETE"
)

type Record struct {
	EntityID   uuid.UUID `json:"entity_id"`
	EntityType string    `json:"entity_type"`
	Action     Action    `json:"action"`
	Before     any       `json:"before,omitempty"`
	After      any       `json:"after,omitempty"`
	ActorID    uuid.UUID `json:"actor_id"`
	At         time.Time `json:"at"`
}

type Recorder interface {
	Record(ctx context.Context, r Record)
}

type Nop struct{}

func (Nop) Record(context.Context, Record) {}

// Memory keeps records in memory.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func (m *Memory) Record(_ context.Context, r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

func (m *Memory) All() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// ZapRecorder writes each record as a structured log line.
type ZapRecorder struct {
	logger *zap.Logger
}

func NewZapRecorder(logger *zap.Logger) *ZapRecorder {
	return &ZapRecorder{logger: logger.Named("audit")}
}

func (z *ZapRecorder) Record(_ context.Context, r Record) {
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	z.logger.Info("audit",
		zap.String("entity_id", r.EntityID.String()),
		zap.String("entity_type", r.EntityType),
		zap.String("action", string(r.Action)),
		zap.String("actor_id", r.ActorID.String()),
		zap.Any("before", r.Before),
		zap.Any("after", r.After),
		zap.Time("at", r.At),
	)
}
