package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapRecorder(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rec := NewZapRecorder(zap.New(core))

	id, actor := uuid.New(), uuid.New()
	rec.Record(context.Background(), Record{
		EntityID:   id,
		EntityType: "Loan",
		Action:     ActionApprove,
		Before:     map[string]string{"status": "pending"},
		After:      map[string]string{"status": "active"},
		ActorID:    actor,
	})

	entries := logs.FilterMessage("audit").All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 audit line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["entity_id"] != id.String() {
		t.Errorf("Expected entity_id %s, got %v", id, fields["entity_id"])
	}
	if fields["action"] != string(ActionApprove) {
		t.Errorf("Expected action APPROVE, got %v", fields["action"])
	}
	if entries[0].LoggerName != "audit" {
		t.Errorf("Expected logger name audit, got %q", entries[0].LoggerName)
	}
}

func TestMemory(t *testing.T) {
	m := &Memory{}
	m.Record(context.Background(), Record{EntityType: "Account", Action: ActionCreate})
	m.Record(context.Background(), Record{EntityType: "Account", Action: ActionUpdate})

	if got := len(m.All()); got != 2 {
		t.Fatalf("Expected 2 records, got %d", got)
	}
	if m.All()[1].Action != ActionUpdate {
		t.Errorf("Expected records in insertion order")
	}
}
