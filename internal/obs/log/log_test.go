package log

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInfowWritesStructuredFields(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	restore := SetForTest(zap.New(core))
	defer restore()

	Infow("tenant resolved", "tenant_id", "acme")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Message != "tenant resolved" {
		t.Fatalf("unexpected message: %s", entries[0].Message)
	}
	if got := entries[0].ContextMap()["tenant_id"]; got != "acme" {
		t.Fatalf("expected tenant_id=acme, got %v", got)
	}
}

func TestUnstructuredDefaultsTrue(t *testing.T) {
	t.Setenv("UNSTRUCTURED_LOGS", "")
	if !unstructured() {
		t.Fatal("expected unstructured() to default true when unset")
	}
	t.Setenv("UNSTRUCTURED_LOGS", "false")
	if unstructured() {
		t.Fatal("expected unstructured() to be false when explicitly disabled")
	}
	t.Setenv("UNSTRUCTURED_LOGS", "not-a-bool")
	if !unstructured() {
		t.Fatal("expected unstructured() to default true on parse failure")
	}
}
