package blackboard

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

// TestStagingKey tests staging key generation for every kind
func TestStagingKey(t *testing.T) {
	objectiveID := uuid.New().String()

	tests := []struct {
		kind     StagingKind
		expected string
	}{
		{KindRaw, "drey:default:staging:raw:" + objectiveID},
		{KindObjective, "drey:default:staging:objective:" + objectiveID},
		{KindPlan, "drey:default:staging:plan:" + objectiveID},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			key := StagingKey("default", tt.kind, objectiveID)
			if key != tt.expected {
				t.Errorf("StagingKey() = %q, expected %q", key, tt.expected)
			}
		})
	}
}

// TestEventStreamKey tests stream key generation
func TestEventStreamKey(t *testing.T) {
	key := EventStreamKey("prod", "objective_events")

	expected := "drey:prod:stream:objective_events"
	if key != expected {
		t.Errorf("EventStreamKey() = %q, expected %q", key, expected)
	}
}

// TestNamespaceIsolation verifies different namespaces never share keys
func TestNamespaceIsolation(t *testing.T) {
	objectiveID := uuid.New().String()

	keyA := StagingKey("team-a", KindObjective, objectiveID)
	keyB := StagingKey("team-b", KindObjective, objectiveID)

	if keyA == keyB {
		t.Errorf("keys for different namespaces must differ, both were %q", keyA)
	}
	if !strings.Contains(keyA, ":team-a:") || !strings.Contains(keyB, ":team-b:") {
		t.Error("keys should embed their namespace")
	}
}

// TestStagingKinds tests every kind has a distinct key
func TestStagingKinds(t *testing.T) {
	seen := make(map[string]bool)
	for _, kind := range StagingKinds {
		key := StagingKey("ns", kind, "id")
		if seen[key] {
			t.Errorf("duplicate staging key %q", key)
		}
		seen[key] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 staging kinds, got %d", len(seen))
	}
}
