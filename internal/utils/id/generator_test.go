package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskAndAgentIDPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewTaskID(), "task-"))
	assert.True(t, strings.HasPrefix(NewAgentID(), "agent-"))
}

func TestIdentifiersAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTaskID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestUUIDv7Strategy(t *testing.T) {
	SetStrategy(StrategyUUIDv7)
	defer SetStrategy(StrategyKSUID)

	id := NewTaskID()
	assert.True(t, strings.HasPrefix(id, "task-"))
	// UUIDs are dash-separated into five groups.
	assert.Len(t, strings.Split(strings.TrimPrefix(id, "task-"), "-"), 5)
}
