package types_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/memkeep/pkg/types"
)

func TestScopeRank_NarrowerFirst(t *testing.T) {
	assert.Less(t, types.ScopeUser.Rank(), types.ScopeProject.Rank())
	assert.Less(t, types.ScopeProject.Rank(), types.ScopeGlobal.Rank())
	assert.Less(t, types.ScopeGlobal.Rank(), types.Scope("weird").Rank())
}

func TestMemoryValidate(t *testing.T) {
	valid := types.Memory{UserID: "u1", Content: "likes tea", Scope: types.ScopeUser, Confidence: 0.7}
	assert.NoError(t, valid.Validate())

	cases := map[string]types.Memory{
		"missing user":        {Content: "x", Scope: types.ScopeUser},
		"missing content":     {UserID: "u1", Scope: types.ScopeUser},
		"bad scope":           {UserID: "u1", Content: "x", Scope: "team"},
		"project without id":  {UserID: "u1", Content: "x", Scope: types.ScopeProject},
		"confidence too high": {UserID: "u1", Content: "x", Scope: types.ScopeUser, Confidence: 1.2},
		"confidence negative": {UserID: "u1", Content: "x", Scope: types.ScopeUser, Confidence: -0.1},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, m.Validate())
		})
	}
}

func TestIsExpired_TimezoneNormalized(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokyo := time.FixedZone("JST", 9*3600)

	// 20:59:59 JST is 11:59:59 UTC, one second before now.
	past := time.Date(2026, 3, 1, 20, 59, 59, 0, tokyo)
	m := types.Memory{ExpiresAt: &past}
	assert.True(t, m.IsExpired(now))

	future := time.Date(2026, 3, 1, 21, 0, 1, 0, tokyo)
	m.ExpiresAt = &future
	assert.False(t, m.IsExpired(now))

	m.ExpiresAt = nil
	assert.False(t, m.IsExpired(now.Add(100*365*24*time.Hour)))
}

func TestVisibleTo(t *testing.T) {
	user := types.Memory{UserID: "alice", Scope: types.ScopeUser}
	project := types.Memory{UserID: "bob", Scope: types.ScopeProject, ProjectID: "p1"}
	global := types.Memory{UserID: "carol", Scope: types.ScopeGlobal}

	assert.True(t, user.VisibleTo("alice", ""))
	assert.False(t, user.VisibleTo("bob", ""))
	assert.True(t, project.VisibleTo("alice", "p1"))
	assert.False(t, project.VisibleTo("alice", ""))
	assert.False(t, project.VisibleTo("alice", "p2"))
	assert.True(t, global.VisibleTo("anyone", ""))
}

func TestClone_DoesNotShareMutableState(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	m := &types.Memory{
		Metadata:  map[string]interface{}{"subject": "editor"},
		Embedding: []float32{1, 2},
		ExpiresAt: &exp,
	}
	c := m.Clone()
	c.Metadata["subject"] = "shell"
	c.Embedding[0] = 9
	*c.ExpiresAt = exp.Add(time.Hour)

	assert.Equal(t, "editor", m.SubjectHint())
	assert.Equal(t, float32(1), m.Embedding[0])
	assert.True(t, m.ExpiresAt.Equal(exp))
}

func TestJanitorRunStats_Add(t *testing.T) {
	var s types.JanitorRunStats
	s.Add(types.TaskStats{Task: "dedup", Processed: 4, Removed: 1})
	s.Add(types.TaskStats{Task: "contradiction", Processed: 3, Resolved: 2, Errors: 1})

	assert.Equal(t, 7, s.Processed)
	assert.Equal(t, 1, s.Removed)
	assert.Equal(t, 2, s.Resolved)
	assert.Equal(t, 1, s.Errors)
	assert.Len(t, s.Tasks, 2)
}
