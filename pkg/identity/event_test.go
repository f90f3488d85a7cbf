package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 9, 30, 0, 123456789, time.UTC)

func buildChain(t *testing.T, userID string, n int) []*Event {
	t.Helper()
	var events []*Event
	var prev *Event
	for i := 0; i < n; i++ {
		e, err := NewEvent(userID, EventUserLogin, map[string]any{"seq": i, "ip": "10.0.0.1"}, prev, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		events = append(events, e)
		prev = e
	}
	return events
}

func TestCanonicalize_StableKeyOrder(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 1, "a": "x", "c": map[string]any{"z": true, "y": nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1,"c":{"y":null,"z":true}}`, string(a))

	empty, err := Canonicalize(nil)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(empty))
}

func TestComputeHash_Deterministic(t *testing.T) {
	data1 := map[string]any{"handle": "kaizen", "email": "kaizen@example.com"}
	data2 := map[string]any{"email": "kaizen@example.com", "handle": "kaizen"}

	h1, err := ComputeHash("u1", EventUserCreated, data1, "", base)
	require.NoError(t, err)
	h2, err := ComputeHash("u1", EventUserCreated, data2, "", base)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	// every input participates
	variants := []func() (string, error){
		func() (string, error) { return ComputeHash("u2", EventUserCreated, data1, "", base) },
		func() (string, error) { return ComputeHash("u1", EventUserLogin, data1, "", base) },
		func() (string, error) { return ComputeHash("u1", EventUserCreated, map[string]any{"handle": "other"}, "", base) },
		func() (string, error) { return ComputeHash("u1", EventUserCreated, data1, "abc", base) },
		func() (string, error) { return ComputeHash("u1", EventUserCreated, data1, "", base.Add(time.Microsecond)) },
	}
	for i, v := range variants {
		h, err := v()
		require.NoError(t, err)
		assert.NotEqual(t, h1, h, "variant %d", i)
	}
}

func TestComputeHash_SubMicrosecondIgnored(t *testing.T) {
	h1, err := ComputeHash("u1", EventUserLogin, nil, "", base)
	require.NoError(t, err)
	h2, err := ComputeHash("u1", EventUserLogin, nil, "", base.Add(500*time.Nanosecond))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestNewEvent_Links(t *testing.T) {
	events := buildChain(t, "u1", 3)

	assert.Empty(t, events[0].PreviousHash)
	assert.Equal(t, events[0].Hash, events[1].PreviousHash)
	assert.Equal(t, events[1].Hash, events[2].PreviousHash)
	assert.Equal(t, base.Truncate(time.Microsecond), events[0].CreatedAt)
}

func TestVerifyChain_Intact(t *testing.T) {
	require.NoError(t, VerifyChain(buildChain(t, "u1", 5)))
	require.NoError(t, VerifyChain(nil))
}

func TestVerifyChain_SurvivesJSONNumberRoundTrip(t *testing.T) {
	events := buildChain(t, "u1", 2)
	// storage decodes JSON numbers as float64
	for _, e := range events {
		e.Data["seq"] = float64(e.Data["seq"].(int))
	}
	require.NoError(t, VerifyChain(events))
}

func TestAudit_TamperBreaksSubsequentEvents(t *testing.T) {
	events := buildChain(t, "u1", 4)
	events[1].Data["ip"] = "6.6.6.6"

	failures := Audit(events)
	require.Len(t, failures, 3)
	assert.Equal(t, 1, failures[0].Index)
	assert.Equal(t, ReasonHashMismatch, failures[0].Reason)
	assert.Equal(t, 2, failures[1].Index)
	assert.Equal(t, 3, failures[2].Index)

	err := VerifyChain(events)
	var chainErr *ChainError
	require.True(t, errors.As(err, &chainErr))
	assert.Equal(t, 1, chainErr.Index)
	assert.Equal(t, events[1].ID, chainErr.EventID)
}

func TestAudit_BrokenLink(t *testing.T) {
	events := buildChain(t, "u1", 3)
	events[2].PreviousHash = events[0].Hash

	failures := Audit(events)
	require.NotEmpty(t, failures)
	assert.Equal(t, 2, failures[0].Index)
	assert.Equal(t, ReasonBrokenLink, failures[0].Reason)
}

func TestAudit_ForkDetected(t *testing.T) {
	events := buildChain(t, "u1", 2)
	fork, err := NewEvent("u1", EventUserLogin, nil, events[0], base.Add(5*time.Second))
	require.NoError(t, err)

	failures := Audit([]*Event{events[0], events[1], fork})
	require.Len(t, failures, 1)
	assert.Equal(t, ReasonBrokenLink, failures[0].Reason)
}

func TestAudit_MixedUsers(t *testing.T) {
	a := buildChain(t, "u1", 1)
	b := buildChain(t, "u2", 1)
	failures := Audit([]*Event{a[0], b[0]})
	require.Len(t, failures, 1)
	assert.Equal(t, ReasonWrongUser, failures[0].Reason)
}
