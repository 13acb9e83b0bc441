package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchEngine installs one encrypt rule so a payload referencing it succeeds
// and a bad key reference fails that item.
func batchEngine(t *testing.T) *Engine {
	t.Helper()
	e := newTestEngine(t)
	require.NoError(t, e.AddRule(Rule{
		ID:            "enc-secret",
		Priority:      10,
		Enabled:       true,
		FieldPatterns: []string{"secret"},
		Spec:          Spec{Type: TypeEncrypt, Parameters: map[string]any{"keyName": "pii"}, Reversible: true},
	}))
	require.NoError(t, e.AddRule(Rule{
		ID:            "enc-poison",
		Priority:      10,
		Enabled:       true,
		FieldPatterns: []string{"poison"},
		Spec:          Spec{Type: TypeEncrypt, Parameters: map[string]any{"keyName": "missing"}},
	}))
	return e
}

func TestBatchContinueOnErrorYieldsPartial(t *testing.T) {
	e := batchEngine(t)

	result, err := e.BatchTransform(context.Background(), BatchTransformRequest{
		RequestID: "batch-1",
		Items: []BatchItem{
			{ID: "ok-1", Data: map[string]any{"secret": "a"}},
			{ID: "bad", Data: map[string]any{"poison": "b"}},
			{ID: "ok-2", Data: map[string]any{"secret": "c"}},
		},
		Options: BatchOptions{ContinueOnError: true},
	})
	require.NoError(t, err)

	assert.Equal(t, BatchPartial, result.Status)
	assert.Equal(t, 2, result.Summary.Successful)
	assert.Equal(t, 1, result.Summary.Failed)

	byID := map[string]BatchItemResult{}
	for _, r := range result.Results {
		byID[r.ID] = r
	}
	assert.True(t, byID["ok-1"].Success)
	assert.True(t, byID["ok-2"].Success)
	assert.False(t, byID["bad"].Success)
	assert.NotEmpty(t, byID["bad"].Error)
}

func TestBatchFailsFastWithoutContinueOnError(t *testing.T) {
	e := batchEngine(t)

	result, err := e.BatchTransform(context.Background(), BatchTransformRequest{
		Items: []BatchItem{
			{ID: "bad", Data: map[string]any{"poison": "x"}},
			{ID: "ok", Data: map[string]any{"secret": "y"}},
		},
		Options: BatchOptions{ContinueOnError: false},
	})
	require.NoError(t, err)
	assert.Equal(t, BatchFailed, result.Status)
	assert.GreaterOrEqual(t, result.Summary.Failed, 1)
}

func TestBatchAllSuccess(t *testing.T) {
	e := batchEngine(t)

	result, err := e.BatchTransform(context.Background(), BatchTransformRequest{
		Items: []BatchItem{
			{ID: "a", Data: map[string]any{"secret": "1"}},
			{ID: "b", Data: map[string]any{"secret": "2"}},
		},
		Options: BatchOptions{Parallel: true, MaxConcurrency: 2, Timeout: time.Second},
	})
	require.NoError(t, err)
	assert.Equal(t, BatchSuccess, result.Status)
	assert.Equal(t, 2, result.Summary.Successful)
	assert.Zero(t, result.Summary.Failed)
	assert.NotEmpty(t, result.RequestID)
}

func TestBatchEmptyRejected(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.BatchTransform(context.Background(), BatchTransformRequest{})
	assert.Error(t, err)
}
