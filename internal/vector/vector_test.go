package vector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/ham/internal/metrics"
	"github.com/rcliao/ham/internal/model"
)

type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) Add(ctx context.Context, id, text string, meta map[string]string) error {
	return m.Called(id, text, meta).Error(0)
}

func (m *mockIndex) Query(ctx context.Context, text string, limit int) ([]Hit, error) {
	args := m.Called(text, limit)
	hits, _ := args.Get(0).([]Hit)
	return hits, args.Error(1)
}

func newTestIndex(t *testing.T) *ChromemIndex {
	t.Helper()
	idx, err := NewChromemIndex(ChromemOptions{})
	require.NoError(t, err)
	return idx
}

func TestChromemIndexRanksByOverlap(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, "mem_000001", "We talked about coffee beans and espresso machines", nil))
	require.NoError(t, idx.Add(ctx, "mem_000002", "The weather forecast says heavy rain tomorrow", map[string]string{"speaker": "user"}))
	require.NoError(t, idx.Add(ctx, "mem_000003", "Espresso with oat milk is my favourite coffee", nil))

	hits, err := idx.Query(ctx, "coffee espresso", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	ids := []string{hits[0].ID, hits[1].ID}
	assert.ElementsMatch(t, []string{"mem_000001", "mem_000003"}, ids)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestChromemIndexEmptyAndLimit(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	hits, err := idx.Query(ctx, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, idx.Add(ctx, "mem_000001", "only one record here", nil))
	hits, err = idx.Query(ctx, "record", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestChromemIndexDedupesChunks(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	long := strings.Repeat("Gardening notes about tomatoes and basil in the summer. ", 30)
	require.NoError(t, idx.Add(ctx, "mem_000009", long, nil))
	assert.Greater(t, idx.Count(), 1)

	hits, err := idx.Query(ctx, "tomatoes basil", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mem_000009", hits[0].ID)
}

func TestManagerForwardFailureIsSwallowed(t *testing.T) {
	idx := new(mockIndex)
	idx.On("Add", "mem_000001", "hello", mock.Anything).Return(errors.New("index down"))
	m := metrics.New()
	mgr := NewManager(idx, ManagerOptions{Timeout: time.Second, Metrics: m})

	mgr.Forward("mem_000001", "hello", model.Metadata{"speaker": "user", "tags": []string{"x"}})
	mgr.Close()

	idx.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VectorFailures))
	meta := idx.Calls[0].Arguments.Get(2).(map[string]string)
	assert.Equal(t, map[string]string{"speaker": "user"}, meta)
}

func TestManagerQueryFailureIsEmpty(t *testing.T) {
	idx := new(mockIndex)
	idx.On("Query", "q", 3).Return(nil, errors.New("boom"))
	mgr := NewManager(idx, ManagerOptions{})

	assert.Empty(t, mgr.Query(context.Background(), "q", 3))
}

func TestManagerWithoutIndex(t *testing.T) {
	mgr := NewManager(nil, ManagerOptions{})
	assert.False(t, mgr.Available())
	mgr.Forward("mem_000001", "x", nil)
	assert.Nil(t, mgr.Query(context.Background(), "x", 1))
	mgr.Close()
}

func TestManagerDropsAfterClose(t *testing.T) {
	idx := new(mockIndex)
	mgr := NewManager(idx, ManagerOptions{})
	mgr.Close()
	mgr.Forward("mem_000001", "late", nil)
	mgr.Wait()
	idx.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
}
