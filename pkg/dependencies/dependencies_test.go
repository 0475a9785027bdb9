package dependencies

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikasavnish/seqfuzz/pkg/config"
	"github.com/vikasavnish/seqfuzz/pkg/logger"
	"github.com/vikasavnish/seqfuzz/pkg/primitives"
	"github.com/vikasavnish/seqfuzz/pkg/requests"
	"github.com/vikasavnish/seqfuzz/pkg/transport"
)

func TestVariableRoundTrip(t *testing.T) {
	vt := NewVariableTable(nil)
	vt.Set("x", "42")
	assert.Equal(t, "42", vt.Get("x"))

	vt.Reset()
	assert.Equal(t, Unset, vt.Get("x"))
}

func TestVariableSnapshotRestore(t *testing.T) {
	reg := NewRegistry()
	vt := NewVariableTable(reg)
	vt.Set("a", "1")
	snap := vt.Snapshot()
	vt.Set("a", "2")
	vt.Set("b", "3")

	vt.Restore(snap)
	assert.Equal(t, "1", vt.Get("a"))
	assert.Equal(t, Unset, vt.Get("b"))
	assert.Equal(t, 2, reg.Count("a"))
}

func TestResolve(t *testing.T) {
	vt := NewVariableTable(nil)
	vt.Set("city", "paris")

	data := "GET /city/" + primitives.Placeholder("city") + "/" + primitives.Placeholder("zip") + " HTTP/1.1"
	assert.Equal(t, "GET /city/paris/None HTTP/1.1", vt.Resolve(data))
	assert.Equal(t, "plain", vt.Resolve("plain"))
	assert.Equal(t, "a"+primitives.RDELIM+"b", vt.Resolve("a"+primitives.RDELIM+"b"))
}

func TestRegistryEvictAndSave(t *testing.T) {
	reg := NewRegistry()
	for _, v := range []string{"a", "b", "c", "d"} {
		reg.Add("city", v)
	}
	reg.Save("city", "b")

	evicted := reg.Evict(1)
	assert.Equal(t, map[string][]string{"city": {"a", "c"}}, evicted)
	assert.Equal(t, 1, reg.Count("city"))

	all := reg.DrainAll()
	assert.ElementsMatch(t, []string{"d", "b"}, all["city"])
	assert.Empty(t, reg.Types())
}

type recordingTransport struct {
	mu     sync.Mutex
	sent   []string
	status int
	err    error
}

func (r *recordingTransport) Send(_ context.Context, raw string) (*transport.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, raw)
	if r.err != nil {
		return nil, r.err
	}
	return &transport.Response{StatusCode: r.status}, nil
}

func (r *recordingTransport) Close() error { return nil }

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func cityCollection(t *testing.T) *requests.Collection {
	t.Helper()
	del := func(id, endpoint string) *requests.Request {
		return requests.New(requests.Spec{
			ID:       id,
			Method:   "DELETE",
			Endpoint: endpoint,
			Path:     []primitives.Block{primitives.Static("/city/"), primitives.Reader("cityName")},
		})
	}
	c, err := requests.NewCollection([]*requests.Request{
		del("delete_city_house", "/city/{cityName}/house"),
		del("delete_city", "/city/{cityName}"),
		requests.New(requests.Spec{ID: "get_city", Method: "GET", Path: []primitives.Block{primitives.Reader("cityName")}}),
	})
	require.NoError(t, err)
	return c
}

func newGC(t *testing.T, tr transport.Transport, reg *Registry, cfg config.GarbageCollectionConfig) *GarbageCollector {
	return NewGarbageCollector(cityCollection(t), primitives.NewPool(nil), tr, reg, cfg, logger.Nop())
}

func TestDestructorPrefersMatchingSegment(t *testing.T) {
	gc := newGC(t, &recordingTransport{}, NewRegistry(), config.GarbageCollectionConfig{})

	d, ok := gc.Destructor("cityName")
	require.True(t, ok)
	assert.Equal(t, "delete_city", d.ID())

	_, ok = gc.Destructor("zip")
	assert.False(t, ok)
	assert.Equal(t, []string{"zip"}, gc.Stats().Skipped)
}

func TestGCTreats404AsDeleted(t *testing.T) {
	tr := &recordingTransport{status: 404}
	reg := NewRegistry()
	reg.Add("cityName", "paris")
	reg.Add("cityName", "rome")

	gc := newGC(t, tr, reg, config.GarbageCollectionConfig{DynObjectsCacheSize: 1, MaxAgedObjects: 10})
	require.NoError(t, gc.RunCycle(context.Background()))

	assert.Equal(t, 1, tr.count())
	assert.True(t, strings.HasPrefix(tr.sent[0], "DELETE /city/paris HTTP/1.1"))
	assert.Equal(t, 0, gc.Pending("cityName"))
	assert.Equal(t, 1, gc.Stats().Deleted["cityName"])

	// nothing left aging: no further sends
	require.NoError(t, gc.RunCycle(context.Background()))
	assert.Equal(t, 1, tr.count())
}

func TestGCRendersDestructorWithManyFuzzableBlocks(t *testing.T) {
	path := []primitives.Block{primitives.Static("/city/"), primitives.Reader("cityName")}
	for i := 0; i < 64; i++ {
		path = append(path, primitives.Static("/"),
			primitives.FuzzableValue{Kind: primitives.KindGroup, EnumValues: []string{"a", "b"}})
	}
	c, err := requests.NewCollection([]*requests.Request{requests.New(requests.Spec{
		ID:       "delete_city",
		Method:   "DELETE",
		Endpoint: "/city/{cityName}",
		Path:     path,
	})})
	require.NoError(t, err)

	tr := &recordingTransport{status: 204}
	reg := NewRegistry()
	reg.Add("cityName", "paris")
	gc := NewGarbageCollector(c, primitives.NewPool(nil), tr, reg,
		config.GarbageCollectionConfig{DynObjectsCacheSize: 0, MaxAgedObjects: 10}, logger.Nop())

	require.NoError(t, gc.RunCycle(context.Background()))
	require.Equal(t, 1, tr.count())
	assert.True(t, strings.HasPrefix(tr.sent[0], "DELETE /city/paris/a/a/"), tr.sent[0])
	assert.Equal(t, 1, gc.Stats().Deleted["cityName"])
}

func TestGCRetriesUnconfirmedAndCaps(t *testing.T) {
	tr := &recordingTransport{status: 500}
	reg := NewRegistry()
	for _, v := range []string{"a", "b", "c"} {
		reg.Add("cityName", v)
	}

	gc := newGC(t, tr, reg, config.GarbageCollectionConfig{DynObjectsCacheSize: 0, MaxAgedObjects: 2})
	require.NoError(t, gc.RunCycle(context.Background()))
	assert.Equal(t, 3, tr.count())
	assert.Equal(t, 2, gc.Pending("cityName"))

	require.NoError(t, gc.RunCycle(context.Background()))
	assert.Equal(t, 5, tr.count())
	assert.Equal(t, 5, gc.Stats().Failed["cityName"])
}

func TestGCTransportErrorAbortsCycle(t *testing.T) {
	tr := &recordingTransport{err: errors.New("connection refused")}
	reg := NewRegistry()
	reg.Add("cityName", "a")
	reg.Add("cityName", "b")

	gc := newGC(t, tr, reg, config.GarbageCollectionConfig{MaxAgedObjects: 10})
	require.NoError(t, gc.RunCycle(context.Background()))
	assert.Equal(t, 1, tr.count())
	assert.Equal(t, 2, gc.Pending("cityName"))
	assert.NoError(t, gc.Err())
}

func TestFinishDrainsSavedObjects(t *testing.T) {
	tr := &recordingTransport{status: 204}
	reg := NewRegistry()
	reg.Add("cityName", "a")
	reg.Add("cityName", "b")
	reg.Save("cityName", "b")

	gc := newGC(t, tr, reg, config.GarbageCollectionConfig{DynObjectsCacheSize: 10, MaxAgedObjects: 10})
	require.NoError(t, gc.Finish(context.Background(), 5*time.Second))
	assert.Equal(t, 2, tr.count())
	assert.Equal(t, 0, gc.Pending("cityName"))
}

func TestStartRunsCycles(t *testing.T) {
	tr := &recordingTransport{status: 200}
	reg := NewRegistry()
	reg.Add("cityName", "a")

	gc := newGC(t, tr, reg, config.GarbageCollectionConfig{MaxAgedObjects: 10})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gc.Start(ctx, time.Second)
	defer gc.Stop()

	assert.Eventually(t, func() bool { return tr.count() == 1 }, 5*time.Second, 50*time.Millisecond)
}
