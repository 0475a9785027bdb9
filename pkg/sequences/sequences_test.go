package sequences

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
	"github.com/vikasavnish/seqfuzz/pkg/fuzzing"
	"github.com/vikasavnish/seqfuzz/pkg/logger"
	"github.com/vikasavnish/seqfuzz/pkg/monitor"
	"github.com/vikasavnish/seqfuzz/pkg/primitives"
	"github.com/vikasavnish/seqfuzz/pkg/requests"
	"github.com/vikasavnish/seqfuzz/pkg/transport"
)

// cityService is an in-memory target: PUT /city/X creates X, GET and
// DELETE /city/X need X to exist.
type cityService struct {
	mu       sync.Mutex
	cities   map[string]bool
	sent     []string
	override func(method, path string) *transport.Response
}

func newCityService() *cityService {
	return &cityService{cities: make(map[string]bool)}
}

func (c *cityService) Send(_ context.Context, raw string) (*transport.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, raw)

	fields := strings.Fields(raw)
	method, path := fields[0], fields[1]
	if c.override != nil {
		if resp := c.override(method, path); resp != nil {
			return resp, nil
		}
	}
	name := strings.TrimPrefix(strings.SplitN(path, "?", 2)[0], "/city/")
	switch method {
	case "PUT":
		c.cities[name] = true
		return &transport.Response{StatusCode: 201, Body: `{"name":"` + name + `"}`}, nil
	case "GET", "DELETE":
		if !c.cities[name] {
			return &transport.Response{StatusCode: 404}, nil
		}
		return &transport.Response{StatusCode: 200, Body: `{"name":"` + name + `"}`}, nil
	}
	return &transport.Response{StatusCode: 405}, nil
}

func (c *cityService) Close() error { return nil }

func (c *cityService) requestLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, raw := range c.sent {
		out[i] = strings.SplitN(raw, "\r\n", 2)[0]
	}
	return out
}

func putCity(t *testing.T, names ...string) *requests.Request {
	t.Helper()
	p, err := requests.NewExtractionParser(map[string]string{"cityName": "$.name"})
	require.NoError(t, err)
	return requests.New(requests.Spec{
		ID:       "put_city",
		Method:   "PUT",
		Endpoint: "/city/{name}",
		Path: []primitives.Block{
			primitives.Static("/city/"),
			primitives.FuzzableValue{Kind: primitives.KindGroup, EnumValues: names},
		},
		Parser: p,
	})
}

func getCity() *requests.Request {
	return requests.New(requests.Spec{
		ID:       "get_city",
		Method:   "GET",
		Endpoint: "/city/{cityName}",
		Path:     []primitives.Block{primitives.Static("/city/"), primitives.Reader("cityName")},
	})
}

func newContext(t *testing.T, tr transport.Transport, reqs []*requests.Request, mutate func(*config.Settings)) *fuzzing.Context {
	t.Helper()
	settings := config.Defaults()
	settings.Async.WaitForResourceCreation = false
	if mutate != nil {
		mutate(settings)
	}
	c, err := requests.NewCollection(reqs)
	require.NoError(t, err)
	fc, err := fuzzing.NewContext(settings, c, nil, tr, logger.Nop())
	require.NoError(t, err)
	return fc
}

func TestRenderResolvesProducedVariable(t *testing.T) {
	svc := newCityService()
	put, get := putCity(t, "paris"), getCity()
	fc := newContext(t, svc, []*requests.Request{put, get}, nil)

	seq := New(put, get)
	rs, err := seq.Render(context.Background(), fc, fc.NewVariableTable())
	require.NoError(t, err)

	assert.True(t, rs.Valid)
	assert.Equal(t, FailureNone, rs.Failure)
	assert.Equal(t, []string{"PUT /city/paris HTTP/1.1", "GET /city/paris HTTP/1.1"}, svc.requestLines())
	assert.Equal(t, PrefixValid, rs.Sequence.PrefixStatus)
	require.Len(t, rs.Sequence.SentRequestData, 2)
	assert.Equal(t, "paris", rs.Sequence.SentRequestData[0].Variables["cityName"])
	assert.Equal(t, 1, fc.Registry.Count("cityName"))
}

func TestRenderWalksCombinationsUntilExhausted(t *testing.T) {
	svc := newCityService()
	put := putCity(t, "paris", "rome")
	fc := newContext(t, svc, []*requests.Request{put}, nil)

	seq := New(put)
	vars := fc.NewVariableTable()
	for i := 0; i < 2; i++ {
		rs, err := seq.Render(context.Background(), fc, vars)
		require.NoError(t, err)
		assert.True(t, rs.Valid)
		assert.Equal(t, i, rs.Sequence.CombinationIDs[0])
	}
	_, err := seq.Render(context.Background(), fc, vars)
	assert.ErrorIs(t, err, requests.ErrCombinationsExhausted)
	assert.Equal(t, []string{"PUT /city/paris HTTP/1.1", "PUT /city/rome HTTP/1.1"}, svc.requestLines())
}

func TestRenderSkipsKnownInvalidCombinations(t *testing.T) {
	svc := newCityService()
	put := putCity(t, "paris", "rome")
	fc := newContext(t, svc, []*requests.Request{put}, nil)
	fc.Monitor.RecordRendering(put.ContentHash(), 0, false)

	rs, err := New(put).Render(context.Background(), fc, fc.NewVariableTable())
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Sequence.CombinationIDs[0])
	assert.Equal(t, []string{"PUT /city/rome HTTP/1.1"}, svc.requestLines())
}

func TestPrefixFailureIsRetried(t *testing.T) {
	svc := newCityService()
	failPut := true
	svc.override = func(method, path string) *transport.Response {
		if method == "PUT" && failPut {
			return &transport.Response{StatusCode: 400}
		}
		return nil
	}
	put, get := putCity(t, "paris"), getCity()
	get2 := requests.New(requests.Spec{
		ID:     "get_city_v",
		Method: "GET",
		Path: []primitives.Block{
			primitives.Static("/city/"), primitives.Reader("cityName"),
			primitives.FuzzableValue{Kind: primitives.KindGroup, EnumValues: []string{"", "?v=1"}},
		},
	})
	fc := newContext(t, svc, []*requests.Request{put, get, get2}, nil)

	seq := New(put, get2)
	vars := fc.NewVariableTable()
	rs, err := seq.Render(context.Background(), fc, vars)
	require.NoError(t, err)
	assert.False(t, rs.Valid)
	assert.Equal(t, FailureSequence, rs.Failure)
	assert.Equal(t, PrefixInvalid, rs.Sequence.PrefixStatus)
	assert.Len(t, svc.requestLines(), 1)

	assert.Equal(t, 0, seq.NextCombination(), "unsent terminal combination is kept")

	failPut = false
	rs, err = seq.Render(context.Background(), fc, vars)
	require.NoError(t, err)
	assert.True(t, rs.Valid)
	assert.Equal(t, 0, rs.Sequence.CombinationIDs[1])

	rs, err = seq.Render(context.Background(), fc, vars)
	require.NoError(t, err)
	assert.True(t, rs.Valid)
	assert.Equal(t, 1, rs.Sequence.CombinationIDs[1])
	assert.Equal(t, []string{
		"PUT /city/paris HTTP/1.1",
		"PUT /city/paris HTTP/1.1",
		"GET /city/paris HTTP/1.1",
		"PUT /city/paris HTTP/1.1",
		"GET /city/paris?v=1 HTTP/1.1",
	}, svc.requestLines())
}

func TestPrefixFailureDropsReusedPrefix(t *testing.T) {
	svc := newCityService()
	put, get := putCity(t, "paris"), getCity()
	fc := newContext(t, svc, []*requests.Request{put, get}, nil)

	failGet := true
	svc.override = func(method, path string) *transport.Response {
		if method == "GET" && failGet {
			return &transport.Response{StatusCode: 409}
		}
		return nil
	}

	seq := New(put, get, get)
	seq.UsePrefix(1, []int{0}, []SentRequestData{{RequestID: "put_city", Variables: map[string]string{"cityName": "paris"}}})
	vars := fc.NewVariableTable()

	rs, err := seq.Render(context.Background(), fc, vars)
	require.NoError(t, err)
	assert.Equal(t, FailureSequence, rs.Failure)
	assert.Zero(t, seq.RenderedPrefix())

	failGet = false
	rs, err = seq.Render(context.Background(), fc, vars)
	require.NoError(t, err)
	assert.True(t, rs.Valid)
	assert.Equal(t, []string{
		"GET /city/paris HTTP/1.1",
		"PUT /city/paris HTTP/1.1",
		"GET /city/paris HTTP/1.1",
		"GET /city/paris HTTP/1.1",
	}, svc.requestLines())
}

func TestRenderPrefixOnce(t *testing.T) {
	svc := newCityService()
	put := putCity(t, "paris")
	get := requests.New(requests.Spec{
		ID:     "get_city",
		Method: "GET",
		Path: []primitives.Block{
			primitives.Static("/city/"), primitives.Reader("cityName"),
			primitives.FuzzableValue{Kind: primitives.KindGroup, EnumValues: []string{"", "?v=1"}},
		},
	})
	fc := newContext(t, svc, []*requests.Request{put, get}, func(s *config.Settings) { s.RenderPrefixOnce = true })

	seq := New(put, get)
	vars := fc.NewVariableTable()
	for i := 0; i < 2; i++ {
		rs, err := seq.Render(context.Background(), fc, vars)
		require.NoError(t, err)
		assert.True(t, rs.Valid)
	}
	assert.Equal(t, []string{
		"PUT /city/paris HTTP/1.1",
		"GET /city/paris HTTP/1.1",
		"GET /city/paris?v=1 HTTP/1.1",
	}, svc.requestLines())
}

func TestRenderClassifiesFailures(t *testing.T) {
	tests := []struct {
		name    string
		resp    *transport.Response
		err     error
		mutate  func(*config.Settings)
		want    Failure
		wantVal bool
	}{
		{name: "bug", resp: &transport.Response{StatusCode: 500}, want: FailureBug},
		{name: "non-bug override", resp: &transport.Response{StatusCode: 503},
			mutate: func(s *config.Settings) { s.CustomNonBugCodes = []string{"503"} }, want: FailureNone},
		{name: "custom bug", resp: &transport.Response{StatusCode: 409},
			mutate: func(s *config.Settings) { s.CustomBugCodes = []string{"409"} }, want: FailureBug},
		{name: "invalid", resp: &transport.Response{StatusCode: 400}, want: FailureNone},
		{name: "missing status", err: errors.New("connection reset"), want: FailureMissingStatusCode},
		{name: "parser", resp: &transport.Response{StatusCode: 201, Body: "not json"}, want: FailureParser},
		{name: "unset variable", resp: &transport.Response{StatusCode: 201, Body: `{"id":1}`}, want: FailureParser},
		{name: "valid", resp: &transport.Response{StatusCode: 201, Body: `{"name":"x"}`}, want: FailureNone, wantVal: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := transport.SendFunc(func(context.Context, string) (*transport.Response, error) {
				return tt.resp, tt.err
			})
			put := putCity(t, "paris")
			fc := newContext(t, tr, []*requests.Request{put}, tt.mutate)

			rs, err := New(put).Render(context.Background(), fc, fc.NewVariableTable())
			require.NoError(t, err)
			assert.Equal(t, tt.want, rs.Failure)
			assert.Equal(t, tt.wantVal, rs.Valid)
		})
	}
}

func TestRenderStopsOnTimeBudget(t *testing.T) {
	svc := newCityService()
	put := putCity(t, "paris")
	fc := newContext(t, svc, []*requests.Request{put}, func(s *config.Settings) { s.TimeBudget = time.Nanosecond })
	time.Sleep(time.Millisecond)

	_, err := New(put).Render(context.Background(), fc, fc.NewVariableTable())
	assert.ErrorIs(t, err, monitor.ErrTimeBudgetExceeded)
	assert.Empty(t, svc.requestLines())
}

func TestUsePrefixSkipsCachedRequests(t *testing.T) {
	svc := newCityService()
	put, get := putCity(t, "paris"), getCity()
	fc := newContext(t, svc, []*requests.Request{put, get}, nil)

	first, err := New(put).Render(context.Background(), fc, fc.NewVariableTable())
	require.NoError(t, err)
	require.True(t, first.Valid)

	seq := New(put, get)
	seq.UsePrefix(1, first.Sequence.CombinationIDs, first.Sequence.SentRequestData)
	rs, err := seq.Render(context.Background(), fc, fc.NewVariableTable())
	require.NoError(t, err)
	assert.True(t, rs.Valid)
	assert.Equal(t, []string{"PUT /city/paris HTTP/1.1", "GET /city/paris HTTP/1.1"}, svc.requestLines())
	assert.Len(t, rs.Sequence.SentRequestData, 2)
}

func TestProducerTimingDelayIsRecorded(t *testing.T) {
	svc := newCityService()
	put := putCity(t, "paris")
	fc := newContext(t, svc, []*requests.Request{put}, func(s *config.Settings) {
		s.PerResourceDelays = map[string]time.Duration{"put_city": 10 * time.Millisecond}
	})

	rs, err := New(put).Render(context.Background(), fc, fc.NewVariableTable())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, rs.Sequence.SentRequestData[0].ProducerTimingDelay)
}

func TestWaitForResource(t *testing.T) {
	var polls int
	tr := transport.SendFunc(func(_ context.Context, raw string) (*transport.Response, error) {
		polls++
		assert.True(t, strings.HasPrefix(raw, "GET /operations/1 HTTP/1.1"))
		if polls < 2 {
			return &transport.Response{StatusCode: 200, Body: `{"status":"InProgress"}`}, nil
		}
		return &transport.Response{StatusCode: 200, Body: `{"status":"Succeeded"}`}, nil
	})
	resp := &transport.Response{StatusCode: 202, Headers: map[string]string{"Azure-AsyncOperation": "https://api/operations/1"}}

	ok, err := WaitForResource(context.Background(), tr, resp, 5*time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, polls)

	failed := transport.SendFunc(func(context.Context, string) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Body: `{"status":"Failed"}`}, nil
	})
	ok, err = WaitForResource(context.Background(), failed, resp, 5*time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, "", PollingURL(&transport.Response{StatusCode: 200, Headers: map[string]string{"Location": "/x"}}))
}

func TestSequenceComposition(t *testing.T) {
	put, get := putCity(t, "paris"), getCity()
	a := New(put)
	a.CombinationIDs[0] = 3
	b := a.Append(get)

	assert.Equal(t, []string{"put_city", "get_city"}, b.RequestIDs())
	assert.Equal(t, []int{3, 0}, b.CombinationIDs)
	assert.Equal(t, get, b.Last())
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.Equal(t, b.Hash(), b.Clone().Hash())

	c := b.ReplaceLast(put)
	assert.Equal(t, []string{"put_city", "put_city"}, c.RequestIDs())
	assert.Equal(t, []int{3, 0}, c.CombinationIDs)
}

func TestIsBugStatus(t *testing.T) {
	s := config.Defaults()
	assert.True(t, IsBugStatus(s, 500))
	assert.False(t, IsBugStatus(s, 404))

	s.CustomNonBugCodes = []string{"50*"}
	assert.False(t, IsBugStatus(s, 502))
	assert.True(t, IsBugStatus(s, 510))
}
