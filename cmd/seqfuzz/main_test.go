package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikasavnish/seqfuzz/pkg/config"
	"github.com/vikasavnish/seqfuzz/pkg/driver"
	"github.com/vikasavnish/seqfuzz/pkg/logger"
	"github.com/vikasavnish/seqfuzz/pkg/requests"
)

const cityGrammar = `{
	"requests": [
		{
			"id": "put_city",
			"method": "PUT",
			"endpoint": "/city/{name}",
			"path": [
				{"type": "static", "value": "/city/"},
				{"type": "fuzzable", "kind": "fuzzable_string", "default": "seattle"}
			],
			"body": [{"type": "static", "value": "{\"population\":1}"}],
			"produces": {"cityName": "$.name"}
		},
		{
			"id": "get_city",
			"method": "GET",
			"endpoint": "/city/{cityName}",
			"path": [
				{"type": "static", "value": "/city/"},
				{"type": "reader", "variable": "cityName"}
			]
		},
		{
			"id": "delete_city",
			"method": "DELETE",
			"endpoint": "/city/{cityName}",
			"path": [
				{"type": "static", "value": "/city/"},
				{"type": "reader", "variable": "cityName"}
			]
		}
	]
}`

type cityServer struct {
	mu     sync.Mutex
	cities map[string]bool
	calls  []string
}

func (s *cityServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, r.Method)

	name := strings.TrimPrefix(r.URL.Path, "/city/")
	switch r.Method {
	case http.MethodPut:
		s.cities[name] = true
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"name":%q}`, name)
	case http.MethodGet:
		if !s.cities[name] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"name":%q}`, name)
	case http.MethodDelete:
		if !s.cities[name] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(s.cities, name)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *cityServer) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == method {
			n++
		}
	}
	return n
}

func targetSettings(t *testing.T, rawURL string) *config.Settings {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	settings := config.Defaults()
	settings.Target.Host = host
	settings.Target.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	settings.GarbageCollection.Interval = 0
	settings.BugBucketsDir = t.TempDir()
	return settings
}

func TestFlagHelpers(t *testing.T) {
	args := []string{"seqfuzz", "fuzz", "--settings", "s.yaml", "grammar.json", "--strict"}

	assert.Equal(t, "s.yaml", flagValue(args, "--settings"))
	assert.Equal(t, "", flagValue(args, "--jobs"))
	assert.True(t, hasFlag(args, "--strict"))
	assert.False(t, hasFlag(args, "--mode"))
	assert.Equal(t, "grammar.json", positional(args))
	assert.Equal(t, "", positional([]string{"seqfuzz", "fuzz", "--jobs", "2"}))
	assert.Equal(t, "g.json", positional([]string{"seqfuzz", "validate", "--strict", "g.json"}))
}

func TestLoadSettingsAppliesFlags(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	settings, err := loadSettings([]string{"seqfuzz", "fuzz", "g.json",
		"--settings", missing, "--jobs", "3", "--mode", "random-walk", "--dictionary", "dict.json"}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, settings.FuzzingJobs)
	assert.Equal(t, config.ModeRandomWalk, settings.FuzzingMode)
	assert.Equal(t, "dict.json", settings.DictionaryFile)

	settings, err = loadSettings([]string{"seqfuzz", "smoke", "g.json",
		"--settings", missing, "--mode", "bfs"}, config.ModeDirectedSmokeTest)
	require.NoError(t, err)
	assert.Equal(t, config.ModeDirectedSmokeTest, settings.FuzzingMode)

	_, err = loadSettings([]string{"seqfuzz", "fuzz", "--settings", missing, "--jobs", "many"}, "")
	assert.Error(t, err)

	_, err = loadSettings([]string{"seqfuzz", "fuzz", "--settings", missing, "--mode", "dfs"}, "")
	assert.Error(t, err)
}

func TestRunFuzzSmokeTest(t *testing.T) {
	srv := &cityServer{cities: make(map[string]bool)}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	settings := targetSettings(t, ts.URL)
	settings.FuzzingMode = config.ModeDirectedSmokeTest

	collection, err := requests.LoadGrammar(strings.NewReader(cityGrammar))
	require.NoError(t, err)

	result, err := runFuzz(context.Background(), settings, collection, logger.Nop())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Renderings)
	assert.Equal(t, 3, result.Stats.ValidRenderings)
	assert.Equal(t, driver.TerminationExhausted, result.Stats.Termination)
	assert.Empty(t, result.Bugs)
	assert.Positive(t, srv.count(http.MethodDelete))
	assert.Empty(t, srv.cities, "leftover cities are cleaned up")
}

func TestRunFuzzRejectsUnknownChecker(t *testing.T) {
	settings := targetSettings(t, "http://127.0.0.1:1")
	settings.Checkers = []string{"no_such_checker"}

	collection, err := requests.LoadGrammar(strings.NewReader(cityGrammar))
	require.NoError(t, err)

	_, err = runFuzz(context.Background(), settings, collection, logger.Nop())
	assert.ErrorContains(t, err, "no_such_checker")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "HTTP/1.1 500 Internal Server Error", firstLine("HTTP/1.1 500 Internal Server Error\r\n\r\n"))
	assert.Equal(t, "plain", firstLine("plain"))
}
