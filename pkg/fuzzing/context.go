// Package fuzzing wires together the state shared by every component of
// a fuzzing run.
package fuzzing

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vikasavnish/seqfuzz/pkg/config"
	"github.com/vikasavnish/seqfuzz/pkg/dependencies"
	"github.com/vikasavnish/seqfuzz/pkg/monitor"
	"github.com/vikasavnish/seqfuzz/pkg/primitives"
	"github.com/vikasavnish/seqfuzz/pkg/requests"
	"github.com/vikasavnish/seqfuzz/pkg/transport"
)

// Context carries the run's settings and shared collaborators. Lock
// guards the registry-facing and monitor state touched by render workers
// and every sequence copy handed across workers.
type Context struct {
	Settings   *config.Settings
	Collection *requests.Collection
	Pool       *primitives.Pool
	Registry   *dependencies.Registry
	Monitor    *monitor.Monitor
	Transport  transport.Transport
	Logger     *slog.Logger
	Lock       *sync.Mutex
}

// NewContext builds a context. A nil pool uses the default dictionary.
func NewContext(settings *config.Settings, collection *requests.Collection, pool *primitives.Pool,
	tr transport.Transport, logger *slog.Logger) (*Context, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings are required")
	}
	if collection == nil {
		return nil, fmt.Errorf("request collection is required")
	}
	if tr == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if pool == nil {
		pool = primitives.NewPool(nil)
	}
	if settings.Target.AuthToken != "" {
		pool.SetAuthToken("Authorization: " + settings.Target.AuthToken)
	}

	lock := &sync.Mutex{}
	return &Context{
		Settings:   settings,
		Collection: collection,
		Pool:       pool,
		Registry:   dependencies.NewRegistry(),
		Monitor:    monitor.New(lock, settings.TimeBudget),
		Transport:  tr,
		Logger:     logger,
		Lock:       lock,
	}, nil
}

// NewVariableTable returns a fresh worker-scoped variable table backed by
// the run's registry.
func (c *Context) NewVariableTable() *dependencies.VariableTable {
	return dependencies.NewVariableTable(c.Registry)
}

// NewGarbageCollector returns a collector over the run's registry.
func (c *Context) NewGarbageCollector() *dependencies.GarbageCollector {
	return dependencies.NewGarbageCollector(c.Collection, c.Pool, c.Transport, c.Registry,
		c.Settings.GarbageCollection, c.Logger)
}

// WithCollection returns a shallow copy of c using collection.
func (c *Context) WithCollection(collection *requests.Collection) *Context {
	cp := *c
	cp.Collection = collection
	return &cp
}
