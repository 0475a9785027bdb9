package dependencies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vikasavnish/seqfuzz/pkg/config"
	"github.com/vikasavnish/seqfuzz/pkg/logger"
	"github.com/vikasavnish/seqfuzz/pkg/primitives"
	"github.com/vikasavnish/seqfuzz/pkg/requests"
	"github.com/vikasavnish/seqfuzz/pkg/tracer"
	"github.com/vikasavnish/seqfuzz/pkg/transport"
)

// deletedStatus lists the destructor responses that confirm deletion.
var deletedStatus = map[int]bool{200: true, 202: true, 204: true, 404: true}

// GCStats summarizes garbage collector activity.
type GCStats struct {
	Cycles   int
	Deleted  map[string]int
	Failed   map[string]int
	Pending  map[string]int
	Skipped  []string
	LastErr  string
	LastTime time.Time
}

// GarbageCollector deletes dynamic objects evicted from the registry.
type GarbageCollector struct {
	collection *requests.Collection
	pool       *primitives.Pool
	transport  transport.Transport
	registry   *Registry
	cfg        config.GarbageCollectionConfig
	logger     *slog.Logger

	// cycleMu serializes deletion cycles.
	cycleMu sync.Mutex

	mu           sync.Mutex
	aging        map[string][]string
	destructors  map[string]*requests.Request
	noDestructor map[string]bool
	stats        GCStats
	fatal        error

	cron *cron.Cron
}

// NewGarbageCollector creates a collector over reg.
func NewGarbageCollector(c *requests.Collection, pool *primitives.Pool, tr transport.Transport,
	reg *Registry, cfg config.GarbageCollectionConfig, log *slog.Logger) *GarbageCollector {
	return &GarbageCollector{
		collection:   c,
		pool:         pool,
		transport:    tr,
		registry:     reg,
		cfg:          cfg,
		logger:       logger.For(log, logger.ComponentGC),
		aging:        make(map[string][]string),
		destructors:  make(map[string]*requests.Request),
		noDestructor: make(map[string]bool),
		stats: GCStats{
			Deleted: make(map[string]int),
			Failed:  make(map[string]int),
		},
	}
}

// Destructor returns the DELETE request whose only consumed variable is
// objType, preferring one whose last path segment names the type.
func (gc *GarbageCollector) Destructor(objType string) (*requests.Request, bool) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if r, ok := gc.destructors[objType]; ok {
		return r, true
	}
	if gc.noDestructor[objType] {
		return nil, false
	}

	var match *requests.Request
	for _, r := range gc.collection.Requests() {
		if r.Method() != "DELETE" {
			continue
		}
		consumes := r.Consumes()
		if len(consumes) != 1 || consumes[0] != objType {
			continue
		}
		if match == nil {
			match = r
		}
		if lastSegment(r.Endpoint()) == objType {
			match = r
			break
		}
	}
	if match == nil {
		gc.noDestructor[objType] = true
		gc.stats.Skipped = append(gc.stats.Skipped, objType)
		return nil, false
	}
	gc.destructors[objType] = match
	return match, true
}

func lastSegment(endpoint string) string {
	seg := path.Base(strings.TrimRight(endpoint, "/"))
	return strings.Trim(seg, "{}")
}

// Start runs a cycle every interval until ctx is done or Stop is called.
func (gc *GarbageCollector) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	gc.cron = cron.New()
	gc.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if err := gc.RunCycle(ctx); err != nil {
			gc.logger.Error("garbage collection failed", "error", err)
			gc.setFatal(err)
		}
	}))
	gc.cron.Start()
}

// Stop halts the background loop and waits for a running cycle.
func (gc *GarbageCollector) Stop() {
	if gc.cron == nil {
		return
	}
	<-gc.cron.Stop().Done()
	gc.cron = nil
}

// Err returns the first fatal error raised by the background loop.
func (gc *GarbageCollector) Err() error {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.fatal
}

func (gc *GarbageCollector) setFatal(err error) {
	gc.mu.Lock()
	if gc.fatal == nil {
		gc.fatal = err
	}
	gc.mu.Unlock()
}

// Stats returns a copy of the collector's counters.
func (gc *GarbageCollector) Stats() GCStats {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	s := gc.stats
	s.Deleted = copyCounts(gc.stats.Deleted)
	s.Failed = copyCounts(gc.stats.Failed)
	s.Pending = make(map[string]int, len(gc.aging))
	for t, v := range gc.aging {
		s.Pending[t] = len(v)
	}
	s.Skipped = append([]string(nil), gc.stats.Skipped...)
	return s
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Pending returns the number of objects of objType waiting for deletion.
func (gc *GarbageCollector) Pending(objType string) int {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return len(gc.aging[objType])
}

func (gc *GarbageCollector) pendingTotal() int {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	n := 0
	for _, v := range gc.aging {
		n += len(v)
	}
	return n
}

// RunCycle moves objects beyond the cache size into the aging buffer and
// tries to delete everything aging. Transport errors end the cycle early
// and are not returned; the returned error is fatal.
func (gc *GarbageCollector) RunCycle(ctx context.Context) error {
	gc.cycleMu.Lock()
	defer gc.cycleMu.Unlock()

	ctx, span := tracer.StartGCCycle(ctx)
	defer span.End()

	gc.enqueue(gc.registry.Evict(gc.cfg.DynObjectsCacheSize))
	before := gc.deletedTotal()
	types, err := gc.deleteAging(ctx)
	tracer.EndGCCycle(span, types, gc.deletedTotal()-before)
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}

	gc.mu.Lock()
	gc.stats.Cycles++
	gc.stats.LastTime = time.Now()
	gc.mu.Unlock()
	return nil
}

func (gc *GarbageCollector) deletedTotal() int {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	n := 0
	for _, c := range gc.stats.Deleted {
		n += c
	}
	return n
}

func (gc *GarbageCollector) enqueue(objs map[string][]string) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	for objType, values := range objs {
		gc.aging[objType] = append(gc.aging[objType], values...)
	}
}

// deleteAging returns the number of object types it worked on.
func (gc *GarbageCollector) deleteAging(ctx context.Context) (int, error) {
	gc.mu.Lock()
	work := make(map[string][]string, len(gc.aging))
	types := make([]string, 0, len(gc.aging))
	for objType, values := range gc.aging {
		if len(values) == 0 {
			continue
		}
		work[objType] = append([]string(nil), values...)
		types = append(types, objType)
	}
	gc.mu.Unlock()
	sort.Strings(types)

	deleted := make(map[string]map[string]bool)
	defer gc.settle(deleted)

	for _, objType := range types {
		destructor, ok := gc.Destructor(objType)
		if !ok {
			gc.logger.Debug("no destructor for dynamic object type", "type", objType)
			gc.mu.Lock()
			delete(gc.aging, objType)
			gc.mu.Unlock()
			continue
		}

		rendering, err := destructor.Render(gc.pool, 0, 1)
		if err != nil {
			var cve *primitives.CandidateValueError
			if errors.As(err, &cve) {
				gc.logger.Warn("destructor cannot be rendered", "type", objType, "request", destructor.ID(), "error", err)
				continue
			}
			return len(types), fmt.Errorf("render destructor %s: %w", destructor.ID(), err)
		}

		deleted[objType] = make(map[string]bool)
		for _, value := range work[objType] {
			if err := ctx.Err(); err != nil {
				return len(types), nil
			}
			raw := strings.ReplaceAll(rendering.Data, primitives.Placeholder(objType), value)
			resp, err := gc.transport.Send(ctx, raw)
			if err != nil {
				gc.logger.Warn("garbage collection cycle aborted", "type", objType, "error", err)
				gc.mu.Lock()
				gc.stats.LastErr = err.Error()
				gc.mu.Unlock()
				return len(types), nil
			}
			if deletedStatus[resp.StatusCode] {
				deleted[objType][value] = true
				gc.logger.Debug("dynamic object deleted", "type", objType, "value", value, "status", resp.StatusCode)
			} else {
				gc.mu.Lock()
				gc.stats.Failed[objType]++
				gc.mu.Unlock()
			}
		}
	}
	return len(types), nil
}

// settle drops confirmed deletions from the aging buffer and caps each
// type at MaxAgedObjects, keeping the newest entries.
func (gc *GarbageCollector) settle(deleted map[string]map[string]bool) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	for objType, values := range gc.aging {
		done := deleted[objType]
		kept := values[:0]
		for _, v := range values {
			if done[v] {
				gc.stats.Deleted[objType]++
				delete(done, v)
				continue
			}
			kept = append(kept, v)
		}
		if limit := gc.cfg.MaxAgedObjects; limit > 0 && len(kept) > limit {
			kept = kept[len(kept)-limit:]
		}
		if len(kept) == 0 {
			delete(gc.aging, objType)
			continue
		}
		gc.aging[objType] = kept
	}
}

// Finish stops the background loop, queues every remaining object,
// saved ones included, and runs cycles until the queue drains or
// maxCleanupTime passes.
func (gc *GarbageCollector) Finish(ctx context.Context, maxCleanupTime time.Duration) error {
	gc.Stop()
	if err := gc.Err(); err != nil {
		return err
	}

	gc.enqueue(gc.registry.DrainAll())

	ctx, cancel := context.WithTimeout(ctx, maxCleanupTime)
	defer cancel()
	for gc.pendingTotal() > 0 {
		if err := gc.RunCycle(ctx); err != nil {
			return err
		}
		if gc.pendingTotal() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			gc.logger.Warn("cleanup time exhausted", "pending", gc.pendingTotal())
			return nil
		case <-time.After(time.Second):
		}
	}
	return nil
}
