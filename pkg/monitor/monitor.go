// Package monitor tracks run-wide rendering outcomes, status codes and
// the wall-clock budget shared by every render worker.
package monitor

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrTimeBudgetExceeded is returned once the run's time budget is spent.
var ErrTimeBudgetExceeded = errors.New("time budget exceeded")

type renderingKey struct {
	generation  int
	hash        string
	combination int
}

// Stats is a point-in-time summary of the run.
type Stats struct {
	Generation      int
	RequestsSent    int
	StatusCodes     map[int]int
	ValidRequests   []string
	InvalidRequests []string
	Elapsed         time.Duration
}

// Monitor is guarded by the lock shared with every render worker.
type Monitor struct {
	lock   *sync.Mutex
	start  time.Time
	budget time.Duration
	now    func() time.Time

	generation   int
	renderings   map[renderingKey]bool
	statusCodes  map[string]map[int]int
	requestsSent int
	coverage     map[string]bool
}

// New creates a monitor that uses lock for all shared state. A budget of
// zero or less never expires.
func New(lock *sync.Mutex, budget time.Duration) *Monitor {
	return &Monitor{
		lock:        lock,
		start:       time.Now(),
		budget:      budget,
		now:         time.Now,
		renderings:  make(map[renderingKey]bool),
		statusCodes: make(map[string]map[int]int),
		coverage:    make(map[string]bool),
	}
}

// SetGeneration records the generation being rendered. Invalid-rendering
// memos are scoped to a generation.
func (m *Monitor) SetGeneration(g int) {
	m.lock.Lock()
	m.generation = g
	m.lock.Unlock()
}

func (m *Monitor) Generation() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.generation
}

// RecordRendering memoizes the outcome of a request combination.
func (m *Monitor) RecordRendering(contentHash string, combination int, valid bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	key := renderingKey{m.generation, contentHash, combination}
	if prev, seen := m.renderings[key]; seen && prev {
		return
	}
	m.renderings[key] = valid
}

// IsInvalidRendering reports whether the combination already rendered
// invalid in the current generation.
func (m *Monitor) IsInvalidRendering(contentHash string, combination int) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	valid, seen := m.renderings[renderingKey{m.generation, contentHash, combination}]
	return seen && !valid
}

// RecordResponse counts one sent request and its status code. A zero
// code records a request with no response.
func (m *Monitor) RecordResponse(requestID string, statusCode int) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.requestsSent++
	codes, ok := m.statusCodes[requestID]
	if !ok {
		codes = make(map[int]int)
		m.statusCodes[requestID] = codes
	}
	codes[statusCode]++
}

// RecordCoverage marks requestID valid once any rendering succeeds.
func (m *Monitor) RecordCoverage(requestID string, valid bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.coverage[requestID] = m.coverage[requestID] || valid
}

// StatusCodes returns the status code histogram of requestID.
func (m *Monitor) StatusCodes(requestID string) map[int]int {
	m.lock.Lock()
	defer m.lock.Unlock()
	out := make(map[int]int)
	for k, v := range m.statusCodes[requestID] {
		out[k] = v
	}
	return out
}

func (m *Monitor) RequestsSent() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.requestsSent
}

// CheckBudget returns ErrTimeBudgetExceeded once the budget is spent.
func (m *Monitor) CheckBudget() error {
	if m.budget <= 0 {
		return nil
	}
	if m.now().Sub(m.start) > m.budget {
		return ErrTimeBudgetExceeded
	}
	return nil
}

// Elapsed returns the time since the monitor was created.
func (m *Monitor) Elapsed() time.Duration {
	return m.now().Sub(m.start)
}

// Stats summarizes the run so far.
func (m *Monitor) Stats() Stats {
	m.lock.Lock()
	defer m.lock.Unlock()
	s := Stats{
		Generation:   m.generation,
		RequestsSent: m.requestsSent,
		StatusCodes:  make(map[int]int),
		Elapsed:      m.now().Sub(m.start),
	}
	for _, codes := range m.statusCodes {
		for code, n := range codes {
			s.StatusCodes[code] += n
		}
	}
	for id, valid := range m.coverage {
		if valid {
			s.ValidRequests = append(s.ValidRequests, id)
		} else {
			s.InvalidRequests = append(s.InvalidRequests, id)
		}
	}
	sort.Strings(s.ValidRequests)
	sort.Strings(s.InvalidRequests)
	return s
}
