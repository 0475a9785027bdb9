package driver

import (
	"fmt"
	"strings"

	"github.com/vikasavnish/seqfuzz/pkg/requests"
)

// DependencyErrorKind classifies a dependency graph error.
type DependencyErrorKind int

const (
	MissingProducer DependencyErrorKind = iota
	AmbiguousProducer
	CircularDependency
)

func (k DependencyErrorKind) String() string {
	switch k {
	case AmbiguousProducer:
		return "ambiguous producer"
	case CircularDependency:
		return "circular dependency"
	}
	return "missing producer"
}

// DependencyGraphError reports why no goal sequence exists for a request.
type DependencyGraphError struct {
	Kind     DependencyErrorKind
	Request  string
	Variable string
	// Path is the chain of requests being resolved when the error was found.
	Path []string
}

func (e *DependencyGraphError) Error() string {
	msg := fmt.Sprintf("%s for request %s", e.Kind, e.Request)
	if e.Variable != "" {
		msg += fmt.Sprintf(" (variable %s)", e.Variable)
	}
	if len(e.Path) > 0 {
		msg += ": " + strings.Join(e.Path, " -> ")
	}
	return msg
}

// ComputeGoalSequence returns the requests, in dependency order and
// ending with r, that produce every variable consumed along the way. Each
// consumed variable must have exactly one producer in c, and no request
// may depend on itself through the chain.
func ComputeGoalSequence(r *requests.Request, c *requests.Collection) ([]*requests.Request, error) {
	var (
		order   []*requests.Request
		path    []string
		onPath  = make(map[string]bool)
		visited = make(map[string]bool)
	)

	var visit func(req *requests.Request) error
	visit = func(req *requests.Request) error {
		if onPath[req.ID()] {
			return &DependencyGraphError{
				Kind:    CircularDependency,
				Request: r.ID(),
				Path:    append(append([]string(nil), path...), req.ID()),
			}
		}
		if visited[req.ID()] {
			return nil
		}
		onPath[req.ID()] = true
		path = append(path, req.ID())

		for _, v := range req.Consumes() {
			producers := c.Producers(v)
			switch {
			case len(producers) == 0:
				return &DependencyGraphError{Kind: MissingProducer, Request: r.ID(), Variable: v, Path: append([]string(nil), path...)}
			case len(producers) > 1:
				return &DependencyGraphError{Kind: AmbiguousProducer, Request: r.ID(), Variable: v, Path: append([]string(nil), path...)}
			}
			if err := visit(producers[0]); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		onPath[req.ID()] = false
		visited[req.ID()] = true
		order = append(order, req)
		return nil
	}

	if err := visit(r); err != nil {
		return nil, err
	}
	return order, nil
}
