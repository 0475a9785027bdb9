package requests

import (
	"fmt"
)

// Collection is the ordered set of request templates of a grammar.
type Collection struct {
	requests  []*Request
	byID      map[string]int
	producers map[string][]*Request
}

// NewCollection indexes reqs. Request ids must be unique.
func NewCollection(reqs []*Request) (*Collection, error) {
	c := &Collection{
		requests:  make([]*Request, 0, len(reqs)),
		byID:      make(map[string]int, len(reqs)),
		producers: make(map[string][]*Request),
	}
	for _, r := range reqs {
		if _, dup := c.byID[r.ID()]; dup {
			return nil, fmt.Errorf("duplicate request id %q", r.ID())
		}
		c.byID[r.ID()] = len(c.requests)
		c.requests = append(c.requests, r)
		for _, v := range r.Produces() {
			c.producers[v] = append(c.producers[v], r)
		}
	}
	return c, nil
}

// Requests returns the templates in grammar order.
func (c *Collection) Requests() []*Request {
	return c.requests
}

func (c *Collection) Len() int {
	return len(c.requests)
}

// Get looks up a request by id.
func (c *Collection) Get(id string) (*Request, bool) {
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return c.requests[i], true
}

// Producers returns every request producing variable.
func (c *Collection) Producers(variable string) []*Request {
	return c.producers[variable]
}

// IsAmbiguous reports whether more than one request produces variable.
func (c *Collection) IsAmbiguous(variable string) bool {
	return len(c.producers[variable]) > 1
}

// HasAmbiguousProducer reports whether any variable r consumes has more
// than one producer.
func (c *Collection) HasAmbiguousProducer(r *Request) bool {
	for _, v := range r.Consumes() {
		if c.IsAmbiguous(v) {
			return true
		}
	}
	return false
}

// Replace returns a collection where the request with r's id is r.
func (c *Collection) Replace(r *Request) *Collection {
	reqs := make([]*Request, len(c.requests))
	copy(reqs, c.requests)
	if i, ok := c.byID[r.ID()]; ok {
		reqs[i] = r
	}
	out, _ := NewCollection(reqs)
	return out
}

// Without returns a collection lacking the given request ids.
func (c *Collection) Without(ids ...string) *Collection {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var reqs []*Request
	for _, r := range c.requests {
		if !drop[r.ID()] {
			reqs = append(reqs, r)
		}
	}
	out, _ := NewCollection(reqs)
	return out
}
