// Package fake provides an in-process discover.Connector for tests,
// standing in for the out-of-scope connector invocation transport.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/estuary/flow-controller/internal/discover"
)

// Connector is a scriptable discover.Connector. Responses (or errors)
// are queued per image and consumed in order, so a test can simulate a
// sequence of discover cycles for the same capture.
type Connector struct {
	mu        sync.Mutex
	responses map[string][]queued
}

type queued struct {
	resp *discover.Response
	err  error
}

// New returns an empty Connector.
func New() *Connector {
	return &Connector{responses: make(map[string][]queued)}
}

// Enqueue schedules resp to be returned by the next Discover call
// against image.
func (c *Connector) Enqueue(image string, resp *discover.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[image] = append(c.responses[image], queued{resp: resp})
}

// EnqueueError schedules err to be returned by the next Discover call
// against image.
func (c *Connector) EnqueueError(image string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[image] = append(c.responses[image], queued{err: err})
}

// Discover implements discover.Connector.
func (c *Connector) Discover(_ context.Context, image string, _ json.RawMessage) (*discover.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var q = c.responses[image]
	if len(q) == 0 {
		return nil, fmt.Errorf("fake connector: no response queued for image %q", image)
	}
	c.responses[image] = q[1:]
	if q[0].err != nil {
		return nil, q[0].err
	}
	return q[0].resp, nil
}
