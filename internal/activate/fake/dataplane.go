// Package fake provides an in-process activate.DataPlane for tests,
// standing in for the out-of-scope data-plane RPC transport.
package fake

import (
	"context"
	"sync"

	"github.com/estuary/flow-controller/internal/models"
)

// DataPlane is a scriptable activate.DataPlane. Failures are queued per
// name and consumed in order; once exhausted, calls succeed.
type DataPlane struct {
	mu          sync.Mutex
	failures    map[string][]error
	Activated   []string
	Deleted     []string
}

// New returns an empty DataPlane.
func New() *DataPlane {
	return &DataPlane{failures: make(map[string][]error)}
}

// FailNext schedules the next Activate call for name to return err.
func (d *DataPlane) FailNext(name models.Name, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[name.Fold()] = append(d.failures[name.Fold()], err)
}

// Activate implements activate.DataPlane.
func (d *DataPlane) Activate(_ context.Context, name models.Name, _ models.CatalogType, _ models.RawJSON) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q := d.failures[name.Fold()]; len(q) > 0 {
		d.failures[name.Fold()] = q[1:]
		return q[0]
	}
	d.Activated = append(d.Activated, string(name))
	return nil
}

// Delete implements activate.DataPlane.
func (d *DataPlane) Delete(_ context.Context, name models.Name, _ models.CatalogType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Deleted = append(d.Deleted, string(name))
	return nil
}
