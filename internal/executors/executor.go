package executors

import (
	"github.com/estuary/flow-controller/internal/activate"
	"github.com/estuary/flow-controller/internal/alerts"
	"github.com/estuary/flow-controller/internal/discover"
	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/publish"
	"github.com/estuary/flow-controller/internal/scheduler"
	"github.com/estuary/flow-controller/internal/store"
)

// Deps bundles the stores and subsystems shared by every per-type
// executor, so cmd/controller's wiring constructs them once.
type Deps struct {
	Live          *store.LiveSpecStore
	Drafts        *store.DraftStore
	Publish       *publish.Pipeline
	Publications  *store.PublicationStore
	Discover      *discover.Subsystem
	Activate      *activate.Subsystem
	ShardFailures *store.ShardFailureStore
	Alerts        *alerts.Rules
	Clock         ids.Clock
}

// Registry builds the scheduler.Dispatcher's catalog-type -> Executor
// map (§4.8's C8).
func Registry(d Deps) map[models.CatalogType]scheduler.Executor {
	return map[models.CatalogType]scheduler.Executor{
		models.CatalogTypeCapture: &Capture{
			Live:          d.Live,
			Drafts:        d.Drafts,
			Publish:       d.Publish,
			Publications:  d.Publications,
			Discover:      d.Discover,
			Activate:      d.Activate,
			ShardFailures: d.ShardFailures,
			Alerts:        d.Alerts,
			Clock:         d.Clock,
		},
		models.CatalogTypeCollection: &Collection{
			Live:          d.Live,
			Drafts:        d.Drafts,
			Publish:       d.Publish,
			Publications:  d.Publications,
			Activate:      d.Activate,
			ShardFailures: d.ShardFailures,
			Clock:         d.Clock,
		},
		models.CatalogTypeMaterialization: &Materialization{
			Live:          d.Live,
			Drafts:        d.Drafts,
			Publish:       d.Publish,
			Publications:  d.Publications,
			Activate:      d.Activate,
			ShardFailures: d.ShardFailures,
			Clock:         d.Clock,
		},
		models.CatalogTypeTest: &Test{
			Live:         d.Live,
			Publications: d.Publications,
			Clock:        d.Clock,
		},
	}
}
