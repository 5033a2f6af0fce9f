package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/errs"
	"github.com/estuary/flow-controller/internal/models"
)

// Subsystem runs one auto-discover cycle for a capture (§4.9). It has
// no store dependency of its own: it consumes a Connector and the
// caller's already-resolved view of the capture's current bindings,
// and returns a Plan describing what the capture executor should draft
// and publish. This keeps the diff/draft logic testable without a
// database and avoids a dependency from discover on the publish
// pipeline.
type Subsystem struct {
	Connector Connector
}

// New returns a Subsystem that discovers through connector.
func New(connector Connector) *Subsystem {
	return &Subsystem{Connector: connector}
}

// NewCollection is a collection to draft alongside the capture for a
// newly discovered binding.
type NewCollection struct {
	Name   models.Name
	Key    []string
	Schema json.RawMessage
}

// ResetCollection is an existing collection that must be re-created
// with a fresh generation id because its key is changing (§4.9 S4).
type ResetCollection struct {
	Name   models.Name
	Key    []string
	Schema json.RawMessage
}

// Plan is the fully-computed outcome of one discover cycle, ready for
// the capture executor to either fold into status as-is (a failure or
// no-op) or turn into a draft and publish it.
type Plan struct {
	NeedsPublish     bool
	AutoEvolve       bool
	Detail           string
	Bindings         []catalog.CaptureBinding
	NewCollections   []NewCollection
	ResetCollections []ResetCollection
	Outcome          models.Outcome
	Err              error
}

// Request bundles one discover cycle's inputs.
type Request struct {
	Capture models.Name
	Image   string
	Config  json.RawMessage
	Model   catalog.CaptureModel
	Current []CurrentBinding
	Now     time.Time
}

// Run performs one discover-diff-plan cycle (§4.9's Discovering and
// Diffing states). It never touches storage; Err carries a wrapped
// *errs.DiscoverFailed on a connector failure, for the caller to fold
// into the capture's failure/backoff bookkeeping.
func (s *Subsystem) Run(ctx context.Context, req Request) (Plan, error) {
	var cfg = req.Model.AutoDiscover
	if cfg == nil {
		return Plan{}, nil
	}

	resp, err := s.Connector.Discover(ctx, req.Image, req.Config)
	if err != nil {
		return Plan{Err: &errs.DiscoverFailed{Image: req.Image, Err: err}}, nil
	}

	var hasEnabled bool
	for _, c := range req.Current {
		if !c.Binding.Disable {
			hasEnabled = true
			break
		}
	}

	var diff = Diff(resp.Bindings, req.Current, hasEnabled)
	if !cfg.AddNewBindings {
		diff.Added = nil
	}
	if diff.IsNoOp() {
		return Plan{Outcome: models.Outcome{Timestamp: req.Now}}, nil
	}

	var plan = Plan{
		NeedsPublish: true,
		AutoEvolve:   cfg.EvolveIncompatibleCollections,
	}
	var bindings = append([]catalog.CaptureBinding{}, req.Model.Bindings...)
	var indexByTarget = make(map[string]int, len(bindings))
	for i, b := range bindings {
		indexByTarget[b.Target.Fold()] = i
	}

	var added, modified, removed []string

	if cfg.AddNewBindings {
		for _, d := range diff.Added {
			var name = RecommendedCollectionName(req.Capture, d.RecommendedName)
			bindings = append(bindings, catalog.CaptureBinding{
				Target:         name,
				Disable:        d.Disable,
				ResourceConfig: d.ResourceConfig,
				ResourcePath:   d.ResourcePath,
			})
			plan.NewCollections = append(plan.NewCollections, NewCollection{
				Name: name, Key: d.Key, Schema: d.DocumentSchema,
			})
			added = append(added, string(name))
		}
	}

	for _, m := range diff.Modified {
		var idx, ok = indexByTarget[m.Current.Target.Fold()]
		if !ok {
			continue
		}
		bindings[idx].ResourceConfig = m.Discovered.ResourceConfig
		bindings[idx].ResourcePath = m.Discovered.ResourcePath
		bindings[idx].Disable = m.Discovered.Disable
		modified = append(modified, string(m.Current.Target))

		if _, changed := DetectKeyChange(string(m.Current.Target), m.Current.CollectionKey, m.Discovered.Key); changed {
			plan.ResetCollections = append(plan.ResetCollections, ResetCollection{
				Name: m.Current.Target, Key: m.Discovered.Key, Schema: m.Discovered.DocumentSchema,
			})
		}
	}

	for _, r := range diff.Removed {
		if idx, ok := indexByTarget[r.Target.Fold()]; ok {
			bindings[idx].Disable = true
		}
		removed = append(removed, string(r.Target))
	}

	plan.Bindings = bindings
	plan.Detail = fmt.Sprintf("auto-discover changes (%d added, %d modified, %d removed)",
		len(added), len(modified), len(removed))
	plan.Outcome = models.Outcome{
		Timestamp: req.Now,
		Added:     added,
		Modified:  modified,
		Removed:   removed,
	}
	return plan, nil
}

// RecommendedCollectionName derives a new collection's name from the
// capture's own tenant prefix and the connector's recommended name,
// e.g. capture "marmots/capture" binding "grass" becomes
// "marmots/grass" (§4.9 S1).
func RecommendedCollectionName(capture models.Name, recommendedName string) models.Name {
	return models.Name(capture.RolePrefix() + recommendedName)
}

// CollectionDraftModel renders a minimal collection model document
// carrying key and schema, the shape buildCollections expects to parse
// (§4.5); any schema widening beyond this belongs to the out-of-scope
// inference engine (§1).
func CollectionDraftModel(key []string, schema json.RawMessage) (json.RawMessage, error) {
	if schema == nil {
		schema = json.RawMessage(`true`)
	}
	return json.Marshal(struct {
		Key    []string        `json:"key"`
		Schema json.RawMessage `json:"schema"`
	}{Key: key, Schema: schema})
}
