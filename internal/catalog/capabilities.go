package catalog

import (
	"encoding/json"

	"github.com/estuary/flow-controller/internal/models"
)

// Binding is the common shape of a capture binding or materialization
// binding: a reference to a collection plus a disable flag, enough for
// the dependency walker and the deletion-propagation logic (§4.8) to
// treat captures and materializations uniformly.
type Binding struct {
	Collection   models.Name     `json:"collection"`
	Disable      bool            `json:"disable,omitempty"`
	ResourcePath []string        `json:"resourcePath,omitempty"`
	Resource     json.RawMessage `json:"resourceConfig,omitempty"`
}

// CaptureModel is the subset of a capture's model this engine inspects.
type CaptureModel struct {
	ConnectorImage string            `json:"-"`
	Endpoint       struct {
		Connector struct {
			Image  string          `json:"image"`
			Config json.RawMessage `json:"config"`
		} `json:"connector"`
	} `json:"endpoint"`
	Bindings     []CaptureBinding `json:"bindings"`
	AutoDiscover *AutoDiscoverCfg `json:"autoDiscover,omitempty"`
	Shards       ShardCfg         `json:"shards"`
}

// CaptureBinding is one binding of a capture model.
type CaptureBinding struct {
	Target       models.Name     `json:"target"`
	Disable      bool            `json:"disable,omitempty"`
	ResourceConfig json.RawMessage `json:"resource"`
	ResourcePath []string        `json:"-"`
}

// AutoDiscoverCfg is the capture's autoDiscover configuration (§4.9).
type AutoDiscoverCfg struct {
	AddNewBindings            bool `json:"addNewBindings"`
	EvolveIncompatibleCollections bool `json:"evolveIncompatibleCollections"`
}

// ShardCfg carries the disable flag shared by all task shard configs.
type ShardCfg struct {
	Disable bool `json:"disable,omitempty"`
}

// MaterializationModel is the subset of a materialization's model this
// engine inspects.
type MaterializationModel struct {
	Endpoint struct {
		Connector struct {
			Image  string          `json:"image"`
			Config json.RawMessage `json:"config"`
		} `json:"connector"`
	} `json:"endpoint"`
	Bindings      []MaterializationBinding `json:"bindings"`
	SourceCapture *models.Name             `json:"sourceCapture,omitempty"`
	Shards        ShardCfg                 `json:"shards"`
}

// MaterializationBinding is one binding of a materialization model.
type MaterializationBinding struct {
	Source  models.Name `json:"source"`
	Disable bool        `json:"disable,omitempty"`
}

// CollectionModel is the subset of a collection's model this engine
// inspects, including its optional derivation.
type CollectionModel struct {
	Key        []string `json:"key"`
	Derivation *Derivation `json:"derivation,omitempty"`
}

// Derivation carries the transforms of a derived collection.
type Derivation struct {
	Transforms []Transform `json:"transforms"`
	Shards     ShardCfg    `json:"shards"`
}

// Transform is one source binding of a derivation.
type Transform struct {
	Name        string      `json:"name"`
	Source      models.Name `json:"source"`
	Disable     bool        `json:"disable,omitempty"`
	ShuffleKey  []string    `json:"shuffleKey,omitempty"`
}

// TestModel is the subset of a test's model this engine inspects.
type TestModel struct {
	Steps []TestStep `json:"steps"`
}

// TestStep references a collection to ingest into or verify against.
type TestStep struct {
	Collection models.Name `json:"collection"`
}
