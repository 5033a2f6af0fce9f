// Package discover implements the C9 auto-discover subsystem of §4.9:
// periodic connector discovery, diffing against the current capture
// bindings, draft construction and publication, with backoff and
// alerting on failure.
package discover

import (
	"context"
	"encoding/json"
)

// DiscoveredBinding is one binding returned by a connector's discover
// call (§6 connector protocol).
type DiscoveredBinding struct {
	RecommendedName  string          `json:"recommendedName"`
	ResourceConfig   json.RawMessage `json:"resourceConfigJson"`
	DocumentSchema   json.RawMessage `json:"documentSchemaJson"`
	Key              []string        `json:"key"`
	Disable          bool            `json:"disable"`
	ResourcePath     []string        `json:"resourcePath"`
	IsFallbackKey    bool            `json:"isFallbackKey"`
}

// Response is a connector's full discover response.
type Response struct {
	Bindings []DiscoveredBinding
}

// Connector is the C9 consumed interface to the out-of-scope connector
// invocation transport (§1, §6).
type Connector interface {
	Discover(ctx context.Context, image string, config json.RawMessage) (*Response, error)
}
