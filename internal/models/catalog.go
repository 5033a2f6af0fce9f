// Package models defines the data-model types shared across the
// controller engine: live specs, drafts, controller jobs, publication
// records and alert state, as described by the catalog data model.
package models

import (
	"encoding/json"
	"strings"

	"github.com/estuary/flow-controller/internal/ids"
)

// CatalogType is the tagged variant discriminating the four kinds of
// catalog entity the engine manages. Rather than modeling captures,
// collections, materializations and tests as an interface hierarchy,
// the engine carries one LiveSpec/DraftSpec struct and switches on
// CatalogType wherever behavior differs — a trait-like capability set
// rather than inheritance.
type CatalogType string

const (
	CatalogTypeCapture         CatalogType = "capture"
	CatalogTypeCollection      CatalogType = "collection"
	CatalogTypeMaterialization CatalogType = "materialization"
	CatalogTypeTest            CatalogType = "test"
)

// Valid reports whether t is one of the four known catalog types.
func (t CatalogType) Valid() bool {
	switch t {
	case CatalogTypeCapture, CatalogTypeCollection, CatalogTypeMaterialization, CatalogTypeTest:
		return true
	}
	return false
}

// RawJSON is a JSON document stored opaquely by the engine. A nil
// RawJSON means "absent" (SQL NULL); it is distinct from a JSON null.
type RawJSON = json.RawMessage

// Name is a catalog entity name, compared case-insensitively per the
// unique-by-name invariant.
type Name string

// Fold returns the case-folded form used for uniqueness comparisons
// and map keys.
func (n Name) Fold() string { return strings.ToLower(string(n)) }

// RolePrefix returns the leading path segment of the name up to and
// including the first '/', which the authorization oracle treats as
// the grantable scope, e.g. "marmots/" for "marmots/capture".
func (n Name) RolePrefix() string {
	if i := strings.IndexByte(string(n), '/'); i >= 0 {
		return string(n)[:i+1]
	}
	return string(n)
}

// IsOpsCollection reports whether n is one of the well-known ops/*
// collections that must always be present in the build context
// regardless of the caller's permissions (§4.2, §4.4).
func IsOpsCollection(n Name) bool {
	return strings.HasPrefix(string(n), "ops/") &&
		(strings.HasSuffix(string(n), "/logs") || strings.HasSuffix(string(n), "/stats"))
}

// OpsCollectionNames returns the ops/logs and ops/stats collection
// names associated with tenant, the leading path segment of name.
func OpsCollectionNames(name Name) []Name {
	var tenant = strings.SplitN(string(name), "/", 2)[0]
	return []Name{
		Name("ops/" + tenant + "/logs"),
		Name("ops/" + tenant + "/stats"),
	}
}

// LiveSpec is the committed, current desired state of a named catalog
// entity (§3).
type LiveSpec struct {
	ID                 int64       `json:"id" db:"id"`
	Name               Name        `json:"name" db:"name"`
	Type               CatalogType `json:"type" db:"spec_type"`
	Model              RawJSON     `json:"model,omitempty" db:"spec"`
	BuiltSpec          RawJSON     `json:"builtSpec,omitempty" db:"built_spec"`
	BuiltSpecHash      uint64      `json:"builtSpecHash,omitempty" db:"built_spec_hash"`
	LastPubID          ids.ID      `json:"lastPubId" db:"last_pub_id"`
	Generation         ids.ID      `json:"generationId" db:"generation_id"`
	ReadsFrom          []Name      `json:"readsFrom,omitempty" db:"reads_from"`
	WritesTo           []Name      `json:"writesTo,omitempty" db:"writes_to"`
	SourceCapture      *Name       `json:"sourceCapture,omitempty" db:"source_capture"`
	DataPlaneID        string      `json:"dataPlaneId" db:"data_plane_id"`
	InferredSchemaHash *string     `json:"inferredSchemaHash,omitempty" db:"inferred_schema_hash"`
	DeletedAt          *int64      `json:"deletedAt,omitempty" db:"deleted_at"`
}

// IsSoftDeleted reports whether this LiveSpec has been soft-deleted
// (I5): its type and last_pub_id survive, everything else is cleared.
func (l LiveSpec) IsSoftDeleted() bool { return l.DeletedAt != nil }

// SourceCollections returns the set of collection names this spec
// reads from, used to build dependency edges (I3).
func (l LiveSpec) SourceCollections() []Name { return l.ReadsFrom }

// DraftSpec is a proposed, not-yet-committed change to a single named
// entity within a Draft (§3, §4.3).
type DraftSpec struct {
	DraftID     string      `json:"draftId" db:"draft_id"`
	Name        Name        `json:"name" db:"catalog_name"`
	Type        CatalogType `json:"type" db:"spec_type"`
	Model       RawJSON     `json:"model,omitempty" db:"spec"`
	ExpectPubID *ids.ID     `json:"expectPubId,omitempty" db:"expect_pub_id"`
	IsTouch     bool        `json:"isTouch" db:"is_touch"`
}

// IsDeletion reports whether this draft entry proposes deleting the
// live spec (a null model).
func (d DraftSpec) IsDeletion() bool { return d.Model == nil }

// Draft is the loaded, name-keyed contents of a draft (§4.3).
type Draft struct {
	DraftID          string
	Captures         []DraftSpec
	Collections      []DraftSpec
	Materializations []DraftSpec
	Tests            []DraftSpec
	Errors           []DraftError
}

// DraftError reports a problem discovered while loading a draft, such
// as a deletion of a spec that does not exist live.
type DraftError struct {
	Name  Name   `json:"name"`
	Error string `json:"error"`
}

// AllSpecs returns every drafted entry across all four catalog types.
func (d Draft) AllSpecs() []DraftSpec {
	var out = make([]DraftSpec, 0, len(d.Captures)+len(d.Collections)+len(d.Materializations)+len(d.Tests))
	out = append(out, d.Captures...)
	out = append(out, d.Collections...)
	out = append(out, d.Materializations...)
	out = append(out, d.Tests...)
	return out
}

// AllNames returns the set of names touched by this draft.
func (d Draft) AllNames() []Name {
	var specs = d.AllSpecs()
	var out = make([]Name, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}
