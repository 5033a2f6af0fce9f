// Package builder implements the C5 builder of §4.5: given a resolved
// live catalog, a draft, inferred schemas and storage mappings, it
// deterministically produces built specs plus validation errors. The
// builder has no side effects and is safe to re-run on lock failure
// (§4.6 step 3/6).
package builder

import (
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/errs"
	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/store"
	jsonpatch "github.com/evanphx/json-patch/v5"
)

// LocationType is the inferred JSON-Schema type of a document location,
// as produced by the (out-of-scope) schema inference engine.
type LocationType string

const (
	LocationString  LocationType = "string"
	LocationInteger LocationType = "integer"
	LocationNumber  LocationType = "number"
	LocationBoolean LocationType = "boolean"
	LocationObject  LocationType = "object"
	LocationArray   LocationType = "array"
)

// IsCompound reports whether a location of this type cannot be used as
// a collection key or shuffle key component (§4.5).
func (t LocationType) IsCompound() bool { return t == LocationObject || t == LocationArray }

// InferredSchema maps a JSON pointer location to its inferred type.
type InferredSchema map[string]LocationType

// FieldConstraintType is one of the connector-reported field selection
// constraints a materialization build must respect (§4.5).
type FieldConstraintType string

const (
	FieldRequired     FieldConstraintType = "fieldRequired"
	LocationRequired  FieldConstraintType = "locationRequired"
	FieldForbidden    FieldConstraintType = "fieldForbidden"
	FieldUnsatisfiable FieldConstraintType = "fieldUnsatisfiable"
)

// BuildInput is everything the builder needs; all of it is resolved by
// external collaborators (§1, §6) before the builder runs.
type BuildInput struct {
	Draft            models.Draft
	Live             store.LiveCatalog
	InferredSchemas  map[string]InferredSchema                       // keyed by collection Name.Fold()
	FieldConstraints map[string]map[string]FieldConstraintType       // keyed by materialization Name.Fold() -> field name
	SelectedFields   map[string]map[string]bool                      // keyed by materialization Name.Fold() -> field name -> selected
	AutoEvolve       bool                                            // enables key-change evolution for user-initiated publishes (§6)
}

// BuiltRow is one built output row (§4.5).
type BuiltRow struct {
	Name            models.Name
	Type            models.CatalogType
	Model           models.RawJSON
	BuiltSpec       models.RawJSON
	BuiltSpecHash   uint64
	ExpectPubID     ids.ID
	IsTouch         bool
	IsDelete        bool
	IsUnchanged     bool
	Validated       bool
	ReadsFrom       []models.Name
	WritesTo        []models.Name
	SourceCapture   *models.Name
	ResetGeneration bool
}

// BuildOutput is the builder's result (§4.5).
type BuildOutput struct {
	BuiltCaptures         []BuiltRow
	BuiltCollections      []BuiltRow
	BuiltMaterializations []BuiltRow
	BuiltTests            []BuiltRow
	Errors                []*errs.BuildError
}

// AllRows returns every built row across all four catalog types.
func (o BuildOutput) AllRows() []BuiltRow {
	var out = make([]BuiltRow, 0, len(o.BuiltCaptures)+len(o.BuiltCollections)+len(o.BuiltMaterializations)+len(o.BuiltTests))
	out = append(out, o.BuiltCaptures...)
	out = append(out, o.BuiltCollections...)
	out = append(out, o.BuiltMaterializations...)
	out = append(out, o.BuiltTests...)
	return out
}

// Build runs the deterministic build described by §4.5 over in.
func Build(in BuildInput) BuildOutput {
	var b = &builderState{in: in, out: BuildOutput{}}

	b.buildCollections()
	b.buildCaptures()
	b.buildMaterializations()
	b.buildTests()

	// Dependency-cycle detection runs over the union of built and live
	// specs, per the design note in §9.
	var all = b.liveAfterBuild()
	for _, e := range catalog.NewGraph(all).DetectCycles() {
		b.out.Errors = append(b.out.Errors, e)
	}

	return b.out
}

type builderState struct {
	in  BuildInput
	out BuildOutput
}

// liveAfterBuild overlays built rows atop the resolved live catalog, so
// cycle detection and dependent lookups see the post-build graph.
func (b *builderState) liveAfterBuild() []models.LiveSpec {
	var byName = make(map[string]models.LiveSpec, len(b.in.Live.ByName))
	for k, v := range b.in.Live.ByName {
		byName[k] = v
	}
	for _, r := range b.out.AllRows() {
		if r.IsDelete {
			delete(byName, r.Name.Fold())
			continue
		}
		var spec = byName[r.Name.Fold()]
		spec.Name = r.Name
		spec.Type = r.Type
		spec.ReadsFrom = r.ReadsFrom
		spec.WritesTo = r.WritesTo
		byName[r.Name.Fold()] = spec
	}
	return mapValues(byName)
}

func mapValues(m map[string]models.LiveSpec) []models.LiveSpec {
	var out = make([]models.LiveSpec, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// hashSpec computes the FNV-1a hash of a canonicalized built spec,
// stored as LiveSpec.BuiltSpecHash (SPEC_FULL.md §8.1). Nothing in the
// engine compares stored hashes.
func hashSpec(spec models.RawJSON) uint64 {
	if spec == nil {
		return 0
	}
	var canon interface{}
	if err := json.Unmarshal(spec, &canon); err != nil {
		var h = fnv.New64a()
		h.Write(spec)
		return h.Sum64()
	}
	var out, _ = json.Marshal(canon)
	var h = fnv.New64a()
	h.Write(out)
	return h.Sum64()
}

// modelsByteEqual reports whether two models are byte-identical after
// whitespace-insensitive canonicalization, the criterion touch
// publications use to skip the admin capability check (§4.6).
func modelsByteEqual(a, b models.RawJSON) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return jsonpatch.Equal(a, b)
}

func scope(typ models.CatalogType, name models.Name) string {
	return fmt.Sprintf("%s://%s", typ, name)
}
