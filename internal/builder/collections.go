package builder

import (
	"encoding/json"

	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/errs"
	"github.com/estuary/flow-controller/internal/models"
)

// buildCollections builds every drafted collection, validating its key
// against inferred schema locations and its derivation's shuffle key
// arity, and auto-disabling transforms that read a soft-deleted source
// (§4.5, §4.8).
func (b *builderState) buildCollections() {
	for _, d := range b.in.Draft.Collections {
		var row = BuiltRow{Name: d.Name, Type: models.CatalogTypeCollection}
		var live, existed = b.in.Live.Get(d.Name)
		if existed {
			row.ExpectPubID = live.LastPubID
		}
		if d.ExpectPubID != nil {
			row.ExpectPubID = *d.ExpectPubID
		}

		if d.IsDeletion() {
			row.IsDelete = true
			row.Validated = true
			b.out.BuiltCollections = append(b.out.BuiltCollections, row)
			continue
		}

		row.IsTouch = d.IsTouch
		if d.IsTouch && existed && modelsByteEqual(d.Model, live.Model) {
			row.IsUnchanged = true
			row.Model = live.Model
			row.BuiltSpec = live.BuiltSpec
			row.BuiltSpecHash = live.BuiltSpecHash
			row.ReadsFrom = live.ReadsFrom
			row.WritesTo = live.WritesTo
			b.out.BuiltCollections = append(b.out.BuiltCollections, row)
			continue
		}

		var scopeStr = scope(models.CatalogTypeCollection, d.Name)
		if e := checkNoEscapedNUL(scopeStr, d.Model); e != nil {
			b.out.Errors = append(b.out.Errors, e)
			continue
		}
		b.out.Errors = append(b.out.Errors, checkCanonicalRefs(scopeStr, d.Model)...)

		var cm catalog.CollectionModel
		if err := json.Unmarshal(d.Model, &cm); err != nil {
			b.out.Errors = append(b.out.Errors, errs.NewBuildError(scopeStr, "parsing collection model: %v", err))
			continue
		}

		var schema = b.in.InferredSchemas[d.Name.Fold()]
		for _, k := range cm.Key {
			if t, ok := locationType(schema, k); ok && t.IsCompound() {
				b.out.Errors = append(b.out.Errors, errs.NewBuildError(scopeStr,
					"collection key location %q has compound type %q; keys must reference non-compound scalars", k, t))
			}
		}

		if existed && !keyUnchanged(live.Model, cm.Key) {
			if !b.in.AutoEvolve {
				b.out.Errors = append(b.out.Errors, errs.NewBuildError(scopeStr,
					"the key of existing collection %s cannot change without also resetting it", d.Name))
				continue
			}
			row.ResetGeneration = true
		}

		var readsFrom []models.Name
		if cm.Derivation != nil {
			b.validateShuffleKeys(scopeStr, cm.Derivation)
			for i, t := range cm.Derivation.Transforms {
				if src, ok := b.in.Live.Get(t.Source); ok && src.IsSoftDeleted() && !t.Disable {
					cm.Derivation.Transforms[i].Disable = true
				}
				if !cm.Derivation.Transforms[i].Disable {
					readsFrom = append(readsFrom, t.Source)
				}
			}
			// Re-marshal in case a transform was auto-disabled above.
			var patched, err = json.Marshal(cm.Derivation)
			if err == nil {
				d.Model = mergeField(d.Model, "derivation", patched)
			}
		}

		row.Model = d.Model
		row.BuiltSpec = d.Model // the JSON-Schema widening/reduction library (out of scope, §1) would lower this further.
		row.BuiltSpecHash = hashSpec(row.BuiltSpec)
		row.ReadsFrom = readsFrom
		row.Validated = true
		b.out.BuiltCollections = append(b.out.BuiltCollections, row)
	}
}

// validateShuffleKeys enforces that every enabled transform of a
// derivation agrees on shuffle key arity (§4.5). Only the number of key
// components is compared; the components' types are not checked against
// the source collections' schemas.
func (b *builderState) validateShuffleKeys(scopeStr string, d *catalog.Derivation) {
	var arity = -1
	for _, t := range d.Transforms {
		if t.Disable || len(t.ShuffleKey) == 0 {
			continue
		}
		if arity == -1 {
			arity = len(t.ShuffleKey)
			continue
		}
		if len(t.ShuffleKey) != arity {
			b.out.Errors = append(b.out.Errors, errs.NewBuildError(scopeStr,
				"shuffle key of transform %q has arity %d, expected %d to match other transforms of this derivation",
				t.Name, len(t.ShuffleKey), arity))
		}
	}
}

// keyUnchanged reports whether newKey matches the key already recorded
// in liveModel. An unparseable or absent live model is treated as
// unchanged, since that case is reported by the deletion/parse checks
// elsewhere rather than here.
func keyUnchanged(liveModel models.RawJSON, newKey []string) bool {
	if liveModel == nil {
		return true
	}
	var live catalog.CollectionModel
	if err := json.Unmarshal(liveModel, &live); err != nil {
		return true
	}
	if len(live.Key) != len(newKey) {
		return false
	}
	for i := range live.Key {
		if live.Key[i] != newKey[i] {
			return false
		}
	}
	return true
}

// mergeField replaces a single top-level field of doc with value,
// preserving the rest of the document, without requiring a full
// re-serialization of unrelated fields.
func mergeField(doc, field string, value []byte) []byte {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(doc, &m); err != nil {
		return doc
	}
	m[field] = value
	var out, err = json.Marshal(m)
	if err != nil {
		return doc
	}
	return out
}
