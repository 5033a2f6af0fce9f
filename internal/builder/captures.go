package builder

import (
	"encoding/json"

	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/errs"
	"github.com/estuary/flow-controller/internal/models"
)

// buildCaptures builds every drafted capture. A binding whose target
// collection is soft-deleted must be auto-disabled rather than
// rejected, matching the tie-break in §4.6: "a capture whose binding
// references a soft-deleted collection is committed only if the
// binding is disabled or the same publication includes the
// collection's un-deletion."
func (b *builderState) buildCaptures() {
	for _, d := range b.in.Draft.Captures {
		var row = BuiltRow{Name: d.Name, Type: models.CatalogTypeCapture}
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
			b.out.BuiltCaptures = append(b.out.BuiltCaptures, row)
			continue
		}

		row.IsTouch = d.IsTouch
		if d.IsTouch && existed && modelsByteEqual(d.Model, live.Model) {
			row.IsUnchanged = true
			row.Model = live.Model
			row.BuiltSpec = live.BuiltSpec
			row.BuiltSpecHash = live.BuiltSpecHash
			row.WritesTo = live.WritesTo
			b.out.BuiltCaptures = append(b.out.BuiltCaptures, row)
			continue
		}

		var scopeStr = scope(models.CatalogTypeCapture, d.Name)
		if e := checkNoEscapedNUL(scopeStr, d.Model); e != nil {
			b.out.Errors = append(b.out.Errors, e)
			continue
		}

		var cap catalog.CaptureModel
		if err := json.Unmarshal(d.Model, &cap); err != nil {
			b.out.Errors = append(b.out.Errors, errs.NewBuildError(scopeStr, "parsing capture model: %v", err))
			continue
		}
		if cap.Endpoint.Connector.Image == "" {
			b.out.Errors = append(b.out.Errors, errs.NewBuildError(scopeStr, "capture must specify a connector image"))
		}

		var writesTo []models.Name
		var changed bool
		for i, binding := range cap.Bindings {
			if src, ok := b.in.Live.Get(binding.Target); ok && src.IsSoftDeleted() {
				var undeletedInSamePub = b.isUndeletedInDraft(binding.Target)
				if !binding.Disable && !undeletedInSamePub {
					cap.Bindings[i].Disable = true
					changed = true
				}
			}
			if !cap.Bindings[i].Disable {
				writesTo = append(writesTo, binding.Target)
			}
		}

		if changed {
			var patched, err = json.Marshal(cap.Bindings)
			if err == nil {
				d.Model = mergeField(d.Model, "bindings", patched)
			}
		}

		row.Model = d.Model
		row.BuiltSpec = d.Model
		row.BuiltSpecHash = hashSpec(row.BuiltSpec)
		row.WritesTo = writesTo
		row.Validated = true
		b.out.BuiltCaptures = append(b.out.BuiltCaptures, row)
	}
}

// isUndeletedInDraft reports whether the same draft includes a
// (re)creation of name, i.e. a non-deletion collection entry.
func (b *builderState) isUndeletedInDraft(name models.Name) bool {
	for _, c := range b.in.Draft.Collections {
		if c.Name.Fold() == name.Fold() && !c.IsDeletion() {
			return true
		}
	}
	return false
}
