package builder

import (
	"encoding/json"

	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/errs"
	"github.com/estuary/flow-controller/internal/models"
)

// buildMaterializations builds every drafted materialization,
// validating field selection against connector-returned constraints
// and auto-disabling bindings whose source collection is soft-deleted
// (§4.5, §4.8).
func (b *builderState) buildMaterializations() {
	for _, d := range b.in.Draft.Materializations {
		var row = BuiltRow{Name: d.Name, Type: models.CatalogTypeMaterialization}
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
			b.out.BuiltMaterializations = append(b.out.BuiltMaterializations, row)
			continue
		}

		row.IsTouch = d.IsTouch
		if d.IsTouch && existed && modelsByteEqual(d.Model, live.Model) {
			row.IsUnchanged = true
			row.Model = live.Model
			row.BuiltSpec = live.BuiltSpec
			row.BuiltSpecHash = live.BuiltSpecHash
			row.ReadsFrom = live.ReadsFrom
			row.SourceCapture = live.SourceCapture
			b.out.BuiltMaterializations = append(b.out.BuiltMaterializations, row)
			continue
		}

		var scopeStr = scope(models.CatalogTypeMaterialization, d.Name)
		if e := checkNoEscapedNUL(scopeStr, d.Model); e != nil {
			b.out.Errors = append(b.out.Errors, e)
			continue
		}

		var mm catalog.MaterializationModel
		if err := json.Unmarshal(d.Model, &mm); err != nil {
			b.out.Errors = append(b.out.Errors, errs.NewBuildError(scopeStr, "parsing materialization model: %v", err))
			continue
		}

		// A sourceCapture pointing at a deleted capture is removed, not
		// an error; the materialization controller's executor republishes
		// to trigger this (§4.8).
		if mm.SourceCapture != nil {
			if src, ok := b.in.Live.Get(*mm.SourceCapture); !ok || src.IsSoftDeleted() {
				mm.SourceCapture = nil
			}
		}

		var readsFrom []models.Name
		var changed bool
		for i, binding := range mm.Bindings {
			if src, ok := b.in.Live.Get(binding.Source); ok && src.IsSoftDeleted() && !binding.Disable {
				mm.Bindings[i].Disable = true
				changed = true
			}
			if !mm.Bindings[i].Disable {
				readsFrom = append(readsFrom, binding.Source)
			}
		}

		b.validateFieldSelection(scopeStr, d.Name, mm)

		if changed || mm.SourceCapture == nil {
			var patched, err = json.Marshal(mm)
			if err == nil {
				d.Model = patched
			}
		}

		row.Model = d.Model
		row.BuiltSpec = d.Model
		row.BuiltSpecHash = hashSpec(row.BuiltSpec)
		row.ReadsFrom = readsFrom
		row.SourceCapture = mm.SourceCapture
		row.Validated = true
		b.out.BuiltMaterializations = append(b.out.BuiltMaterializations, row)
	}
}

// validateFieldSelection enforces the connector-returned field
// selection constraints of §4.5: a fieldRequired/locationRequired field
// must be selected; a fieldForbidden or fieldUnsatisfiable field must
// not be.
func (b *builderState) validateFieldSelection(scopeStr string, name models.Name, mm catalog.MaterializationModel) {
	var constraints = b.in.FieldConstraints[name.Fold()]
	if len(constraints) == 0 {
		return
	}
	var selected = b.in.SelectedFields[name.Fold()]

	for field, constraint := range constraints {
		var isSelected = selected[field]
		switch constraint {
		case FieldRequired, LocationRequired:
			if !isSelected {
				b.out.Errors = append(b.out.Errors, errs.NewBuildError(scopeStr,
					"field %q is required by the connector but is not selected", field))
			}
		case FieldForbidden:
			if isSelected {
				b.out.Errors = append(b.out.Errors, errs.NewBuildError(scopeStr,
					"field %q is forbidden by the connector but is selected", field))
			}
		case FieldUnsatisfiable:
			if isSelected {
				b.out.Errors = append(b.out.Errors, errs.NewBuildError(scopeStr,
					"field %q cannot be satisfied by the connector's current configuration", field))
			}
		}
	}
}
