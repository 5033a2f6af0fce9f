package builder

import (
	"encoding/json"

	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/errs"
	"github.com/estuary/flow-controller/internal/models"
)

// buildTests builds every drafted test. A test that verifies against a
// deleted collection is not itself a build error; it becomes a failing
// test, surfaced by the test controller (§4.8, S5).
func (b *builderState) buildTests() {
	for _, d := range b.in.Draft.Tests {
		var row = BuiltRow{Name: d.Name, Type: models.CatalogTypeTest}
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
			b.out.BuiltTests = append(b.out.BuiltTests, row)
			continue
		}

		row.IsTouch = d.IsTouch
		if d.IsTouch && existed && modelsByteEqual(d.Model, live.Model) {
			row.IsUnchanged = true
			row.Model = live.Model
			row.BuiltSpec = live.BuiltSpec
			row.BuiltSpecHash = live.BuiltSpecHash
			row.ReadsFrom = live.ReadsFrom
			b.out.BuiltTests = append(b.out.BuiltTests, row)
			continue
		}

		var scopeStr = scope(models.CatalogTypeTest, d.Name)
		if e := checkNoEscapedNUL(scopeStr, d.Model); e != nil {
			b.out.Errors = append(b.out.Errors, e)
			continue
		}

		var tm catalog.TestModel
		if err := json.Unmarshal(d.Model, &tm); err != nil {
			b.out.Errors = append(b.out.Errors, errs.NewBuildError(scopeStr, "parsing test model: %v", err))
			continue
		}

		var readsFrom []models.Name
		for _, step := range tm.Steps {
			readsFrom = append(readsFrom, step.Collection)
		}

		row.Model = d.Model
		row.BuiltSpec = d.Model
		row.BuiltSpecHash = hashSpec(row.BuiltSpec)
		row.ReadsFrom = readsFrom
		row.Validated = true
		b.out.BuiltTests = append(b.out.BuiltTests, row)
	}
}
