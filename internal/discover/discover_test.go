package discover_test

import (
	"context"
	"testing"
	"time"

	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/discover"
	"github.com/estuary/flow-controller/internal/discover/fake"
	"github.com/estuary/flow-controller/internal/errs"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/stretchr/testify/require"
)

func TestAddedBindings(t *testing.T) {
	var conn = fake.New()
	conn.Enqueue("marmots/image", &discover.Response{
		Bindings: []discover.DiscoveredBinding{
			{RecommendedName: "grass", ResourcePath: []string{"grass"}},
			{RecommendedName: "moss", ResourcePath: []string{"moss"}, Disable: true},
		},
	})

	var sub = discover.New(conn)
	var plan, err = sub.Run(context.Background(), discover.Request{
		Capture: "marmots/capture",
		Image:   "marmots/image",
		Model: catalog.CaptureModel{
			AutoDiscover: &catalog.AutoDiscoverCfg{AddNewBindings: true},
		},
		Now: time.Unix(100, 0),
	})
	require.NoError(t, err)
	require.True(t, plan.NeedsPublish)
	require.ElementsMatch(t, []string{"marmots/grass", "marmots/moss"}, plan.Outcome.Added)
	require.Empty(t, plan.Outcome.Modified)
	require.Empty(t, plan.Outcome.Removed)
	require.Len(t, plan.Bindings, 2)

	var byTarget = map[string]catalog.CaptureBinding{}
	for _, b := range plan.Bindings {
		byTarget[string(b.Target)] = b
	}
	require.False(t, byTarget["marmots/grass"].Disable)
	require.True(t, byTarget["marmots/moss"].Disable)
	require.Equal(t, "auto-discover changes (2 added, 0 modified, 0 removed)", plan.Detail)
}

func TestNoOpDiscover(t *testing.T) {
	var conn = fake.New()
	var existing = catalog.CaptureBinding{Target: "marmots/grass", ResourceConfig: []byte(`{"table":"grass"}`), ResourcePath: []string{"grass"}}
	conn.Enqueue("marmots/image", &discover.Response{
		Bindings: []discover.DiscoveredBinding{
			{RecommendedName: "grass", ResourcePath: []string{"grass"}, ResourceConfig: []byte(`{"table":"grass"}`), Key: []string{"/id"}},
		},
	})

	var sub = discover.New(conn)
	var plan, err = sub.Run(context.Background(), discover.Request{
		Capture: "marmots/capture",
		Image:   "marmots/image",
		Model: catalog.CaptureModel{
			AutoDiscover: &catalog.AutoDiscoverCfg{AddNewBindings: true},
			Bindings:     []catalog.CaptureBinding{existing},
		},
		Current: []discover.CurrentBinding{
			discover.NewCurrentBinding("grass", existing, []string{"/id"}),
		},
		Now: time.Unix(200, 0),
	})
	require.NoError(t, err)
	require.False(t, plan.NeedsPublish)
	require.True(t, plan.Outcome.IsNoOp())
}

func TestKeyChangeDetectedForReset(t *testing.T) {
	var conn = fake.New()
	var existing = catalog.CaptureBinding{Target: "marmots/grass", ResourceConfig: []byte(`{"table":"grass"}`), ResourcePath: []string{"grass"}}
	conn.Enqueue("marmots/image", &discover.Response{
		Bindings: []discover.DiscoveredBinding{
			{RecommendedName: "grass", ResourcePath: []string{"grass"}, ResourceConfig: []byte(`{"table":"grass"}`), Key: []string{"/id", "/squeaks"}},
		},
	})

	var sub = discover.New(conn)
	var plan, err = sub.Run(context.Background(), discover.Request{
		Capture: "marmots/capture",
		Image:   "marmots/image",
		Model: catalog.CaptureModel{
			AutoDiscover: &catalog.AutoDiscoverCfg{AddNewBindings: true, EvolveIncompatibleCollections: true},
			Bindings:     []catalog.CaptureBinding{existing},
		},
		Current: []discover.CurrentBinding{
			discover.NewCurrentBinding("grass", existing, []string{"/id"}),
		},
		Now: time.Unix(300, 0),
	})
	require.NoError(t, err)
	require.True(t, plan.NeedsPublish)
	require.True(t, plan.AutoEvolve)
	require.Len(t, plan.ResetCollections, 1)
	require.Equal(t, models.Name("marmots/grass"), plan.ResetCollections[0].Name)
	require.Equal(t, []string{"/id", "/squeaks"}, plan.ResetCollections[0].Key)
}

func TestRemovedBindingDisabledNotDeleted(t *testing.T) {
	var conn = fake.New()
	var grass = catalog.CaptureBinding{Target: "marmots/grass", ResourcePath: []string{"grass"}}
	var moss = catalog.CaptureBinding{Target: "marmots/moss", ResourcePath: []string{"moss"}}
	conn.Enqueue("marmots/image", &discover.Response{
		Bindings: []discover.DiscoveredBinding{
			{RecommendedName: "grass", ResourcePath: []string{"grass"}},
		},
	})

	var sub = discover.New(conn)
	var plan, err = sub.Run(context.Background(), discover.Request{
		Capture: "marmots/capture",
		Image:   "marmots/image",
		Model: catalog.CaptureModel{
			AutoDiscover: &catalog.AutoDiscoverCfg{AddNewBindings: true},
			Bindings:     []catalog.CaptureBinding{grass, moss},
		},
		Current: []discover.CurrentBinding{
			discover.NewCurrentBinding("grass", grass, nil),
			discover.NewCurrentBinding("moss", moss, nil),
		},
		Now: time.Unix(400, 0),
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"marmots/moss"}, plan.Outcome.Removed)
	require.Len(t, plan.Bindings, 2)
	for _, b := range plan.Bindings {
		if b.Target == "marmots/moss" {
			require.True(t, b.Disable)
		}
	}
}

func TestConnectorErrorWraps(t *testing.T) {
	var conn = fake.New()
	conn.EnqueueError("marmots/image", errs.NewBuildError("scope", "boom"))

	var sub = discover.New(conn)
	var plan, err = sub.Run(context.Background(), discover.Request{
		Capture: "marmots/capture",
		Image:   "marmots/image",
		Model: catalog.CaptureModel{
			AutoDiscover: &catalog.AutoDiscoverCfg{AddNewBindings: true},
		},
	})
	require.NoError(t, err)
	require.Error(t, plan.Err)
	var df *errs.DiscoverFailed
	require.ErrorAs(t, plan.Err, &df)
}
