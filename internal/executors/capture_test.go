package executors

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/estuary/flow-controller/internal/activate"
	activatefake "github.com/estuary/flow-controller/internal/activate/fake"
	"github.com/estuary/flow-controller/internal/alerts"
	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/discover"
	discoverfake "github.com/estuary/flow-controller/internal/discover/fake"
	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/store"
	"github.com/stretchr/testify/require"
)

func TestCaptureDiscoverNoOpSetsNextRunAndLeavesFailureClear(t *testing.T) {
	sqlDB, live := openTestStore(t)
	seedLiveSpec(t, sqlDB, models.LiveSpec{
		Name: "marmots/capture", Type: models.CatalogTypeCapture, LastPubID: 1,
		Model: []byte(`{"endpoint":{"connector":{"image":"marmots/image:v1","config":{}}},"bindings":[],"autoDiscover":{"addNewBindings":true,"evolveIncompatibleCollections":false},"shards":{}}`),
	})

	var clock = ids.NewFixedClock(time.Unix(1000, 0))
	var conn = discoverfake.New()
	conn.Enqueue("marmots/image:v1", &discover.Response{})

	var exec = &Capture{
		Live:          live,
		Drafts:        store.NewDraftStore(sqlDB, live),
		Publications:  store.NewPublicationStore(sqlDB),
		Discover:      discover.New(conn),
		Activate:      activate.New(activatefake.New()),
		ShardFailures: store.NewShardFailureStore(sqlDB, clock),
		Alerts:        &alerts.Rules{Alerts: store.NewAlertStore(sqlDB, clock)},
		Clock:         clock,
	}

	var result = exec.Reconcile(context.Background(), leasedJob("marmots/capture", models.CatalogTypeCapture, nil))
	require.NoError(t, result.Err)
	require.NotNil(t, result.NextRun)

	var status models.CaptureStatus
	require.NoError(t, json.Unmarshal(mustMarshal(t, result.Status), &status))
	require.NotNil(t, status.AutoDiscover)
	require.NotNil(t, status.AutoDiscover.LastSuccess)
	require.Nil(t, status.AutoDiscover.Failure)
	require.True(t, status.AutoDiscover.LastSuccess.IsNoOp())
	require.True(t, status.AutoDiscover.NextAt.After(clock.Now()))
}

func TestCaptureDiscoverConnectorErrorBumpsFailureAndSchedulesBackoff(t *testing.T) {
	sqlDB, live := openTestStore(t)
	seedLiveSpec(t, sqlDB, models.LiveSpec{
		Name: "marmots/capture", Type: models.CatalogTypeCapture, LastPubID: 1,
		Model: []byte(`{"endpoint":{"connector":{"image":"marmots/image:v1","config":{}}},"bindings":[],"autoDiscover":{"addNewBindings":true,"evolveIncompatibleCollections":false},"shards":{}}`),
	})

	var clock = ids.NewFixedClock(time.Unix(2000, 0))
	var conn = discoverfake.New()
	// No response enqueued: the fake connector returns an error for any
	// unscripted image, exercising the discover-failure path.

	var exec = &Capture{
		Live:          live,
		Drafts:        store.NewDraftStore(sqlDB, live),
		Publications:  store.NewPublicationStore(sqlDB),
		Discover:      discover.New(conn),
		Activate:      activate.New(activatefake.New()),
		ShardFailures: store.NewShardFailureStore(sqlDB, clock),
		Alerts:        &alerts.Rules{Alerts: store.NewAlertStore(sqlDB, clock)},
		Clock:         clock,
	}

	var result = exec.Reconcile(context.Background(), leasedJob("marmots/capture", models.CatalogTypeCapture, nil))
	require.NoError(t, result.Err)

	var status models.CaptureStatus
	require.NoError(t, json.Unmarshal(mustMarshal(t, result.Status), &status))
	require.NotNil(t, status.AutoDiscover)
	require.NotNil(t, status.AutoDiscover.Failure)
	require.Equal(t, 1, status.AutoDiscover.Failure.Count)
	require.NotNil(t, status.AutoDiscover.NextAt)
	require.True(t, status.AutoDiscover.NextAt.After(clock.Now()))
}

func TestCaptureSoftDeletedDeactivatesThenHardDeletes(t *testing.T) {
	sqlDB, live := openTestStore(t)
	var deletedAt = int64(4)
	seedLiveSpec(t, sqlDB, models.LiveSpec{Name: "marmots/capture", Type: models.CatalogTypeCapture, LastPubID: 4, DeletedAt: &deletedAt})

	var clock = ids.NewFixedClock(time.Unix(3000, 0))
	var dp = activatefake.New()
	var exec = &Capture{
		Live:          live,
		Drafts:        store.NewDraftStore(sqlDB, live),
		Publications:  store.NewPublicationStore(sqlDB),
		Discover:      discover.New(discoverfake.New()),
		Activate:      activate.New(dp),
		ShardFailures: store.NewShardFailureStore(sqlDB, clock),
		Alerts:        &alerts.Rules{Alerts: store.NewAlertStore(sqlDB, clock)},
		Clock:         clock,
	}

	var result = exec.Reconcile(context.Background(), leasedJob("marmots/capture", models.CatalogTypeCapture, nil))
	require.NoError(t, result.Err)
	require.Equal(t, []string{"marmots/capture"}, dp.Deleted)
	require.NotNil(t, result.AfterComplete)

	require.NoError(t, result.AfterComplete(context.Background()))
	_, exists, err := live.Get(context.Background(), "marmots/capture")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRecordBindingPathsFallsBackToPriorPathForUntouchedBindings(t *testing.T) {
	// A binding discover didn't touch this cycle (empty ResourcePath on
	// the plan's returned binding) keeps the path already recorded for
	// it at the previous cycle.
	var priorPath = discover.JoinResourcePath([]string{"schema", "grass"})
	var current = []discover.CurrentBinding{
		discover.NewCurrentBinding(priorPath, catalog.CaptureBinding{Target: "marmots/grass"}, nil),
	}
	var bindings = []catalog.CaptureBinding{{Target: "marmots/grass"}}

	var out = recordBindingPaths(bindings, current)
	require.Equal(t, []string{"schema", "grass"}, out["marmots/grass"])
}

func TestSplitPathRoundTripsJoinResourcePath(t *testing.T) {
	var joined = discover.JoinResourcePath([]string{"schema", "table", "part"})
	var split = splitPath(joined)
	require.Equal(t, []string{"schema", "table", "part"}, split)
}

func TestEarliestPicksSoonerNonNilTime(t *testing.T) {
	var a = time.Unix(100, 0)
	var b = time.Unix(50, 0)
	require.Equal(t, &b, earliest(&a, &b))
	require.Equal(t, &a, earliest(&a, nil))
	require.Equal(t, &b, earliest(nil, &b))
	require.Nil(t, earliest(nil, nil))
}

func TestMergeFieldReplacesOnlyNamedField(t *testing.T) {
	var doc = models.RawJSON(`{"bindings":[1,2],"shards":{"disable":false}}`)
	var out = mergeField(doc, "bindings", json.RawMessage(`[3,4,5]`))

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &m))
	require.JSONEq(t, `[3,4,5]`, string(m["bindings"]))
	require.JSONEq(t, `{"disable":false}`, string(m["shards"]))
}
