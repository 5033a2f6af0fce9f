package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct{ err error }

func (f fakeExecutor) Reconcile(ctx context.Context, job store.Leased) TickResult {
	return TickResult{Status: map[string]bool{"ok": true}, Err: f.err}
}

func TestRunOnceIncrementsTickCounterAndQueueDepthGauge(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.ExecContext(context.Background(), `
		INSERT INTO live_specs(catalog_name, catalog_name_fold, spec_type, spec, last_pub_id, generation_id, data_plane_id)
		VALUES ('marmots/capture', 'marmots/capture', 'capture', '{}', 1, 0, '')`)
	require.NoError(t, err)
	_, err = db.ExecContext(context.Background(), `
		INSERT INTO controller_jobs(live_spec_id, controller_next_run, updated_at, status)
		VALUES (1, 0, 0, '{}')`)
	require.NoError(t, err)

	var clock = ids.NewFixedClock(time.Unix(1000, 0))
	var disp = &Dispatcher{
		Jobs:      store.NewControllerJobStore(db, clock),
		Clock:     clock,
		Executors: map[models.CatalogType]Executor{models.CatalogTypeCapture: fakeExecutor{}},
	}

	var before = testutil.ToFloat64(ticksCounter.WithLabelValues(string(models.CatalogTypeCapture), "ok"))
	ran, err := disp.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, before+1, testutil.ToFloat64(ticksCounter.WithLabelValues(string(models.CatalogTypeCapture), "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(queueDepthGauge.WithLabelValues()))
}
