package executors

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/store"
	"github.com/stretchr/testify/require"
)

func TestTestExecutorPassesWhenAllStepCollectionsLive(t *testing.T) {
	db, live := openTestStore(t)
	seedLiveSpec(t, db, models.LiveSpec{Name: "marmots/grass", Type: models.CatalogTypeCollection, Model: []byte(`{"key":["/id"]}`)})
	seedLiveSpec(t, db, models.LiveSpec{
		Name: "marmots/a-test", Type: models.CatalogTypeTest,
		Model: []byte(`{"steps":[{"collection":"marmots/grass"}]}`),
	})

	var exec = &Test{Live: live, Clock: ids.SystemClock{}}
	var result = exec.Reconcile(context.Background(), leasedJob("marmots/a-test", models.CatalogTypeTest, nil))
	require.NoError(t, result.Err)

	var status models.TestStatus
	require.NoError(t, json.Unmarshal(mustMarshal(t, result.Status), &status))
	require.True(t, status.Passing)
}

func TestTestExecutorFailsWhenStepCollectionDeleted(t *testing.T) {
	db, live := openTestStore(t)
	var deletedAt = int64(5)
	seedLiveSpec(t, db, models.LiveSpec{Name: "marmots/grass", Type: models.CatalogTypeCollection, LastPubID: 5, DeletedAt: &deletedAt})
	seedLiveSpec(t, db, models.LiveSpec{
		Name: "marmots/a-test", Type: models.CatalogTypeTest,
		Model: []byte(`{"steps":[{"collection":"marmots/grass"}]}`),
	})

	var exec = &Test{Live: live, Clock: ids.SystemClock{}}
	var result = exec.Reconcile(context.Background(), leasedJob("marmots/a-test", models.CatalogTypeTest, nil))
	require.NoError(t, result.Err)

	var status models.TestStatus
	require.NoError(t, json.Unmarshal(mustMarshal(t, result.Status), &status))
	require.False(t, status.Passing)
}

func TestTestExecutorSoftDeletedSchedulesHardDelete(t *testing.T) {
	db, live := openTestStore(t)
	var deletedAt = int64(9)
	seedLiveSpec(t, db, models.LiveSpec{Name: "marmots/a-test", Type: models.CatalogTypeTest, LastPubID: 9, DeletedAt: &deletedAt})

	var exec = &Test{Live: live, Publications: store.NewPublicationStore(db), Clock: ids.SystemClock{}}
	var result = exec.Reconcile(context.Background(), leasedJob("marmots/a-test", models.CatalogTypeTest, nil))
	require.NoError(t, result.Err)
	require.NotNil(t, result.AfterComplete)

	require.NoError(t, result.AfterComplete(context.Background()))
	_, exists, err := live.Get(context.Background(), "marmots/a-test")
	require.NoError(t, err)
	require.False(t, exists)
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
