package activate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/estuary/flow-controller/internal/activate"
	"github.com/estuary/flow-controller/internal/activate/fake"
	"github.com/estuary/flow-controller/internal/errs"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/stretchr/testify/require"
)

func TestPublicationAdvanceActivatesAndResetsBackoff(t *testing.T) {
	var dp = fake.New()
	var sub = activate.New(dp)
	var now = time.Unix(1000, 0)

	var status = models.ActivationStatus{LastActivated: 1, RecentFailureCount: 7, ShardStatus: models.ShardStatusFailed}
	var retry = now.Add(-time.Minute)
	status.NextRetry = &retry

	var live = models.LiveSpec{Name: "marmots/capture", Type: models.CatalogTypeCapture, LastPubID: 2}
	var result = sub.Reconcile(context.Background(), now, live, status, 0)

	require.NoError(t, result.Err)
	require.Equal(t, live.LastPubID, result.Status.LastActivated)
	require.Nil(t, result.Status.NextRetry)
	require.Zero(t, result.Status.RecentFailureCount)
	require.Equal(t, models.ShardStatusOK, result.Status.ShardStatus)
	require.Equal(t, []string{"marmots/capture"}, dp.Activated)
}

func TestShardFailureTriggersImmediateReactivation(t *testing.T) {
	var dp = fake.New()
	var sub = activate.New(dp)
	var now = time.Unix(2000, 0)

	var live = models.LiveSpec{Name: "marmots/capture", Type: models.CatalogTypeCapture, LastPubID: 5}
	var status = models.ActivationStatus{LastActivated: 5}

	var result = sub.Reconcile(context.Background(), now, live, status, 1)
	require.NoError(t, result.Err)
	require.Equal(t, 1, result.Status.RecentFailureCount)
	require.Nil(t, result.Status.NextRetry)
	require.Equal(t, models.ShardStatusOK, result.Status.ShardStatus)
	require.Equal(t, []string{"marmots/capture"}, dp.Activated)
}

func TestShardFailureBackoffOnActivationError(t *testing.T) {
	var dp = fake.New()
	dp.FailNext("marmots/capture", errors.New("rpc unavailable"))
	var sub = activate.New(dp)
	var now = time.Unix(3000, 0)

	var live = models.LiveSpec{Name: "marmots/capture", Type: models.CatalogTypeCapture, LastPubID: 5}
	var status = models.ActivationStatus{LastActivated: 5}

	var result = sub.Reconcile(context.Background(), now, live, status, 1)
	require.Error(t, result.Err)
	var af *errs.ActivationFailed
	require.ErrorAs(t, result.Err, &af)
	require.NotNil(t, result.Status.NextRetry)
	require.True(t, result.Status.NextRetry.After(now))
}

func TestAlreadyScheduledRetryDoesNotReactivate(t *testing.T) {
	var dp = fake.New()
	var sub = activate.New(dp)
	var now = time.Unix(4000, 0)
	var retry = now.Add(time.Minute)

	var live = models.LiveSpec{Name: "marmots/capture", Type: models.CatalogTypeCapture, LastPubID: 5}
	var status = models.ActivationStatus{LastActivated: 5, ShardStatus: models.ShardStatusFailed, RecentFailureCount: 2, NextRetry: &retry}

	var result = sub.Reconcile(context.Background(), now, live, status, 1)
	require.NoError(t, result.Err)
	require.Empty(t, dp.Activated)
	require.Equal(t, 3, result.Status.RecentFailureCount)
	require.NotNil(t, result.Status.NextRetry)
}

func TestDeactivateCallsDataPlaneDelete(t *testing.T) {
	var dp = fake.New()
	var sub = activate.New(dp)
	require.NoError(t, sub.Deactivate(context.Background(), "marmots/capture", models.CatalogTypeCapture))
	require.Equal(t, []string{"marmots/capture"}, dp.Deleted)
}
