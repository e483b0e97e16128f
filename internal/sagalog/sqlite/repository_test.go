package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/sagalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "saga.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepository_SaveAndGetLatest(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	require.NoError(t, repo.Save(ctx, sagalog.NewEntry(ctx, "s1", "o1", sagalog.StatusStarted, "", `{"order_id":"o1"}`, nil)))
	require.NoError(t, repo.Save(ctx, sagalog.NewEntry(ctx, "s1", "o1", sagalog.StatusStepDone, "provider_charge", "", nil)))

	latest, err := repo.GetLatest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusStepDone, latest.Status)
	assert.Equal(t, "provider_charge", latest.CurrentStep)
	assert.Equal(t, "o1", latest.OrderID)
	assert.Empty(t, latest.Payload)

	payload, err := repo.GetPayload(ctx, "s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"order_id":"o1"}`, payload)
}

func TestRepository_GetLatestNotFound(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.GetLatest(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRepository_ListUnfinished(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	save := func(id string, st sagalog.Status) {
		require.NoError(t, repo.Save(ctx, sagalog.NewEntry(ctx, id, "order-"+id, st, "step", "", nil)))
	}

	save("done", sagalog.StatusStarted)
	save("done", sagalog.StatusCompleted)
	save("crashed", sagalog.StatusStarted)
	save("crashed", sagalog.StatusStepDone)
	save("failed", sagalog.StatusStarted)
	save("failed", sagalog.StatusFailed)
	save("compensating", sagalog.StatusCompensating)

	unfinished, err := repo.ListUnfinished(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(unfinished))
	for _, e := range unfinished {
		ids = append(ids, e.SagaID)
	}
	assert.Equal(t, []string{"crashed", "compensating"}, ids)
	assert.Equal(t, sagalog.StatusStepDone, unfinished[0].Status)
}

func TestNewEntry_ErrorMessages(t *testing.T) {
	e := sagalog.NewEntry(context.Background(), "s", "o", sagalog.StatusFailed, "x", "", []string{"a failed"})

	assert.Equal(t, `["a failed"]`, e.ErrorMessages)
	assert.Empty(t, e.TraceID)
}

func TestRepository_History(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	require.NoError(t, repo.Save(ctx, sagalog.NewEntry(ctx, "s1", "o1", sagalog.StatusStarted, "", `{"a":1}`, nil)))
	require.NoError(t, repo.Save(ctx, sagalog.NewEntry(ctx, "s1", "o1", sagalog.StatusStepDone, "provider_charge", `{"payment_id":"9"}`, nil)))
	require.NoError(t, repo.Save(ctx, sagalog.NewEntry(ctx, "s2", "o2", sagalog.StatusStarted, "", "", nil)))

	history, err := repo.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, sagalog.StatusStarted, history[0].Status)
	assert.Equal(t, `{"payment_id":"9"}`, history[1].Payload)
}
