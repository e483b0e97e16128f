package storefront

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource returns one scripted answer per call and repeats the
// last one after that.
type scriptedSource struct {
	mu     sync.Mutex
	script []answer
	calls  int
}

type answer struct {
	status models.OrderStatus
	err    error
}

func (s *scriptedSource) OrderStatus(_ context.Context, _ string) (models.OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.script[min(s.calls, len(s.script)-1)]
	s.calls++
	return a.status, a.err
}

func (s *scriptedSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestPoller_ApprovedAfterDelay(t *testing.T) {
	src := &scriptedSource{script: []answer{
		{status: models.OrderStatusPendingPayment},
		{err: errors.New("network down")},
		{status: models.OrderStatusNew},
	}}
	p := NewPoller(src, "o-1", logging.Nop()).WithTiming(10*time.Millisecond, 30*time.Millisecond)

	var approvedAt time.Time
	var approvedID string
	p.OnApproved = func(id string) {
		approvedID = id
		approvedAt = time.Now()
	}
	p.OnFailed = func(string, models.OrderStatus) { t.Error("OnFailed must not run") }

	start := time.Now()
	status, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusNew, status)
	assert.Equal(t, "o-1", approvedID)
	assert.Equal(t, 3, src.count())
	assert.GreaterOrEqual(t, approvedAt.Sub(start), 30*time.Millisecond)
}

func TestPoller_FailedStopsPolling(t *testing.T) {
	for _, terminal := range []models.OrderStatus{models.OrderStatusCancelled, "rejected"} {
		t.Run(string(terminal), func(t *testing.T) {
			src := &scriptedSource{script: []answer{{status: terminal}}}
			p := NewPoller(src, "o-1", logging.Nop()).WithTiming(5*time.Millisecond, time.Millisecond)

			var failed models.OrderStatus
			p.OnFailed = func(_ string, s models.OrderStatus) { failed = s }

			status, err := p.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, terminal, status)
			assert.Equal(t, terminal, failed)

			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, 1, src.count())
		})
	}
}

func TestPoller_CheckNow(t *testing.T) {
	src := &scriptedSource{script: []answer{
		{status: models.OrderStatusPendingPayment},
		{status: models.OrderStatusNew},
	}}
	p := NewPoller(src, "o-1", logging.Nop()).WithTiming(time.Hour, time.Millisecond)

	approved := make(chan struct{})
	p.OnApproved = func(string) { close(approved) }

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, time.Millisecond)
	p.CheckNow()

	select {
	case <-approved:
	case <-time.After(time.Second):
		t.Fatal("manual check did not approve the order")
	}
	require.NoError(t, <-done)
}

func TestPoller_StopsOnCancel(t *testing.T) {
	src := &scriptedSource{script: []answer{{status: models.OrderStatusPendingPayment}}}
	p := NewPoller(src, "o-1", logging.Nop()).WithTiming(5*time.Millisecond, time.Millisecond)
	p.OnApproved = func(string) { t.Error("OnApproved must not run") }

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	status, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.OrderStatusPendingPayment, status)
	assert.Greater(t, src.count(), 1)
}

func TestPoller_CancelDuringApprovedDelay(t *testing.T) {
	src := &scriptedSource{script: []answer{{status: models.OrderStatusNew}}}
	p := NewPoller(src, "o-1", logging.Nop()).WithTiming(time.Hour, time.Hour)
	p.OnApproved = func(string) { t.Error("OnApproved must not run after unmount") }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoller_FulfilmentCountsAsApproved(t *testing.T) {
	for _, status := range []models.OrderStatus{models.OrderStatusInTransit, models.OrderStatusDelivered} {
		t.Run(string(status), func(t *testing.T) {
			src := &scriptedSource{script: []answer{
				{status: models.OrderStatusPendingPayment},
				{status: status},
			}}
			p := NewPoller(src, "o-1", logging.Nop()).WithTiming(5*time.Millisecond, time.Millisecond)

			approved := false
			p.OnApproved = func(string) { approved = true }
			p.OnFailed = func(string, models.OrderStatus) { t.Error("OnFailed must not run") }

			got, err := p.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, status, got)
			assert.True(t, approved)

			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, 2, src.count())
		})
	}
}
