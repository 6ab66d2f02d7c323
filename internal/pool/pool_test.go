package pool_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nextcloud/go_kaldi_serve/internal/engine/fakeengine"
	"github.com/nextcloud/go_kaldi_serve/internal/metrics"
	"github.com/nextcloud/go_kaldi_serve/internal/model"
	"github.com/nextcloud/go_kaldi_serve/internal/pool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBundle(t *testing.T, nDecoders int) *model.Bundle {
	t.Helper()
	spec := model.Spec{Name: "test", LanguageCode: "en", Path: "/unused", NDecoders: nDecoders}
	bundle, err := model.Load(spec, fakeengine.Factory{})
	require.NoError(t, err)
	return bundle
}

func TestPool_AcquireReleaseRoundTrip(t *testing.T) {
	p := pool.New(newTestBundle(t, 2), nil)
	assert.Equal(t, 2, p.Capacity())
	assert.Equal(t, 0, p.Occupancy())

	w, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Occupancy())

	p.Release(w)
	assert.Equal(t, 0, p.Occupancy())
}

func TestPool_AcquireBlocksUntilCapacityAvailable(t *testing.T) {
	p := pool.New(newTestBundle(t, 1), nil)
	w, err := p.Acquire(context.Background())
	require.NoError(t, err)

	released := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		w2, err := p.Acquire(ctx)
		assert.NoError(t, err)
		if w2 != nil {
			p.Release(w2)
		}
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("second acquire returned before first release")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(w)
	<-released
	wg.Wait()
}

func TestPool_AcquireRespectsContextCancellation(t *testing.T) {
	p := pool.New(newTestBundle(t, 1), nil)
	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_CloseUnblocksWaiters(t *testing.T) {
	p := pool.New(newTestBundle(t, 1), nil)
	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, pool.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not unblock after Close")
	}
}

func TestPool_FIFOOrdering(t *testing.T) {
	p := pool.New(newTestBundle(t, 1), nil)
	first, err := p.Acquire(context.Background())
	require.NoError(t, err)

	order := make(chan int, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		idx := i
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(idx) * 10 * time.Millisecond)
			w, err := p.Acquire(context.Background())
			require.NoError(t, err)
			order <- idx
			p.Release(w)
		}()
		time.Sleep(5 * time.Millisecond)
	}

	p.Release(first)
	wg.Wait()
	close(order)
	var got []int
	for v := range order {
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1}, got)
}

func TestPool_PublishesOccupancyAndCapacityMetrics(t *testing.T) {
	collectors := metrics.New()
	bundle := newTestBundle(t, 2)
	p := pool.New(bundle, collectors)

	labels := prometheusLabels(bundle)
	assert.Equal(t, float64(2), testutil.ToFloat64(collectors.PoolCapacity.WithLabelValues(labels...)))
	assert.Equal(t, float64(0), testutil.ToFloat64(collectors.PoolOccupancy.WithLabelValues(labels...)))

	w, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(collectors.PoolOccupancy.WithLabelValues(labels...)))
	assert.Equal(t, uint64(1), testutil.CollectAndCount(collectors.AcquireWaitSecs))

	p.Release(w)
	assert.Equal(t, float64(0), testutil.ToFloat64(collectors.PoolOccupancy.WithLabelValues(labels...)))
}

func prometheusLabels(bundle *model.Bundle) []string {
	return []string{bundle.ID.Name, bundle.ID.LanguageCode}
}
