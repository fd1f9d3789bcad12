package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedLocksCoexist(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(context.Background(), 1, "k", Shared))
	require.NoError(t, m.Acquire(context.Background(), 2, "k", Shared))
}

func TestExclusiveExcludesShared(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(context.Background(), 1, "k", Exclusive))

	done := make(chan struct{})
	go func() {
		_ = m.Acquire(context.Background(), 2, "k", Shared)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("shared lock granted while exclusive held")
	case <-time.After(50 * time.Millisecond):
	}

	m.Release(1, "k")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shared lock never granted after release")
	}
}

func TestReleaseAllWakesWaiters(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(context.Background(), 1, "k", Exclusive))

	acquired := make(chan struct{})
	go func() {
		_ = m.Acquire(context.Background(), 2, "k", Exclusive)
		close(acquired)
	}()

	time.Sleep(20 * time.Millisecond)
	m.ReleaseAll(1)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never granted lock after ReleaseAll")
	}
}

func TestAcquireRespectsContextDeadline(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(context.Background(), 1, "k", Exclusive))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Acquire(ctx, 2, "k", Exclusive)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseGrantsQueuedSharedRun(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(context.Background(), 1, "k", Exclusive))

	var order []int
	var mu0 = make(chan struct{}, 3)

	go func() {
		_ = m.Acquire(context.Background(), 2, "k", Shared)
		order = append(order, 2)
		mu0 <- struct{}{}
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		_ = m.Acquire(context.Background(), 3, "k", Shared)
		order = append(order, 3)
		mu0 <- struct{}{}
	}()
	time.Sleep(10 * time.Millisecond)

	m.Release(1, "k")

	<-mu0
	<-mu0
	assert.ElementsMatch(t, []int{2, 3}, order)
}
