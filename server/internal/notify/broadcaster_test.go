package notify

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"skill-sharing/server/internal/model"
	"skill-sharing/server/internal/talks"

	"github.com/stretchr/testify/require"
)

func newTestBroadcaster(t *testing.T) (*Broadcaster, *talks.InMemoryStore) {
	t.Helper()
	store := talks.NewInMemoryStore()
	b := NewBroadcaster(store.FindAll, WithLogger(log.New(io.Discard, "", 0)))
	return b, store
}

func waitForWaiters(t *testing.T, b *Broadcaster, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return b.Stats().Waiters == n
	}, time.Second, time.Millisecond)
}

func TestNotifyChangedIncrementsVersionByOne(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	require.Equal(t, Version(0), b.Version())

	for i := 1; i <= 5; i++ {
		got := b.NotifyChanged(context.Background())
		require.Equal(t, Version(i), got)
		require.Equal(t, Version(i), b.Version())
	}
}

func TestPollReturnsImmediatelyWhenVersionUnknownOrStale(t *testing.T) {
	b, store := newTestBroadcaster(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, model.Talk{Title: "Foobar", Presenter: "Anon", Summary: "Lorem ipsum"}))
	b.NotifyChanged(ctx)

	res, err := b.Poll(ctx, PollRequest{Wait: time.Hour})
	require.NoError(t, err)
	require.Equal(t, Modified, res.Status)
	require.Equal(t, Version(1), res.Snapshot.Version)
	require.Len(t, res.Snapshot.Talks, 1)

	stale := Version(0)
	start := time.Now()
	res, err = b.Poll(ctx, PollRequest{Known: &stale, Wait: time.Hour})
	require.NoError(t, err)
	require.Equal(t, Modified, res.Status)
	require.Equal(t, Version(1), res.Snapshot.Version)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 0, b.Stats().Waiters)
}

func TestPollNotModifiedWithoutWait(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	known := Version(0)

	res, err := b.Poll(context.Background(), PollRequest{Known: &known})
	require.NoError(t, err)
	require.Equal(t, NotModified, res.Status)

	res, err = b.Poll(context.Background(), PollRequest{Known: &known, Wait: 0})
	require.NoError(t, err)
	require.Equal(t, NotModified, res.Status)
	require.Equal(t, 0, b.Stats().Waiters)
}

func TestPollWakesOnChange(t *testing.T) {
	b, store := newTestBroadcaster(t)
	ctx := context.Background()
	known := Version(0)

	type outcome struct {
		res     PollResult
		err     error
		elapsed time.Duration
	}
	done := make(chan outcome, 1)
	go func() {
		start := time.Now()
		res, err := b.Poll(ctx, PollRequest{Known: &known, Wait: 5 * time.Second})
		done <- outcome{res, err, time.Since(start)}
	}()

	waitForWaiters(t, b, 1)
	require.NoError(t, store.Save(ctx, model.Talk{Title: "Foobar", Presenter: "Anon", Summary: "Lorem ipsum"}))
	b.NotifyChanged(ctx)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		require.Equal(t, Modified, out.res.Status)
		require.Equal(t, Version(1), out.res.Snapshot.Version)
		require.Equal(t, []model.Talk{{Title: "Foobar", Presenter: "Anon", Summary: "Lorem ipsum", Comments: []model.Comment{}}}, out.res.Snapshot.Talks)
		require.Less(t, out.elapsed, 5*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("poll was not woken by the change")
	}
	require.Equal(t, 0, b.Stats().Waiters)
}

func TestPollTimesOutWithNotModified(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	known := Version(0)

	start := time.Now()
	res, err := b.Poll(context.Background(), PollRequest{Known: &known, Wait: 50 * time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, NotModified, res.Status)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 0, b.Stats().Waiters)
}

func TestPollWaitersObserveSameSnapshot(t *testing.T) {
	b, store := newTestBroadcaster(t)
	ctx := context.Background()
	known := Version(0)

	const n = 10
	results := make(chan PollResult, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := b.Poll(ctx, PollRequest{Known: &known, Wait: 5 * time.Second})
			if err == nil {
				results <- res
			}
		}()
	}
	waitForWaiters(t, b, n)

	require.NoError(t, store.Save(ctx, model.Talk{Title: "Foo"}))
	b.NotifyChanged(ctx)

	for i := 0; i < n; i++ {
		select {
		case res := <-results:
			require.Equal(t, Modified, res.Status)
			require.Equal(t, Version(1), res.Snapshot.Version)
			require.Len(t, res.Snapshot.Talks, 1)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d waiters resolved", i, n)
		}
	}
}

func TestPollWaiterParkedAfterBroadcastIsNotResolvedByIt(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx := context.Background()
	b.NotifyChanged(ctx)

	known := Version(1)
	res, err := b.Poll(ctx, PollRequest{Known: &known, Wait: 30 * time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, NotModified, res.Status)
}

func TestPollContextCancelRemovesWaiter(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx, cancel := context.WithCancel(context.Background())
	known := Version(0)

	done := make(chan error, 1)
	go func() {
		_, err := b.Poll(ctx, PollRequest{Known: &known, Wait: 5 * time.Second})
		done <- err
	}()
	waitForWaiters(t, b, 1)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poll did not return after cancel")
	}
	require.Equal(t, 0, b.Stats().Waiters)
}

func TestNotifyChangedLoadErrorResolvesWaitersWithError(t *testing.T) {
	loadErr := errors.New("disk on fire")
	var fail bool
	var mu sync.Mutex
	b := NewBroadcaster(func(ctx context.Context) ([]model.Talk, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, loadErr
		}
		return []model.Talk{}, nil
	}, WithLogger(log.New(io.Discard, "", 0)))

	known := Version(0)
	done := make(chan error, 1)
	go func() {
		_, err := b.Poll(context.Background(), PollRequest{Known: &known, Wait: 5 * time.Second})
		done <- err
	}()
	waitForWaiters(t, b, 1)

	mu.Lock()
	fail = true
	mu.Unlock()
	require.Equal(t, Version(1), b.NotifyChanged(context.Background()))

	select {
	case err := <-done:
		require.ErrorIs(t, err, loadErr)
	case <-time.After(time.Second):
		t.Fatal("waiter was not resolved")
	}
}

// TestPollResolvesExactlyOnceUnderRace 让超时与广播尽量同时发生，
// 每个请求都必须返回且只返回一次，registry 最终为空。
func TestPollResolvesExactlyOnceUnderRace(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := map[PollStatus]int{}
	var errs []error

	known := Version(0)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := b.Poll(ctx, PollRequest{Known: &known, Wait: time.Duration(1+i%3) * time.Millisecond})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			counts[res.Status]++
		}()
	}
	time.Sleep(2 * time.Millisecond)
	b.NotifyChanged(ctx)
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, n, counts[Modified]+counts[NotModified])
	require.Equal(t, 0, b.Stats().Waiters)
}

func TestSubscribeDeliversInitialSnapshotThenLatest(t *testing.T) {
	b, store := newTestBroadcaster(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, model.Talk{Title: "Foo"}))

	sub, err := b.Subscribe(ctx)
	require.NoError(t, err)
	defer b.Unsubscribe(sub.ID)

	first := <-sub.C
	require.Equal(t, Version(0), first.Version)
	require.Len(t, first.Talks, 1)

	require.NoError(t, store.Save(ctx, model.Talk{Title: "Bar"}))
	b.NotifyChanged(ctx)
	require.NoError(t, store.Save(ctx, model.Talk{Title: "Baz"}))
	b.NotifyChanged(ctx)

	// 消费慢时只保留最新的一条。
	latest := <-sub.C
	require.Equal(t, Version(2), latest.Version)
	require.Len(t, latest.Talks, 3)
	select {
	case extra := <-sub.C:
		t.Fatalf("unexpected extra snapshot: version=%d", extra.Version)
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx)
	require.NoError(t, err)
	<-sub.C
	require.Equal(t, 1, b.Stats().Streams)

	b.Unsubscribe(sub.ID)
	b.Unsubscribe(sub.ID)
	require.Equal(t, 0, b.Stats().Streams)

	b.NotifyChanged(ctx)
	select {
	case <-sub.C:
		t.Fatal("unsubscribed stream received a snapshot")
	default:
	}
}

// TestCloseResolvesParkedPollsAsNotModified 关闭时挂起的长轮询立即以 NotModified 结束。
func TestCloseResolvesParkedPollsAsNotModified(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	known := b.Version()

	type outcome struct {
		res PollResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := b.Poll(context.Background(), PollRequest{Known: &known, Wait: 30 * time.Second})
		done <- outcome{res, err}
	}()
	waitForWaiters(t, b, 1)

	b.Close()

	select {
	case got := <-done:
		require.NoError(t, got.err)
		require.Equal(t, NotModified, got.res.Status)
		require.Equal(t, known, got.res.Snapshot.Version)
	case <-time.After(time.Second):
		t.Fatal("parked poll was not released by Close")
	}
	require.Equal(t, 0, b.Stats().Waiters)

	// 关闭后不再挂起
	start := time.Now()
	res, err := b.Poll(context.Background(), PollRequest{Known: &known, Wait: 30 * time.Second})
	require.NoError(t, err)
	require.Equal(t, NotModified, res.Status)
	require.Less(t, time.Since(start), time.Second)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	<-sub.C // 初始快照

	b.Close()
	b.Close()

	_, ok := <-sub.C
	require.False(t, ok, "subscription channel should be closed")
	require.Equal(t, 0, b.Stats().Streams)

	// 关闭后注销与再次订阅
	b.Unsubscribe(sub.ID)
	_, err = b.Subscribe(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestStatsReportsOldestWait(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := talks.NewInMemoryStore()
	b := NewBroadcaster(store.FindAll, WithLogger(log.New(io.Discard, "", 0)), WithClock(clock))
	require.Zero(t, b.Stats().OldestWait)

	known := b.Version()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Poll(ctx, PollRequest{Known: &known, Wait: time.Minute})
	waitForWaiters(t, b, 1)

	mu.Lock()
	now = now.Add(5 * time.Second)
	mu.Unlock()

	require.Equal(t, 5*time.Second, b.Stats().OldestWait)

	b.NotifyChanged(context.Background())
	require.Zero(t, b.Stats().OldestWait)
}
