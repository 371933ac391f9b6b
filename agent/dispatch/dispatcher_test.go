package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/agentbot/agent/intent"
	"github.com/m3rciful/agentbot/core/telegram/state"
)

type routerFunc func(ctx context.Context, t intent.Turn) (intent.Reply, error)

func (f routerFunc) Route(ctx context.Context, t intent.Turn) (intent.Reply, error) {
	return f(ctx, t)
}

type delivery struct {
	chatID int64
	reply  intent.Reply
}

type recordingDeliverer struct {
	mu  sync.Mutex
	out []delivery
	err error
}

func (r *recordingDeliverer) Deliver(_ context.Context, chatID int64, reply intent.Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, delivery{chatID: chatID, reply: reply})
	return r.err
}

func (r *recordingDeliverer) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.out))
	for _, d := range r.out {
		out = append(out, d.reply.Text)
	}
	return out
}

func echo() routerFunc {
	return func(_ context.Context, t intent.Turn) (intent.Reply, error) {
		return intent.Reply{Text: t.Text}, nil
	}
}

func newDispatcher(t *testing.T, r Router, opts Options) (*Dispatcher, *recordingDeliverer) {
	t.Helper()
	del := &recordingDeliverer{}
	d, err := New(r, del, opts)
	require.NoError(t, err)
	return d, del
}

func closeDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestSameUserInArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	r := routerFunc(func(_ context.Context, turn intent.Turn) (intent.Reply, error) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen = append(seen, turn.Text)
		mu.Unlock()
		return intent.Reply{Text: turn.Text}, nil
	})
	d, del := newDispatcher(t, r, Options{MaxPending: 100})

	var want []string
	for i := 1; i <= 30; i++ {
		text := fmt.Sprintf("m%d", i)
		want = append(want, text)
		require.NoError(t, d.Dispatch(context.Background(), Update{ID: i, UserID: 1, Text: text}))
	}
	closeDispatcher(t, d)

	assert.Equal(t, want, seen)
	assert.Equal(t, want, del.texts())
	assert.Equal(t, int64(1), del.out[0].chatID)
}

func TestSameUserReadModifyWriteIsNotLost(t *testing.T) {
	store := state.NewMemoryStore()
	r := routerFunc(func(ctx context.Context, turn intent.Turn) (intent.Reply, error) {
		sess, ok, err := store.Get(ctx, turn.UserID)
		if err != nil {
			return intent.Reply{}, err
		}
		if !ok {
			sess = &state.Session{UserID: turn.UserID, State: "counting"}
		}
		time.Sleep(100 * time.Microsecond)
		sess.Fields = append(sess.Fields, state.Field{Name: "n", Value: turn.Text})
		return intent.Reply{}, store.Put(ctx, sess)
	})
	d, _ := newDispatcher(t, r, Options{MaxPending: 1000})

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, d.Dispatch(context.Background(), Update{ID: i, UserID: 9, Text: fmt.Sprint(i)}))
		}(i)
	}
	wg.Wait()
	closeDispatcher(t, d)

	sess, ok, err := store.Get(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, sess.Fields, 100)
}

func TestUsersRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	r := routerFunc(func(ctx context.Context, turn intent.Turn) (intent.Reply, error) {
		if turn.UserID == 1 {
			select {
			case <-release:
			case <-time.After(3 * time.Second):
				return intent.Reply{}, errors.New("user 2 never ran")
			}
		} else {
			close(release)
		}
		return intent.Reply{Text: turn.Text}, nil
	})
	d, del := newDispatcher(t, r, Options{})

	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 1, UserID: 1, Text: "slow"}))
	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 2, UserID: 2, Text: "fast"}))
	closeDispatcher(t, d)

	assert.ElementsMatch(t, []string{"slow", "fast"}, del.texts())
}

func TestDuplicateUpdatesAreDropped(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	r := routerFunc(func(_ context.Context, turn intent.Turn) (intent.Reply, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return intent.Reply{Text: turn.Text}, nil
	})
	d, _ := newDispatcher(t, r, Options{})

	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 5, UserID: 1, Text: "hi"}))
	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 5, UserID: 1, Text: "hi"}))
	closeDispatcher(t, d)

	assert.Equal(t, 1, calls)
}

func TestEmptyTextGetsTextOnlyReply(t *testing.T) {
	called := false
	r := routerFunc(func(context.Context, intent.Turn) (intent.Reply, error) {
		called = true
		return intent.Reply{}, nil
	})
	d, del := newDispatcher(t, r, Options{})

	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 1, UserID: 1, Text: "  "}))
	closeDispatcher(t, d)

	assert.False(t, called)
	assert.Equal(t, []string{DefaultTexts().TextOnly}, del.texts())
}

func TestRouterErrorAndPanicAreContained(t *testing.T) {
	r := routerFunc(func(_ context.Context, turn intent.Turn) (intent.Reply, error) {
		switch turn.Text {
		case "error":
			return intent.Reply{}, errors.New("store down")
		case "panic":
			panic("nil map")
		}
		return intent.Reply{Text: turn.Text}, nil
	})
	d, del := newDispatcher(t, r, Options{Texts: Texts{Failure: "sorry"}})

	for i, text := range []string{"error", "panic", "after"} {
		require.NoError(t, d.Dispatch(context.Background(), Update{ID: i + 1, UserID: 1, Text: text}))
	}
	closeDispatcher(t, d)

	assert.Equal(t, []string{"sorry", "sorry", "after"}, del.texts())
}

func TestDeliveryErrorDoesNotStopWorker(t *testing.T) {
	d, del := newDispatcher(t, echo(), Options{})
	del.err = errors.New("blocked by user")

	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 1, UserID: 1, Text: "a"}))
	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 2, UserID: 1, Text: "b"}))
	closeDispatcher(t, d)

	assert.Equal(t, []string{"a", "b"}, del.texts())
}

func TestQueueFullAndClosed(t *testing.T) {
	release := make(chan struct{})
	r := routerFunc(func(_ context.Context, turn intent.Turn) (intent.Reply, error) {
		<-release
		return intent.Reply{Text: turn.Text}, nil
	})
	d, _ := newDispatcher(t, r, Options{MaxPending: 2})

	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 1, UserID: 1, Text: "a"}))
	require.Eventually(t, func() bool { return d.Pending() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 2, UserID: 1, Text: "b"}))
	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 3, UserID: 1, Text: "c"}))
	assert.ErrorIs(t, d.Dispatch(context.Background(), Update{ID: 4, UserID: 1, Text: "d"}), ErrQueueFull)
	assert.NoError(t, d.Dispatch(context.Background(), Update{ID: 5, UserID: 2, Text: "e"}))

	close(release)
	closeDispatcher(t, d)
	assert.ErrorIs(t, d.Dispatch(context.Background(), Update{ID: 6, UserID: 1, Text: "f"}), ErrClosed)
}

func TestRejectedUpdateGetsFailureAndCanBeRedelivered(t *testing.T) {
	release := make(chan struct{})
	r := routerFunc(func(_ context.Context, turn intent.Turn) (intent.Reply, error) {
		if turn.Text == "block" {
			<-release
		}
		return intent.Reply{Text: turn.Text}, nil
	})
	d, del := newDispatcher(t, r, Options{MaxPending: 1, Texts: Texts{Failure: "sorry"}})

	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 1, UserID: 1, Text: "block"}))
	require.Eventually(t, func() bool { return d.Pending() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 2, UserID: 1, Text: "queued"}))
	assert.ErrorIs(t, d.Dispatch(context.Background(), Update{ID: 3, UserID: 1, Text: "late"}), ErrQueueFull)
	require.Eventually(t, func() bool { return len(del.texts()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"sorry"}, del.texts())

	close(release)
	require.Eventually(t, func() bool { return len(del.texts()) == 3 }, time.Second, time.Millisecond)
	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 3, UserID: 1, Text: "late"}))
	closeDispatcher(t, d)

	assert.Equal(t, []string{"sorry", "block", "queued", "late"}, del.texts())
}

func TestCloseCancelsTurnsAfterDeadline(t *testing.T) {
	r := routerFunc(func(ctx context.Context, _ intent.Turn) (intent.Reply, error) {
		<-ctx.Done()
		return intent.Reply{}, ctx.Err()
	})
	d, del := newDispatcher(t, r, Options{Texts: Texts{Failure: "sorry"}})
	require.NoError(t, d.Dispatch(context.Background(), Update{ID: 1, UserID: 1, Text: "wait"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	assert.Equal(t, []string{"sorry"}, del.texts())
}

func TestDispatchValidates(t *testing.T) {
	d, _ := newDispatcher(t, echo(), Options{})
	assert.ErrorIs(t, d.Dispatch(context.Background(), Update{ID: 1, Text: "x"}), ErrNoSender)
	closeDispatcher(t, d)

	_, err := New(nil, &recordingDeliverer{}, Options{})
	assert.Error(t, err)
	_, err = New(echo(), nil, Options{})
	assert.Error(t, err)
}
