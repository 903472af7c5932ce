package subscription_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/runtime/subscription"
)

func TestSubscribePrimesWithCurrentContents(t *testing.T) {
	read := func(context.Context, string) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	}
	reg := subscription.New(read, nil, nil, nil)

	var got subscription.Update
	sub, err := reg.Subscribe(context.Background(), "resource://x", func(_ context.Context, u subscription.Update) {
		got = u
	})
	require.NoError(t, err)
	defer sub.Close(context.Background())

	require.False(t, got.Error)
	require.JSONEq(t, `{"ok":true}`, string(got.Content))
}

func TestFanOutDeliversToEverySubscriberWithIsolatedFailures(t *testing.T) {
	read := func(context.Context, string) (json.RawMessage, error) {
		return json.RawMessage(`{"v":1}`), nil
	}
	reg := subscription.New(read, nil, nil, nil)

	var mu sync.Mutex
	var calls []int

	sub1, err := reg.Subscribe(context.Background(), "resource://ui/state", func(context.Context, subscription.Update) {
		mu.Lock()
		calls = append(calls, 1)
		mu.Unlock()
		panic("subscriber 1 explodes")
	})
	require.NoError(t, err)
	defer sub1.Close(context.Background())

	sub2, err := reg.Subscribe(context.Background(), "resource://ui/state", func(context.Context, subscription.Update) {
		mu.Lock()
		calls = append(calls, 2)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub2.Close(context.Background())

	mu.Lock()
	calls = nil // reset after priming calls
	mu.Unlock()

	reg.HandleNotification(context.Background(), "resource://ui/state")

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []int{1, 2}, calls)
}

func TestFanOutDeliversErrorPayloadOnReadFailure(t *testing.T) {
	readErr := errors.New("upstream unavailable")
	read := func(context.Context, string) (json.RawMessage, error) {
		return nil, readErr
	}
	reg := subscription.New(read, nil, nil, nil)

	var mu sync.Mutex
	var received []subscription.Update
	record := func(_ context.Context, u subscription.Update) {
		mu.Lock()
		received = append(received, u)
		mu.Unlock()
	}

	sub1, _ := reg.Subscribe(context.Background(), "resource://x", record)
	sub2, _ := reg.Subscribe(context.Background(), "resource://x", record)
	defer sub1.Close(context.Background())
	defer sub2.Close(context.Background())

	mu.Lock()
	received = nil
	mu.Unlock()

	reg.HandleNotification(context.Background(), "resource://x")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	for _, u := range received {
		require.True(t, u.Error)
		require.Equal(t, readErr.Error(), u.Message)
	}
}

func TestUnsubscribeReleasesUpstreamWhenEmpty(t *testing.T) {
	read := func(context.Context, string) (json.RawMessage, error) { return json.RawMessage(`{}`), nil }
	var subCount, unsubCount int
	upstreamSub := func(context.Context, string) error { subCount++; return nil }
	upstreamUnsub := func(context.Context, string) error { unsubCount++; return nil }

	reg := subscription.New(read, upstreamSub, upstreamUnsub, nil)

	sub1, err := reg.Subscribe(context.Background(), "resource://y", func(context.Context, subscription.Update) {})
	require.NoError(t, err)
	sub2, err := reg.Subscribe(context.Background(), "resource://y", func(context.Context, subscription.Update) {})
	require.NoError(t, err)

	require.Equal(t, 1, subCount, "upstream subscribe issued exactly once on first subscriber")

	require.NoError(t, sub1.Close(context.Background()))
	require.Equal(t, 0, unsubCount, "still one subscriber left")

	require.NoError(t, sub2.Close(context.Background()))
	require.Equal(t, 1, unsubCount, "upstream unsubscribe issued once the set is empty")
}
