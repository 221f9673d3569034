package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/pkg/models"
	"chatrelay/pkg/msglog"
	"chatrelay/pkg/store"
)

func setupBroker(t *testing.T, opts Options) (*Broker, *msglog.Log) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.PutConversation(models.Conversation{
		ID:             "room",
		Kind:           models.ConvGroup,
		ParticipantIDs: []string{"alice", "bob"},
	}))
	log := msglog.New(st, msglog.Options{})
	b := New(log, opts)
	log.SetNotifier(b)
	t.Cleanup(b.Close)
	return b, log
}

func recvN(t *testing.T, sub *Subscription, n int) []models.Message {
	t.Helper()
	out := make([]models.Message, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case m, ok := <-sub.C():
			if !ok {
				t.Fatalf("feed closed after %d of %d messages", len(out), n)
			}
			out = append(out, m)
		case <-timeout:
			t.Fatalf("timed out after %d of %d messages", len(out), n)
		}
	}
	return out
}

func TestSubscribeReplaysSinceExclusive(t *testing.T) {
	b, log := setupBroker(t, Options{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, "room", "alice", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	sub, err := b.Subscribe(ctx, "room", 2)
	require.NoError(t, err)
	defer sub.Cancel()

	got := recvN(t, sub, 3)
	for i, m := range got {
		assert.Equal(t, uint64(3+i), m.ID)
	}
}

func TestReplayThenLiveNoGapsNoDupes(t *testing.T) {
	b, log := setupBroker(t, Options{ReplayBatch: 2})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := log.Append(ctx, "room", "alice", fmt.Sprintf("old%d", i))
		require.NoError(t, err)
	}

	sub, err := b.Subscribe(ctx, "room", 0)
	require.NoError(t, err)
	defer sub.Cancel()

	// appends racing the replay phase must still arrive exactly once
	for i := 0; i < 6; i++ {
		_, err := log.Append(ctx, "room", "bob", fmt.Sprintf("new%d", i))
		require.NoError(t, err)
	}

	got := recvN(t, sub, 12)
	for i, m := range got {
		require.Equal(t, uint64(i+1), m.ID, "gap or duplicate at position %d", i)
	}
}

func TestLiveDeliveryInCommitOrder(t *testing.T) {
	b, log := setupBroker(t, Options{})
	ctx := context.Background()
	sub, err := b.Subscribe(ctx, "room", 0)
	require.NoError(t, err)
	defer sub.Cancel()

	const n = 25
	for i := 0; i < n; i++ {
		_, err := log.Append(ctx, "room", "alice", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	got := recvN(t, sub, n)
	for i, m := range got {
		require.Equal(t, uint64(i+1), m.ID)
	}
}

func TestResubscribeCatchesUp(t *testing.T) {
	b, log := setupBroker(t, Options{})
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "room", 0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := log.Append(ctx, "room", "alice", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	got := recvN(t, sub, 3)
	last := got[len(got)-1].ID
	sub.Cancel()

	// messages sent while disconnected
	for i := 0; i < 3; i++ {
		_, err := log.Append(ctx, "room", "bob", fmt.Sprintf("missed%d", i))
		require.NoError(t, err)
	}

	sub2, err := b.Subscribe(ctx, "room", last)
	require.NoError(t, err)
	defer sub2.Cancel()
	got2 := recvN(t, sub2, 3)
	for i, m := range got2 {
		assert.Equal(t, last+uint64(i+1), m.ID)
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	b, log := setupBroker(t, Options{SubscriberBuffer: 2})
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "room", 0)
	require.NoError(t, err)
	// drain nothing: out fills, then in fills, then Notify drops us
	for i := 0; i < 20; i++ {
		_, err := log.Append(ctx, "room", "alice", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("slow subscriber was not dropped")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	b, _ := setupBroker(t, Options{})
	sub, err := b.Subscribe(context.Background(), "room", 0)
	require.NoError(t, err)
	sub.Cancel()
	sub.Cancel()
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)

	select {
	case <-sub.Done():
	default:
		t.Fatal("Done not closed after Cancel")
	}
}

func TestSubscribeAfterCloseFails(t *testing.T) {
	b, _ := setupBroker(t, Options{})
	b.Close()
	_, err := b.Subscribe(context.Background(), "room", 0)
	assert.Error(t, err)
}

func TestFanOutToMultipleSubscribers(t *testing.T) {
	b, log := setupBroker(t, Options{})
	ctx := context.Background()

	var subs []*Subscription
	for i := 0; i < 3; i++ {
		sub, err := b.Subscribe(ctx, "room", 0)
		require.NoError(t, err)
		defer sub.Cancel()
		subs = append(subs, sub)
	}
	for i := 0; i < 4; i++ {
		_, err := log.Append(ctx, "room", "alice", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	for _, sub := range subs {
		got := recvN(t, sub, 4)
		for i, m := range got {
			require.Equal(t, uint64(i+1), m.ID)
		}
	}
}
