package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crossflow/crossflow/persistence"
)

func TestStore(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, store *Store){
		"append and read preserve order":           testAppendRead,
		"unknown stream is a typed error":          testUnknownStream,
		"streams lists by prefix":                  testStreamsByPrefix,
		"subscription sees later appends only":     testSubscribeFromNow,
		"stalled subscriber does not block append": testStalledSubscriber,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewStore())
		})
	}
}

func testAppendRead(t *testing.T, store *Store) {
	ctx := context.Background()
	for _, n := range []string{"one", "two", "three"} {
		e, err := persistence.NewEvent(persistence.WorkflowProposed, map[string]string{"n": n})
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, "workflows.w1", e))
	}

	events, err := store.Read(ctx, "workflows.w1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.JSONEq(t, `{"n":"one"}`, string(events[0].Data))
	require.JSONEq(t, `{"n":"three"}`, string(events[2].Data))
}

func testUnknownStream(t *testing.T, store *Store) {
	_, err := store.Read(context.Background(), "workflows.missing")
	require.Error(t, err)
	var notFound persistence.StreamNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func testStreamsByPrefix(t *testing.T, store *Store) {
	ctx := context.Background()
	for _, stream := range []string{"workflows.a", "workflows.b", "instances.c"} {
		e, err := persistence.NewEvent(persistence.WorkflowProposed, map[string]string{})
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, stream, e))
	}

	streams, err := store.Streams(ctx, "workflows.")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"workflows.a", "workflows.b"}, streams)
}

func testSubscribeFromNow(t *testing.T, store *Store) {
	ctx := context.Background()

	before, err := persistence.NewEvent(persistence.WorkflowProposed, map[string]string{"n": "before"})
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, "workflows.w1", before))

	events, cancel, err := store.SubscribeFromNow(ctx)
	require.NoError(t, err)
	defer cancel()

	after, err := persistence.NewEvent(persistence.WorkflowAccepted, map[string]string{"n": "after"})
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, "workflows.w1", after))

	select {
	case se := <-events:
		require.Equal(t, "workflows.w1", se.Stream)
		require.Equal(t, persistence.WorkflowAccepted, se.Event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received on subscription")
	}
}

func testStalledSubscriber(t *testing.T, store *Store) {
	ctx := context.Background()

	// Subscribe and never drain, so the channel buffer fills up.
	_, cancel, err := store.SubscribeFromNow(ctx)
	require.NoError(t, err)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1100; i++ {
			e, err := persistence.NewEvent(persistence.WorkflowProposed, map[string]string{})
			require.NoError(t, err)
			require.NoError(t, store.Append(ctx, "workflows.w1", e))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("append blocked on a subscriber that stopped draining")
	}

	events, err := store.Read(ctx, "workflows.w1")
	require.NoError(t, err)
	require.Len(t, events, 1100)
}
