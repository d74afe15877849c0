package consistency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func slowPeer(t *testing.T, delay time.Duration, hits *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		require.NotNil(t, msg.Commitment)
		time.Sleep(delay)
		atomic.AddInt32(hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPointToPointStrategy(t *testing.T) {
	t.Run("peers are posted to concurrently", func(t *testing.T) {
		var hits int32
		peerA := slowPeer(t, 200*time.Millisecond, &hits)
		peerB := slowPeer(t, 200*time.Millisecond, &hits)

		strategy := NewPointToPointStrategy("org-a", StaticPeers{peerA.URL, peerB.URL}, "p2p")
		defer strategy.Close()

		msg, err := NewMessage(MessageProposeWorkflow, map[string]any{"id": "wf-1"})
		require.NoError(t, err)

		started := time.Now()
		status, err := strategy.Dispatch(context.Background(), msg)
		elapsed := time.Since(started)

		require.NoError(t, err)
		require.Equal(t, StatusOK, status)
		require.EqualValues(t, 2, atomic.LoadInt32(&hits))
		require.Less(t, elapsed, 380*time.Millisecond, "sequential peer posts would take the sum of the delays")

		delivered := receive(t, strategy.Inbound())
		require.Equal(t, MessageProposeWorkflow, delivered.Type)
		require.NotNil(t, delivered.Commitment)
		require.NotEmpty(t, delivered.Commitment.Reference)
	})

	t.Run("peer failure degrades status but not local delivery", func(t *testing.T) {
		var hits int32
		alive := slowPeer(t, 0, &hits)

		strategy := NewPointToPointStrategy("org-a", StaticPeers{alive.URL, "http://127.0.0.1:1/unreachable"}, "p2p")
		defer strategy.Close()

		msg, err := NewMessage(MessageAcceptTransition, map[string]any{"id": "wf-1"})
		require.NoError(t, err)

		status, err := strategy.Dispatch(context.Background(), msg)
		require.NoError(t, err)
		require.Equal(t, StatusNOK, status)
		require.EqualValues(t, 1, atomic.LoadInt32(&hits))
		require.Equal(t, MessageAcceptTransition, receive(t, strategy.Inbound()).Type)
	})
}
