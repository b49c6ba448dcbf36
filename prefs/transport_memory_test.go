package prefs

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func requireReturns(t *testing.T, timeout time.Duration, do func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		do()
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("Blocked.")
	}
}

func TestMemoryHubFullQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := DefaultMemoryHubSettings()
	settings.QueueSize = 1
	hub := NewMemoryHub(ctx, settings)
	defer hub.Close()

	host, err := hub.Host()
	assert.Equal(t, err, nil)
	host.Start()
	peer1, err := hub.Join()
	assert.Equal(t, err, nil)
	peer2, err := hub.Join()
	assert.Equal(t, err, nil)
	assert.Equal(t, hub.WaitIdle(testIdleTimeout), true)

	// neither peer is started, so the second broadcast blocks on a full queue
	broadcastErr := make(chan error, 1)
	go func() {
		for _i := 0; _i < 2; _i++ {
			if err := host.BroadcastExceptSelf(DeliveryReliable, []byte{1}); err != nil {
				broadcastErr <- err
				return
			}
		}
		broadcastErr <- nil
	}()
	waitFor(t, 2*time.Second, func() bool {
		// two queued and one blocked
		return hub.inFlight.Load() == 3
	})

	requireReturns(t, 2*time.Second, peer1.Start)
	requireReturns(t, 2*time.Second, peer2.Close)
	assert.Equal(t, peer2.IsConnected(), false)

	select {
	case err := <-broadcastErr:
		assert.Equal(t, err, nil)
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked.")
	}
	assert.Equal(t, hub.WaitIdle(testIdleTimeout), true)
	assert.Equal(t, peer1.IsConnected(), true)
}

func TestMemoryHubBroadcastOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewMemoryHubWithDefaults(ctx)
	defer hub.Close()

	host, err := hub.Host()
	assert.Equal(t, err, nil)
	peers := []*MemoryTransport{}
	for _i := 0; _i < 8; _i++ {
		peer, err := hub.Join()
		assert.Equal(t, err, nil)
		peers = append(peers, peer)
	}

	members := hub.otherMembers(host.LocalId(), nil)
	assert.Equal(t, len(members), len(peers))
	for i, member := range members {
		assert.Equal(t, member == peers[i], true)
	}
}
