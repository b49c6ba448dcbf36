package main

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/bringyour/prefsync/prefs"
)

func TestSimulation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := runSimulation(
		ctx,
		&simulationSettings{
			PeerCount:     3,
			ChangeCount:   5,
			SettleTimeout: 5 * time.Second,
		},
		prefs.LogFn(prefs.LogLevelDebug, "simulate"),
	)
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Converged, true)
	assert.Equal(t, len(result.Transitions), 3)
	// every change is observed exactly once
	for _, transitions := range result.Transitions {
		assert.Equal(t, transitions, 5)
	}
}
