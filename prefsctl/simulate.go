package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bringyour/prefsync/prefs"
)

var errSimulationUnsettled = errors.New("Simulation did not settle.")

type simulationSettings struct {
	PeerCount   int
	ChangeCount int
	// per change
	SettleTimeout time.Duration
}

type simulationPeer struct {
	smallId     prefs.SmallId
	settings    *prefs.SessionSettings
	mortal      atomic.Bool
	transitions atomic.Int64
}

type simulationResult struct {
	// mortality transitions observed by each peer, by small id
	Transitions map[prefs.SmallId]int
	// every peer ended with the host's mortality
	Converged bool
}

// a host and peers over an in-memory hub. The host toggles mortality
// and each peer counts the transitions it observes.
func runSimulation(ctx context.Context, settings *simulationSettings, log prefs.LogFunction) (*simulationResult, error) {
	hub := prefs.NewMemoryHubWithDefaults(ctx)
	defer hub.Close()

	hostTransport, err := hub.Host()
	if err != nil {
		return nil, err
	}
	hostSettings := prefs.NewSessionSettings()
	hostCoordinator := hostSettings.NewCoordinator(ctx, prefs.RoleAuthoritative, hostTransport)
	defer hostCoordinator.Close()

	peers := []*simulationPeer{}
	for _i := 0; _i < settings.PeerCount; _i++ {
		transport, err := hub.Join()
		if err != nil {
			return nil, err
		}
		peer := &simulationPeer{
			smallId:  transport.LocalSmallId(),
			settings: prefs.NewSessionSettings(),
		}
		peer.mortal.Store(peer.settings.IsMortal())
		peerLog := prefs.SubLogFn(prefs.LogLevelInfo, log, fmt.Sprintf("peer %d", peer.smallId))
		coordinator := peer.settings.NewCoordinator(ctx, prefs.RolePeer, transport)
		defer coordinator.Close()
		coordinator.AddSettingsChangedCallback(func() {
			mortal := peer.settings.IsMortal()
			if peer.mortal.CompareAndSwap(!mortal, mortal) {
				peer.transitions.Add(1)
				peerLog("mortality %t", mortal)
			}
		})
		peers = append(peers, peer)
	}
	if !hub.WaitIdle(settings.SettleTimeout) {
		return nil, errSimulationUnsettled
	}

	mortal := hostSettings.IsMortal()
	for i := 0; i < settings.ChangeCount; i++ {
		mortal = !mortal
		err := hostCoordinator.UpdateServerSettings(func() {
			hostSettings.Server.ServerMortality.Set(mortal)
		})
		if err != nil {
			return nil, err
		}
		log("change %d mortality %t", i+1, mortal)
		if !hub.WaitIdle(settings.SettleTimeout) {
			return nil, errSimulationUnsettled
		}
	}

	result := &simulationResult{
		Transitions: map[prefs.SmallId]int{},
		Converged:   true,
	}
	for _, peer := range peers {
		result.Transitions[peer.smallId] = int(peer.transitions.Load())
		if peer.settings.IsMortal() != hostSettings.IsMortal() {
			result.Converged = false
		}
	}
	return result, nil
}
