package sync

import (
	"context"
	"time"

	"github.com/LautiLosio/account-balance-tracker/src/logger"
)

// Pinger answers whether the server is reachable right now.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor polls the server's health endpoint and flips the client between
// online and offline. An offline-to-online flip drains whatever was queued
// while disconnected.
type Monitor struct {
	client   *Client
	pinger   Pinger
	interval time.Duration
}

func NewMonitor(client *Client, pinger Pinger, interval time.Duration) *Monitor {
	return &Monitor{client: client, pinger: pinger, interval: interval}
}

// Run probes immediately, then on every tick, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	err := m.pinger.Ping(ctx)
	online := err == nil
	if online != m.client.Online() {
		logger.L.Info("Connectivity changed", "online", online)
	}
	m.client.SetOnline(ctx, online)
}
