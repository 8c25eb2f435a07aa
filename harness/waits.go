package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/soft-stech/cluster-harness/utils/waitutils"
)

// Membership changes propagate through the cluster asynchronously, so every
// operation that depends on propagation exposes its own bounded wait instead
// of assuming synchronous consistency.  All waits in this file resolve to a
// single contract: when the deadline elapses the caller gets a *TimeoutError.

func (m *Manager) waitForFact(ctx context.Context, label string, deadline time.Time, probe func(ctx context.Context) (*bool, error)) error {
	if m.nodeAPI == nil {
		return &InvariantViolation{Op: label, Reason: "no node API client configured"}
	}

	_, err := waitutils.WaitFor(ctx, label, probe, deadline, m.waitPeriod)
	if err != nil {
		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			m.metrics.WaitTimeouts.WithLabelValues(label).Inc()
		}
		return err
	}

	return nil
}

// ServerSeesOthers waits until the server sees more than count other live
// peers.  A count below one returns immediately.
func (m *Manager) ServerSeesOthers(ctx context.Context, id ServerID, count int, interval time.Duration) error {
	if count < 1 {
		return nil
	}
	if interval <= 0 {
		interval = DefaultWaitInterval
	}

	serverIP, err := m.GetHostIP(ctx, id)
	if err != nil {
		return err
	}

	label := fmt.Sprintf("server %d to see %d other servers", id, count)
	m.logger.Debug("waiting for peers", zap.Int64("server", int64(id)), zap.Int("count", count))

	return m.waitForFact(ctx, label, time.Now().Add(interval), func(ctx context.Context) (*bool, error) {
		alive, err := m.nodeAPI.AliveEndpoints(ctx, string(serverIP))
		if err != nil {
			return nil, translateError(label, err)
		}
		if len(alive) > count {
			t := true
			return &t, nil
		}
		return nil, nil
	})
}

// ServerSeesOtherServer waits until the server at serverIP considers otherIP
// alive.
func (m *Manager) ServerSeesOtherServer(ctx context.Context, serverIP IPAddress, otherIP IPAddress, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}

	label := fmt.Sprintf("%s to see %s as alive", serverIP, otherIP)

	return m.waitForFact(ctx, label, time.Now().Add(interval), func(ctx context.Context) (*bool, error) {
		alive, err := m.nodeAPI.AliveEndpoints(ctx, string(serverIP))
		if err != nil {
			return nil, translateError(label, err)
		}
		for _, endpoint := range alive {
			if endpoint == string(otherIP) {
				t := true
				return &t, nil
			}
		}
		return nil, nil
	})
}

// ServerNotSeesOtherServer waits until the server at serverIP no longer
// considers otherIP alive.
func (m *Manager) ServerNotSeesOtherServer(ctx context.Context, serverIP IPAddress, otherIP IPAddress, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}

	label := fmt.Sprintf("%s to see %s as dead", serverIP, otherIP)

	return m.waitForFact(ctx, label, time.Now().Add(interval), func(ctx context.Context) (*bool, error) {
		alive, err := m.nodeAPI.AliveEndpoints(ctx, string(serverIP))
		if err != nil {
			return nil, translateError(label, err)
		}
		for _, endpoint := range alive {
			if endpoint == string(otherIP) {
				return nil, nil
			}
		}
		t := true
		return &t, nil
	})
}

// WaitForHostKnown waits until the node at dstIP has expectHostID in its
// host-id membership map.  A zero deadline defaults to DefaultHostWaitInterval
// from now.
func (m *Manager) WaitForHostKnown(ctx context.Context, dstIP IPAddress, expectHostID HostID, deadline time.Time) error {
	if deadline.IsZero() {
		deadline = time.Now().Add(DefaultHostWaitInterval)
	}

	label := fmt.Sprintf("%s to know host %s", dstIP, expectHostID)

	return m.waitForFact(ctx, label, deadline, func(ctx context.Context) (*bool, error) {
		mappings, err := m.nodeAPI.HostIDMap(ctx, string(dstIP))
		if err != nil {
			return nil, translateError(label, err)
		}
		for _, entry := range mappings {
			if entry.Value == string(expectHostID) {
				t := true
				return &t, nil
			}
		}
		return nil, nil
	})
}

// WaitForHostDown waits until the node at dstIP reports ip in its down
// endpoints.  A zero deadline defaults to DefaultHostWaitInterval from now.
func (m *Manager) WaitForHostDown(ctx context.Context, dstIP IPAddress, ip IPAddress, deadline time.Time) error {
	if deadline.IsZero() {
		deadline = time.Now().Add(DefaultHostWaitInterval)
	}

	label := fmt.Sprintf("%s to consider %s down", dstIP, ip)

	return m.waitForFact(ctx, label, deadline, func(ctx context.Context) (*bool, error) {
		down, err := m.nodeAPI.DownEndpoints(ctx, string(dstIP))
		if err != nil {
			return nil, translateError(label, err)
		}
		for _, endpoint := range down {
			if endpoint == string(ip) {
				t := true
				return &t, nil
			}
		}
		return nil, nil
	})
}
