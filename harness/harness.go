package harness

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/soft-stech/cluster-harness/contrib/restclient"
	"github.com/soft-stech/cluster-harness/dataplane"
	"github.com/soft-stech/cluster-harness/nodeapi"
	"github.com/soft-stech/cluster-harness/pkg/metrics"
)

const (
	// DefaultTopologyTimeout bounds control-plane calls that trigger a
	// topology change (add/remove/decommission); the cluster may need to
	// stream data before acknowledging.
	DefaultTopologyTimeout = 1000 * time.Second

	// DefaultBeforeTestTimeout bounds the before-test call, which may have to
	// build a fresh cluster.
	DefaultBeforeTestTimeout = 600 * time.Second

	// DefaultWaitInterval bounds convergence waits after start/restart.
	DefaultWaitInterval = 45 * time.Second

	// DefaultHostWaitInterval bounds host-known/host-down waits.
	DefaultHostWaitInterval = 30 * time.Second
)

type Options struct {
	// ControlPlane is the session to the cluster manager.  Required.
	ControlPlane *restclient.Client

	// NodeAPI issues liveness probes against individual nodes.  Optional;
	// without it the convergence waits fail fast.
	NodeAPI *nodeapi.Client

	// DataPlane owns the driver session whose routing must track membership
	// changes.  Optional; without it lifecycle operations skip the
	// refresh-or-connect step.
	DataPlane *dataplane.Manager

	Logger *zap.Logger

	TopologyTimeout   time.Duration
	BeforeTestTimeout time.Duration

	// WaitPeriod is the probe spacing for convergence waits.
	WaitPeriod time.Duration
}

// Manager orchestrates the lifecycle of a cluster under test: it drives
// membership changes through the control plane, applies the matching
// convergence waits, and keeps the data-plane session's routing consistent
// with the changing membership.
//
// Connection-mutating operations must not be invoked concurrently on the
// same Manager; the control plane is the serialization point for concurrent
// membership mutations, not this type.
type Manager struct {
	controlPlane *restclient.Client
	nodeAPI      *nodeapi.Client
	dataPlane    *dataplane.Manager
	logger       *zap.Logger
	metrics      *metrics.HarnessMetrics

	topologyTimeout   time.Duration
	beforeTestTimeout time.Duration
	waitPeriod        time.Duration
}

func NewManager(opts *Options) (*Manager, error) {
	if opts.ControlPlane == nil {
		return nil, errors.New("control plane client must not be nil")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	topologyTimeout := opts.TopologyTimeout
	if topologyTimeout <= 0 {
		topologyTimeout = DefaultTopologyTimeout
	}

	beforeTestTimeout := opts.BeforeTestTimeout
	if beforeTestTimeout <= 0 {
		beforeTestTimeout = DefaultBeforeTestTimeout
	}

	return &Manager{
		controlPlane:      opts.ControlPlane,
		nodeAPI:           opts.NodeAPI,
		dataPlane:         opts.DataPlane,
		logger:            logger,
		metrics:           metrics.GetHarnessMetrics(),
		topologyTimeout:   topologyTimeout,
		beforeTestTimeout: beforeTestTimeout,
		waitPeriod:        opts.WaitPeriod,
	}, nil
}

// DataPlane exposes the data-plane manager, primarily so test code can reach
// the live session.
func (m *Manager) DataPlane() *dataplane.Manager {
	return m.dataPlane
}

func (m *Manager) recordOp(op string, err error) {
	m.metrics.Operations.WithLabelValues(op).Inc()
	if err != nil {
		m.metrics.OperationFailures.WithLabelValues(op).Inc()
	}
}

func (m *Manager) getFlag(ctx context.Context, op, path string) (bool, error) {
	res, err := m.controlPlane.GetText(ctx, path, 0, nil)
	if err != nil {
		return false, translateError(op, err)
	}

	return res == "True", nil
}

// IsManagerUp checks whether the control plane itself is reachable and ready.
func (m *Manager) IsManagerUp(ctx context.Context) (bool, error) {
	return m.getFlag(ctx, "check manager up", "/up")
}

// IsClusterUp checks whether the cluster under test is up.
func (m *Manager) IsClusterUp(ctx context.Context) (bool, error) {
	return m.getFlag(ctx, "check cluster up", "/cluster/up")
}

// IsDirty reads the cluster's dirty flag.  The flag is advisory and owned by
// the control plane.
func (m *Manager) IsDirty(ctx context.Context) (bool, error) {
	return m.getFlag(ctx, "check cluster dirty", "/cluster/is-dirty")
}

// MarkDirty marks the current cluster dirty.  Use it after modifying a
// server outside of this API so the next BeforeTest discards the connection.
func (m *Manager) MarkDirty(ctx context.Context) error {
	_, err := m.controlPlane.GetText(ctx, "/cluster/mark-dirty", 0, nil)
	if err != nil {
		return translateError("mark cluster dirty", err)
	}

	return nil
}

// Replicas returns the cluster's configured replication factor.
func (m *Manager) Replicas(ctx context.Context) (int, error) {
	res, err := m.controlPlane.GetText(ctx, "/cluster/replicas", 0, nil)
	if err != nil {
		return 0, translateError("get cluster replicas", err)
	}

	replicas, err := strconv.Atoi(res)
	if err != nil {
		return 0, &ApplicationError{Op: "get cluster replicas", Message: fmt.Sprintf("non-numeric replicas %q", res), Err: err}
	}

	return replicas, nil
}

// RunningServers returns the id and address of every running server.
func (m *Manager) RunningServers(ctx context.Context) ([]ServerInfo, error) {
	const op = "get running servers"

	var raw [][]any
	if err := m.controlPlane.GetJSON(ctx, "/cluster/running-servers", 0, &raw); err != nil {
		return nil, translateError(op, err)
	}

	servers := make([]ServerInfo, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 2 {
			return nil, &ApplicationError{Op: op, Message: fmt.Sprintf("malformed server entry %v", entry)}
		}
		id, idOk := entry[0].(float64)
		ip, ipOk := entry[1].(string)
		if !idOk || !ipOk {
			return nil, &ApplicationError{Op: op, Message: fmt.Sprintf("malformed server entry %v", entry)}
		}
		servers = append(servers, ServerInfo{ServerID: ServerID(int64(id)), IP: IPAddress(ip)})
	}

	return servers, nil
}

// GetHostIP returns the address of a server.
func (m *Manager) GetHostIP(ctx context.Context, id ServerID) (IPAddress, error) {
	res, err := m.controlPlane.GetText(ctx, fmt.Sprintf("/cluster/host-ip/%d", id), 0, nil)
	if err != nil {
		return "", translateError(fmt.Sprintf("get host IP address for server %d", id), err)
	}

	return IPAddress(res), nil
}

// GetHostID returns the internal host id of a server.
func (m *Manager) GetHostID(ctx context.Context, id ServerID) (HostID, error) {
	res, err := m.controlPlane.GetText(ctx, fmt.Sprintf("/cluster/host-id/%d", id), 0, nil)
	if err != nil {
		return "", translateError(fmt.Sprintf("get host id for server %d", id), err)
	}

	return HostID(res), nil
}

// BeforeTest prepares the cluster for a test.  When the previous test left
// the cluster dirty the stale data-plane session is discarded first; it is
// never reused across a cluster reset.  The control plane then assigns a
// cluster for name (possibly building a fresh one), and if no session exists
// while servers are running, a new one is connected.
func (m *Manager) BeforeTest(ctx context.Context, name string) (string, error) {
	m.logger.Debug("before test", zap.String("test", name))

	dirty, err := m.IsDirty(ctx)
	if err != nil {
		return "", err
	}
	if dirty && m.dataPlane != nil {
		m.logger.Debug("cluster is dirty, discarding stale data-plane session")
		m.dataPlane.Disconnect()
	}

	status, err := m.controlPlane.GetText(ctx, "/cluster/before-test/"+name, m.beforeTestTimeout, nil)
	if err != nil {
		return "", translateError(fmt.Sprintf("before-test check for %s", name), err)
	}
	m.logger.Info("using cluster", zap.String("cluster", status), zap.String("test", name))

	if m.dataPlane != nil && !m.dataPlane.IsConnected() {
		servers, err := m.RunningServers(ctx)
		if err != nil {
			return "", err
		}
		if len(servers) > 0 {
			if err := m.DriverConnect(ctx, nil); err != nil {
				return "", err
			}
		}
	}

	return status, nil
}

// AfterTest reports a test's outcome to the control plane.  It does not
// mutate the local connection state.
func (m *Manager) AfterTest(ctx context.Context, name string, success bool) (string, error) {
	m.logger.Debug("after test", zap.String("test", name), zap.Bool("success", success))

	status, err := m.controlPlane.GetText(ctx, "/cluster/after-test/"+strconv.FormatBool(success), 0, nil)
	if err != nil {
		return "", translateError(fmt.Sprintf("after-test report for %s", name), err)
	}

	return status, nil
}

// DriverConnect establishes a data-plane session.  With a nil server it
// targets all currently running servers, otherwise only the given one.
func (m *Manager) DriverConnect(ctx context.Context, server *ServerInfo) error {
	if m.dataPlane == nil {
		return nil
	}

	var targets []ServerInfo
	if server != nil {
		targets = []ServerInfo{*server}
	} else {
		servers, err := m.RunningServers(ctx)
		if err != nil {
			return err
		}
		targets = servers
	}

	addrs := make([]string, 0, len(targets))
	for _, info := range targets {
		addrs = append(addrs, string(info.IP))
	}

	return m.dataPlane.Connect(ctx, addrs)
}

// DriverClose releases the data-plane session.
func (m *Manager) DriverClose() {
	if m.dataPlane != nil {
		m.dataPlane.Disconnect()
	}
}

// WaitUntilReady blocks until both the control plane and the cluster report
// up, retrying transient failures with exponential backoff.
func (m *Manager) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout

	return backoff.Retry(func() error {
		up, err := m.IsManagerUp(ctx)
		if err != nil {
			return err
		}
		if !up {
			return errors.New("control plane is not up yet")
		}

		clusterUp, err := m.IsClusterUp(ctx)
		if err != nil {
			return err
		}
		if !clusterUp {
			return errors.New("cluster is not up yet")
		}

		return nil
	}, backoff.WithContext(b, ctx))
}

// refreshOrConnect is the seam that prevents stale routing: every successful
// membership mutation funnels through here before control returns to the
// caller.
func (m *Manager) refreshOrConnect(ctx context.Context) error {
	if m.dataPlane == nil {
		return nil
	}

	if m.dataPlane.IsConnected() {
		return m.dataPlane.Refresh(ctx)
	}

	servers, err := m.RunningServers(ctx)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		return nil
	}

	addrs := make([]string, 0, len(servers))
	for _, info := range servers {
		addrs = append(addrs, string(info.IP))
	}

	return m.dataPlane.Connect(ctx, addrs)
}
