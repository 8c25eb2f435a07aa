package harness

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// ServerAdd registers a new server with the control plane and, unless
// NoStart is set, launches it.  The data-plane session is refreshed (or
// connected, when none existed yet) before the call returns so routing never
// goes stale.
func (m *Manager) ServerAdd(ctx context.Context, opts AddOptions) (ServerInfo, error) {
	const op = "add server"

	body := map[string]any{"start": !opts.NoStart}
	if opts.ReplaceCfg != nil {
		body["replace_cfg"] = opts.ReplaceCfg
	}
	if len(opts.Cmdline) > 0 {
		body["cmdline"] = opts.Cmdline
	}
	if len(opts.Config) > 0 {
		body["config"] = opts.Config
	}

	var resp struct {
		ServerID *int64 `json:"server_id"`
		IPAddr   string `json:"ip_addr"`
	}
	err := m.controlPlane.PutJSON(ctx, "/cluster/addserver", body, m.topologyTimeout, &resp)
	m.recordOp("add", err)
	if err != nil {
		return ServerInfo{}, translateError(op, err)
	}

	if resp.ServerID == nil || resp.IPAddr == "" {
		return ServerInfo{}, &ApplicationError{Op: op, Message: fmt.Sprintf("invalid server data in response (id=%v ip=%q)", resp.ServerID, resp.IPAddr)}
	}

	info := ServerInfo{ServerID: ServerID(*resp.ServerID), IP: IPAddress(resp.IPAddr)}
	m.logger.Debug("added server", zap.Int64("server", int64(info.ServerID)), zap.String("ip", string(info.IP)))

	if err := m.refreshOrConnect(ctx); err != nil {
		return ServerInfo{}, err
	}

	return info, nil
}

func (m *Manager) serverAction(ctx context.Context, op string, id ServerID, action string, params url.Values) error {
	_, err := m.controlPlane.GetText(ctx, fmt.Sprintf("/cluster/server/%d/%s", id, action), 0, params)
	m.recordOp(action, err)
	if err != nil {
		return translateError(fmt.Sprintf("%s server %d", op, id), err)
	}

	return nil
}

// ServerStop stops a server immediately.  No convergence wait is applied;
// callers that need the rest of the cluster to notice should follow up with
// ServerNotSeesOtherServer or WaitForHostDown.
func (m *Manager) ServerStop(ctx context.Context, id ServerID) error {
	m.logger.Debug("stopping server", zap.Int64("server", int64(id)))
	return m.serverAction(ctx, "stop", id, "stop", nil)
}

// ServerStopGracefully stops a server, letting it drain first.
func (m *Manager) ServerStopGracefully(ctx context.Context, id ServerID) error {
	m.logger.Debug("stopping server gracefully", zap.Int64("server", int64(id)))
	return m.serverAction(ctx, "stop gracefully", id, "stop_gracefully", nil)
}

// ServerStart starts a stopped server.  When WaitOthers is set the call
// blocks until the server sees that many other live peers, then the
// data-plane session re-resolves topology before control returns.
func (m *Manager) ServerStart(ctx context.Context, id ServerID, opts StartOptions) error {
	m.logger.Debug("starting server", zap.Int64("server", int64(id)))

	var params url.Values
	if opts.ExpectedError != "" {
		params = url.Values{}
		params.Set("expected_error", opts.ExpectedError)
	}
	if err := m.serverAction(ctx, "start", id, "start", params); err != nil {
		return err
	}

	return m.afterServerUp(ctx, id, opts)
}

// ServerRestart restarts a server and applies the same post-conditions as
// ServerStart.
func (m *Manager) ServerRestart(ctx context.Context, id ServerID, opts StartOptions) error {
	m.logger.Debug("restarting server", zap.Int64("server", int64(id)))

	if err := m.serverAction(ctx, "restart", id, "restart", nil); err != nil {
		return err
	}

	return m.afterServerUp(ctx, id, opts)
}

func (m *Manager) afterServerUp(ctx context.Context, id ServerID, opts StartOptions) error {
	if err := m.ServerSeesOthers(ctx, id, opts.WaitOthers, opts.WaitInterval); err != nil {
		return err
	}

	if m.dataPlane == nil {
		return nil
	}
	return m.dataPlane.Refresh(ctx)
}

// ServerPause suspends a server's process without stopping it.  The rest of
// the cluster will eventually consider it dead.
func (m *Manager) ServerPause(ctx context.Context, id ServerID) error {
	m.logger.Debug("pausing server", zap.Int64("server", int64(id)))
	return m.serverAction(ctx, "pause", id, "pause", nil)
}

// ServerUnpause resumes a paused server.
func (m *Manager) ServerUnpause(ctx context.Context, id ServerID) error {
	m.logger.Debug("unpausing server", zap.Int64("server", int64(id)))
	return m.serverAction(ctx, "unpause", id, "unpause", nil)
}

// RemoveNode removes target from the cluster through initiator, which must
// be alive.  Addresses in ignoreDead are treated as permanently lost.  The
// data-plane session is refreshed after the control plane acknowledges.
func (m *Manager) RemoveNode(ctx context.Context, initiator ServerID, target ServerID, ignoreDead []IPAddress) error {
	m.logger.Debug("removing node",
		zap.Int64("initiator", int64(initiator)),
		zap.Int64("target", int64(target)))

	if ignoreDead == nil {
		ignoreDead = []IPAddress{}
	}
	body := map[string]any{"server_id": target, "ignore_dead": ignoreDead}

	err := m.controlPlane.PutJSON(ctx, fmt.Sprintf("/cluster/remove-node/%d", initiator), body, m.topologyTimeout, nil)
	m.recordOp("remove_node", err)
	if err != nil {
		return translateError(fmt.Sprintf("remove node %d via initiator %d", target, initiator), err)
	}

	return m.refreshOrConnect(ctx)
}

// DecommissionNode tells a node to stream its data away and leave the
// cluster.  The data-plane session is refreshed after acknowledgement.
func (m *Manager) DecommissionNode(ctx context.Context, id ServerID) error {
	m.logger.Debug("decommissioning node", zap.Int64("server", int64(id)))

	_, err := m.controlPlane.GetText(ctx, fmt.Sprintf("/cluster/decommission-node/%d", id), m.topologyTimeout, nil)
	m.recordOp("decommission_node", err)
	if err != nil {
		return translateError(fmt.Sprintf("decommission node %d", id), err)
	}

	return m.refreshOrConnect(ctx)
}

// ServerGetConfig returns a server's effective configuration map.
func (m *Manager) ServerGetConfig(ctx context.Context, id ServerID) (map[string]any, error) {
	var cfg map[string]any
	err := m.controlPlane.GetJSON(ctx, fmt.Sprintf("/cluster/server/%d/get_config", id), 0, &cfg)
	if err != nil {
		return nil, translateError(fmt.Sprintf("get config of server %d", id), err)
	}

	return cfg, nil
}

// ServerUpdateConfig sets one configuration key on a server.
func (m *Manager) ServerUpdateConfig(ctx context.Context, id ServerID, key string, value any) error {
	body := map[string]any{"key": key, "value": value}
	err := m.controlPlane.PutJSON(ctx, fmt.Sprintf("/cluster/server/%d/update_config", id), body, 0, nil)
	if err != nil {
		return translateError(fmt.Sprintf("update config of server %d", id), err)
	}

	return nil
}

// ServerChangeIP assigns a new address to a stopped server.
func (m *Manager) ServerChangeIP(ctx context.Context, id ServerID) error {
	err := m.controlPlane.PutJSON(ctx, fmt.Sprintf("/cluster/server/%d/change_ip", id), map[string]any{}, 0, nil)
	if err != nil {
		return translateError(fmt.Sprintf("change IP address of server %d", id), err)
	}

	return nil
}
