package harness

import (
	"context"
	"time"
)

func (s *HarnessOpsTestSuite) TestAddRemoveScenario() {
	ctx := context.Background()

	servers := s.addServers(3)
	s.Equal(ServerID(1), servers[0].ServerID)
	s.Equal(ServerID(2), servers[1].ServerID)
	s.Equal(ServerID(3), servers[2].ServerID)

	err := s.manager.RemoveNode(ctx, servers[0].ServerID, servers[2].ServerID, nil)
	s.Require().NoError(err)

	running, err := s.manager.RunningServers(ctx)
	s.Require().NoError(err)
	s.Require().Len(running, 2)
	s.Equal(ServerID(1), running[0].ServerID)
	s.Equal(ServerID(2), running[1].ServerID)

	// a removed id never reappears, and resolving it is an application error
	_, err = s.manager.GetHostIP(ctx, servers[2].ServerID)
	var appErr *ApplicationError
	s.Require().ErrorAs(err, &appErr)
	s.Contains(appErr.Message, "unknown server id")
}

func (s *HarnessOpsTestSuite) TestAddConnectsThenRefreshes() {
	// first add has no session yet, so it connects
	s.addServers(1)
	s.Require().Len(s.connector.sessions, 1)
	s.Equal(0, s.currentSession().refreshes)

	// subsequent adds reuse the session and refresh its topology
	s.addServers(1)
	s.Require().Len(s.connector.sessions, 1)
	s.Equal(1, s.currentSession().refreshes)
}

func (s *HarnessOpsTestSuite) TestAddNoStart() {
	ctx := context.Background()

	info, err := s.manager.ServerAdd(ctx, AddOptions{NoStart: true})
	s.Require().NoError(err)

	running, err := s.manager.RunningServers(ctx)
	s.Require().NoError(err)
	s.Empty(running)

	// the record still exists even though the process never launched
	ip, err := s.manager.GetHostIP(ctx, info.ServerID)
	s.Require().NoError(err)
	s.Equal(info.IP, ip)
}

func (s *HarnessOpsTestSuite) TestAddPassesConfig() {
	ctx := context.Background()

	info, err := s.manager.ServerAdd(ctx, AddOptions{
		Config: map[string]any{"failure_detector_timeout_in_ms": float64(2000)},
	})
	s.Require().NoError(err)

	cfg, err := s.manager.ServerGetConfig(ctx, info.ServerID)
	s.Require().NoError(err)
	s.Equal(float64(2000), cfg["failure_detector_timeout_in_ms"])
}

func (s *HarnessOpsTestSuite) TestStopExcludesFromRunning() {
	ctx := context.Background()

	servers := s.addServers(2)
	s.Require().NoError(s.manager.ServerStop(ctx, servers[1].ServerID))

	running, err := s.manager.RunningServers(ctx)
	s.Require().NoError(err)
	s.Require().Len(running, 1)
	s.Equal(servers[0].ServerID, running[0].ServerID)
}

func (s *HarnessOpsTestSuite) TestStartWaitsForPeersThenRefreshes() {
	ctx := context.Background()

	servers := s.addServers(1)
	target := servers[0]
	s.Require().NoError(s.manager.ServerStop(ctx, target.ServerID))

	// the peer-count probe sees 1, 1 and then 3 alive endpoints
	s.mockNodes.PushAlive(string(target.IP), "127.0.0.9")
	s.mockNodes.PushAlive(string(target.IP), "127.0.0.9")
	s.mockNodes.PushAlive(string(target.IP), "127.0.0.9", "127.0.0.10", "127.0.0.11")

	session := s.currentSession()
	refreshesBefore := session.refreshes

	err := s.manager.ServerStart(ctx, target.ServerID, StartOptions{
		WaitOthers:   2,
		WaitInterval: 5 * time.Second,
	})
	s.Require().NoError(err)

	// exactly one topology refresh, applied after the wait succeeded
	s.Equal(refreshesBefore+1, session.refreshes)
}

func (s *HarnessOpsTestSuite) TestRestartWithoutWait() {
	ctx := context.Background()

	servers := s.addServers(1)
	session := s.currentSession()
	refreshesBefore := session.refreshes

	s.Require().NoError(s.manager.ServerRestart(ctx, servers[0].ServerID, StartOptions{}))
	s.Equal(refreshesBefore+1, session.refreshes)
}

func (s *HarnessOpsTestSuite) TestPauseKeepsServerInRunningSet() {
	ctx := context.Background()

	servers := s.addServers(2)
	s.Require().NoError(s.manager.ServerPause(ctx, servers[1].ServerID))

	// a paused process still occupies its slot in the cluster
	running, err := s.manager.RunningServers(ctx)
	s.Require().NoError(err)
	s.Len(running, 2)

	s.Require().NoError(s.manager.ServerUnpause(ctx, servers[1].ServerID))
}

func (s *HarnessOpsTestSuite) TestRemoveNodeRequiresLiveInitiator() {
	ctx := context.Background()

	servers := s.addServers(2)
	s.Require().NoError(s.manager.ServerStop(ctx, servers[0].ServerID))

	err := s.manager.RemoveNode(ctx, servers[0].ServerID, servers[1].ServerID, nil)
	var appErr *ApplicationError
	s.Require().ErrorAs(err, &appErr)
	s.Contains(err.Error(), "remove node 2 via initiator 1")
}

func (s *HarnessOpsTestSuite) TestDecommissionRefreshes() {
	ctx := context.Background()

	servers := s.addServers(3)
	session := s.currentSession()
	refreshesBefore := session.refreshes

	s.Require().NoError(s.manager.DecommissionNode(ctx, servers[2].ServerID))
	s.Equal(refreshesBefore+1, session.refreshes)

	running, err := s.manager.RunningServers(ctx)
	s.Require().NoError(err)
	s.Len(running, 2)
}

func (s *HarnessOpsTestSuite) TestUpdateConfigRoundtrip() {
	ctx := context.Background()

	servers := s.addServers(1)
	id := servers[0].ServerID

	s.Require().NoError(s.manager.ServerUpdateConfig(ctx, id, "ring_delay_ms", "5"))

	cfg, err := s.manager.ServerGetConfig(ctx, id)
	s.Require().NoError(err)
	s.Equal("5", cfg["ring_delay_ms"])
}

func (s *HarnessOpsTestSuite) TestChangeIPRequiresStoppedServer() {
	ctx := context.Background()

	servers := s.addServers(1)
	id := servers[0].ServerID
	oldIP := servers[0].IP

	err := s.manager.ServerChangeIP(ctx, id)
	var appErr *ApplicationError
	s.Require().ErrorAs(err, &appErr)

	s.Require().NoError(s.manager.ServerStop(ctx, id))
	s.Require().NoError(s.manager.ServerChangeIP(ctx, id))

	newIP, err := s.manager.GetHostIP(ctx, id)
	s.Require().NoError(err)
	s.NotEqual(oldIP, newIP)
}

func (s *HarnessOpsTestSuite) TestGetHostID() {
	ctx := context.Background()

	servers := s.addServers(1)
	hostID, err := s.manager.GetHostID(ctx, servers[0].ServerID)
	s.Require().NoError(err)
	s.NotEmpty(hostID)
}
