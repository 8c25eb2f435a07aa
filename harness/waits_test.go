package harness

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/soft-stech/cluster-harness/contrib/restclient"
)

func (s *HarnessOpsTestSuite) TestServerSeesOtherServerTimesOut() {
	ctx := context.Background()

	servers := s.addServers(1)
	ip := servers[0].IP

	// the probed server only ever reports an unrelated third address
	s.mockNodes.SetAlive(string(ip), "127.0.0.77")

	start := time.Now()
	err := s.manager.ServerSeesOtherServer(ctx, ip, "127.0.0.99", 200*time.Millisecond)
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	s.Require().ErrorAs(err, &timeoutErr)
	s.Contains(timeoutErr.Label, "127.0.0.99")
	s.GreaterOrEqual(elapsed, 200*time.Millisecond)
	s.Less(elapsed, 2*time.Second)
}

func (s *HarnessOpsTestSuite) TestServerSeesOtherServerSucceeds() {
	ctx := context.Background()

	servers := s.addServers(2)
	s.mockNodes.SetAlive(string(servers[0].IP), string(servers[0].IP), string(servers[1].IP))

	err := s.manager.ServerSeesOtherServer(ctx, servers[0].IP, servers[1].IP, time.Second)
	s.Require().NoError(err)
}

func (s *HarnessOpsTestSuite) TestServerNotSeesOtherServer() {
	ctx := context.Background()

	servers := s.addServers(2)

	// the departed peer disappears from the alive set on the second poll
	s.mockNodes.PushAlive(string(servers[0].IP), string(servers[0].IP), string(servers[1].IP))
	s.mockNodes.PushAlive(string(servers[0].IP), string(servers[0].IP))

	err := s.manager.ServerNotSeesOtherServer(ctx, servers[0].IP, servers[1].IP, time.Second)
	s.Require().NoError(err)
}

func (s *HarnessOpsTestSuite) TestWaitForHostKnown() {
	ctx := context.Background()

	servers := s.addServers(1)
	ip := servers[0].IP

	hostID, err := s.manager.GetHostID(ctx, servers[0].ServerID)
	s.Require().NoError(err)

	s.mockNodes.SetHostIDMapping(string(ip), string(ip), string(hostID))
	s.Require().NoError(s.manager.WaitForHostKnown(ctx, ip, hostID, time.Now().Add(time.Second)))

	err = s.manager.WaitForHostKnown(ctx, ip, "00000000-missing", time.Now().Add(100*time.Millisecond))
	var timeoutErr *TimeoutError
	s.Require().ErrorAs(err, &timeoutErr)
}

func (s *HarnessOpsTestSuite) TestWaitForHostDown() {
	ctx := context.Background()

	servers := s.addServers(2)

	s.mockNodes.SetDown(string(servers[0].IP), string(servers[1].IP))
	err := s.manager.WaitForHostDown(ctx, servers[0].IP, servers[1].IP, time.Now().Add(time.Second))
	s.Require().NoError(err)
}

func (s *HarnessOpsTestSuite) TestWaitsRequireNodeAPI() {
	ctx := context.Background()

	manager, err := NewManager(&Options{
		ControlPlane: restclient.NewClient(&restclient.Options{
			BaseURL: s.mockManager.URL(),
			Logger:  zap.NewNop(),
		}),
	})
	s.Require().NoError(err)

	waitErr := manager.ServerSeesOtherServer(ctx, "127.0.0.2", "127.0.0.3", time.Second)
	var invErr *InvariantViolation
	s.Require().ErrorAs(waitErr, &invErr)
}
