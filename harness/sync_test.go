package harness

import (
	"context"
	"time"
)

func (s *HarnessOpsTestSuite) TestBeforeTestConnectsWhenServersRunning() {
	ctx := context.Background()

	s.addServers(2)
	s.manager.DriverClose()
	s.Require().False(s.manager.DataPlane().IsConnected())

	status, err := s.manager.BeforeTest(ctx, "test_topology_smoke")
	s.Require().NoError(err)
	s.Equal("cluster-test_topology_smoke", status)
	s.True(s.manager.DataPlane().IsConnected())

	name, _ := s.mockManager.LastTest()
	s.Equal("test_topology_smoke", name)
}

func (s *HarnessOpsTestSuite) TestDirtySessionIsReplaced() {
	ctx := context.Background()

	s.addServers(2)
	oldSession := s.manager.DataPlane().Session()
	s.Require().NotNil(oldSession)

	s.Require().NoError(s.manager.MarkDirty(ctx))

	// the dirty flag forces the stale session to be torn down; a fresh
	// cluster gets a fresh session, never the old instance
	s.addServersAfterReset(ctx)

	newSession := s.manager.DataPlane().Session()
	s.Require().NotNil(newSession)
	s.NotSame(oldSession, newSession)
	s.True(oldSession.(*recordingSession).shutdown)
}

// addServersAfterReset runs the dirty-boundary flow: BeforeTest discards the
// stale session and recycles the cluster, then a new server brings a new
// session up.
func (s *HarnessOpsTestSuite) addServersAfterReset(ctx context.Context) {
	_, err := s.manager.BeforeTest(ctx, "test_after_reset")
	s.Require().NoError(err)

	_, err = s.manager.ServerAdd(ctx, AddOptions{})
	s.Require().NoError(err)
}

func (s *HarnessOpsTestSuite) TestAfterTestReportsOutcome() {
	ctx := context.Background()

	status, err := s.manager.AfterTest(ctx, "test_topology_smoke", true)
	s.Require().NoError(err)
	s.Equal("test finished", status)

	_, outcome := s.mockManager.LastTest()
	s.Equal("true", outcome)
}

func (s *HarnessOpsTestSuite) TestClusterFlags() {
	ctx := context.Background()

	up, err := s.manager.IsManagerUp(ctx)
	s.Require().NoError(err)
	s.True(up)

	clusterUp, err := s.manager.IsClusterUp(ctx)
	s.Require().NoError(err)
	s.False(clusterUp)

	s.addServers(1)
	clusterUp, err = s.manager.IsClusterUp(ctx)
	s.Require().NoError(err)
	s.True(clusterUp)

	dirty, err := s.manager.IsDirty(ctx)
	s.Require().NoError(err)
	s.False(dirty)

	s.Require().NoError(s.manager.MarkDirty(ctx))
	dirty, err = s.manager.IsDirty(ctx)
	s.Require().NoError(err)
	s.True(dirty)
}

func (s *HarnessOpsTestSuite) TestReplicas() {
	replicas, err := s.manager.Replicas(context.Background())
	s.Require().NoError(err)
	s.Equal(3, replicas)
}

func (s *HarnessOpsTestSuite) TestWaitUntilReady() {
	ctx := context.Background()

	s.addServers(1)
	s.Require().NoError(s.manager.WaitUntilReady(ctx, 5*time.Second))
}

func (s *HarnessOpsTestSuite) TestDriverConnectToSingleServer() {
	ctx := context.Background()

	servers := s.addServers(2)
	s.manager.DriverClose()

	s.Require().NoError(s.manager.DriverConnect(ctx, &servers[0]))
	s.True(s.manager.DataPlane().IsConnected())
}
