package nodeapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soft-stech/cluster-harness/testutils"
)

func TestProbes(t *testing.T) {
	nodes := testutils.NewMockNodeAPI()
	defer nodes.Close()

	nodes.SetAlive("127.0.0.2", "127.0.0.2", "127.0.0.3")
	nodes.SetDown("127.0.0.2", "127.0.0.4")
	nodes.SetHostIDMapping("127.0.0.2", "127.0.0.3", "c21eeb0f-0774-4e1a-95b0-94bc0f8c6e54")

	client := NewClient(&Options{Endpoint: nodes.Endpoint})

	alive, err := client.AliveEndpoints(context.Background(), "127.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.2", "127.0.0.3"}, alive)

	down, err := client.DownEndpoints(context.Background(), "127.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.4"}, down)

	mappings, err := client.HostIDMap(context.Background(), "127.0.0.2")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "127.0.0.3", mappings[0].Key)
	assert.Equal(t, "c21eeb0f-0774-4e1a-95b0-94bc0f8c6e54", mappings[0].Value)
}

func TestProbeUnknownHostIsEmpty(t *testing.T) {
	nodes := testutils.NewMockNodeAPI()
	defer nodes.Close()

	client := NewClient(&Options{Endpoint: nodes.Endpoint})

	alive, err := client.AliveEndpoints(context.Background(), "127.0.0.99")
	require.NoError(t, err)
	assert.Empty(t, alive)
}
