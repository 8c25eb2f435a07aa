package nodeapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soft-stech/cluster-harness/contrib/restclient"
)

// DefaultPort is the admin REST port exposed by each cluster node.
const DefaultPort = 10000

// HostIDMapping is one entry of a node's endpoint-to-host-id map.
type HostIDMapping struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Options struct {
	Port       int
	Scheme     string
	HTTPClient *http.Client
	Logger     *zap.Logger

	// Endpoint overrides how a probed host is turned into a base URL.
	// Tests use this to point every host at a mock server.
	Endpoint func(host string) string
}

// Client issues admin probes against individual cluster nodes.  Probes are
// read-only; they observe gossip state, they never drive it.
type Client struct {
	port       int
	scheme     string
	httpClient *http.Client
	logger     *zap.Logger
	endpoint   func(host string) string

	lock    sync.Mutex
	clients map[string]*restclient.Client
}

func NewClient(opts *Options) *Client {
	port := opts.Port
	if port <= 0 {
		port = DefaultPort
	}

	scheme := opts.Scheme
	if scheme == "" {
		scheme = "http"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		port:       port,
		scheme:     scheme,
		httpClient: httpClient,
		logger:     logger,
		endpoint:   opts.Endpoint,
		clients:    make(map[string]*restclient.Client),
	}
	if c.endpoint == nil {
		c.endpoint = c.defaultEndpoint
	}

	return c
}

func (c *Client) defaultEndpoint(host string) string {
	return fmt.Sprintf("%s://%s:%d", c.scheme, host, c.port)
}

func (c *Client) hostClient(host string) *restclient.Client {
	c.lock.Lock()
	defer c.lock.Unlock()

	client := c.clients[host]
	if client == nil {
		client = restclient.NewClient(&restclient.Options{
			BaseURL:        c.endpoint(host),
			HTTPClient:     c.httpClient,
			DefaultTimeout: 30 * time.Second,
			Logger:         c.logger.With(zap.String("host", host)),
		})
		c.clients[host] = client
	}

	return client
}

// AliveEndpoints returns the set of endpoints host currently considers alive.
func (c *Client) AliveEndpoints(ctx context.Context, host string) ([]string, error) {
	var endpoints []string
	if err := c.hostClient(host).GetJSON(ctx, "/gossiper/endpoint/live/", 0, &endpoints); err != nil {
		return nil, fmt.Errorf("get alive endpoints from %s: %w", host, err)
	}

	return endpoints, nil
}

// DownEndpoints returns the set of endpoints host currently considers down.
func (c *Client) DownEndpoints(ctx context.Context, host string) ([]string, error) {
	var endpoints []string
	if err := c.hostClient(host).GetJSON(ctx, "/gossiper/endpoint/down/", 0, &endpoints); err != nil {
		return nil, fmt.Errorf("get down endpoints from %s: %w", host, err)
	}

	return endpoints, nil
}

// HostIDMap returns host's endpoint-to-host-id membership map.
func (c *Client) HostIDMap(ctx context.Context, host string) ([]HostIDMapping, error) {
	var mappings []HostIDMapping
	if err := c.hostClient(host).GetJSON(ctx, "/storage_service/host_id", 0, &mappings); err != nil {
		return nil, fmt.Errorf("get host id map from %s: %w", host, err)
	}

	return mappings, nil
}
