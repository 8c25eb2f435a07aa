package testutils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"
)

// MockNodeAPI serves the per-node admin probe endpoints for any number of
// fake hosts from a single server.  Point a nodeapi client at it through its
// Endpoint option.
type MockNodeAPI struct {
	srv *httptest.Server

	lock    sync.Mutex
	alive   map[string][][]string
	down    map[string][]string
	hostIDs map[string][]hostIDEntry
}

type hostIDEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func NewMockNodeAPI() *MockNodeAPI {
	m := &MockNodeAPI{
		alive:   make(map[string][][]string),
		down:    make(map[string][]string),
		hostIDs: make(map[string][]hostIDEntry),
	}

	r := mux.NewRouter()
	r.HandleFunc("/hosts/{host}/gossiper/endpoint/live/", m.handleAlive).Methods(http.MethodGet)
	r.HandleFunc("/hosts/{host}/gossiper/endpoint/down/", m.handleDown).Methods(http.MethodGet)
	r.HandleFunc("/hosts/{host}/storage_service/host_id", m.handleHostIDMap).Methods(http.MethodGet)

	m.srv = httptest.NewServer(r)
	return m
}

func (m *MockNodeAPI) Close() {
	m.srv.Close()
}

// Endpoint maps any probed host onto this mock server; pass it as the
// nodeapi client's Endpoint option.
func (m *MockNodeAPI) Endpoint(host string) string {
	return m.srv.URL + "/hosts/" + host
}

// PushAlive queues one alive-endpoint response for host.  Queued responses
// are consumed in order; the last one becomes sticky.
func (m *MockNodeAPI) PushAlive(host string, endpoints ...string) {
	m.lock.Lock()
	m.alive[host] = append(m.alive[host], endpoints)
	m.lock.Unlock()
}

// SetAlive replaces the alive-endpoint response for host.
func (m *MockNodeAPI) SetAlive(host string, endpoints ...string) {
	m.lock.Lock()
	m.alive[host] = [][]string{endpoints}
	m.lock.Unlock()
}

// SetDown replaces the down-endpoint response for host.
func (m *MockNodeAPI) SetDown(host string, endpoints ...string) {
	m.lock.Lock()
	m.down[host] = endpoints
	m.lock.Unlock()
}

// SetHostIDMapping adds or replaces one endpoint-to-host-id entry for host.
func (m *MockNodeAPI) SetHostIDMapping(host string, endpoint string, hostID string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for i, entry := range m.hostIDs[host] {
		if entry.Key == endpoint {
			m.hostIDs[host][i].Value = hostID
			return
		}
	}
	m.hostIDs[host] = append(m.hostIDs[host], hostIDEntry{Key: endpoint, Value: hostID})
}

func (m *MockNodeAPI) handleAlive(w http.ResponseWriter, r *http.Request) {
	host := mux.Vars(r)["host"]

	m.lock.Lock()
	queue := m.alive[host]
	var endpoints []string
	if len(queue) > 0 {
		endpoints = queue[0]
		if len(queue) > 1 {
			m.alive[host] = queue[1:]
		}
	}
	m.lock.Unlock()

	if endpoints == nil {
		endpoints = []string{}
	}
	writeNodeJSON(w, endpoints)
}

func (m *MockNodeAPI) handleDown(w http.ResponseWriter, r *http.Request) {
	host := mux.Vars(r)["host"]

	m.lock.Lock()
	endpoints := append([]string(nil), m.down[host]...)
	m.lock.Unlock()

	if endpoints == nil {
		endpoints = []string{}
	}
	writeNodeJSON(w, endpoints)
}

func (m *MockNodeAPI) handleHostIDMap(w http.ResponseWriter, r *http.Request) {
	host := mux.Vars(r)["host"]

	m.lock.Lock()
	entries := append([]hostIDEntry(nil), m.hostIDs[host]...)
	m.lock.Unlock()

	if entries == nil {
		entries = []hostIDEntry{}
	}
	writeNodeJSON(w, entries)
}

func writeNodeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
