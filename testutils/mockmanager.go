package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type serverState string

const (
	serverStateRunning serverState = "running"
	serverStateStopped serverState = "stopped"
	serverStatePaused  serverState = "paused"
)

// MockServer is one node record held by the mock control plane.
type MockServer struct {
	ID     int64
	IP     string
	HostID string
	State  serverState
	Config map[string]any
}

// MockManager is an in-process control plane implementing the manager HTTP
// surface over an in-memory cluster model.  It exists purely for package
// tests; it performs no real process management.
type MockManager struct {
	srv *httptest.Server

	lock       sync.Mutex
	nextID     int64
	nextIPByte int
	servers    map[int64]*MockServer
	dirty      bool
	replicas   int

	lastTestName string
	lastOutcome  string
}

func NewMockManager() *MockManager {
	m := &MockManager{
		nextID:     1,
		nextIPByte: 2,
		servers:    make(map[int64]*MockServer),
		replicas:   3,
	}

	r := mux.NewRouter()
	r.HandleFunc("/up", m.handleUp).Methods(http.MethodGet)
	r.HandleFunc("/cluster/up", m.handleClusterUp).Methods(http.MethodGet)
	r.HandleFunc("/cluster/is-dirty", m.handleIsDirty).Methods(http.MethodGet)
	r.HandleFunc("/cluster/replicas", m.handleReplicas).Methods(http.MethodGet)
	r.HandleFunc("/cluster/running-servers", m.handleRunningServers).Methods(http.MethodGet)
	r.HandleFunc("/cluster/mark-dirty", m.handleMarkDirty).Methods(http.MethodGet)
	r.HandleFunc("/cluster/before-test/{name}", m.handleBeforeTest).Methods(http.MethodGet)
	r.HandleFunc("/cluster/after-test/{success}", m.handleAfterTest).Methods(http.MethodGet)
	r.HandleFunc("/cluster/addserver", m.handleAddServer).Methods(http.MethodPut)
	r.HandleFunc("/cluster/remove-node/{initiator}", m.handleRemoveNode).Methods(http.MethodPut)
	r.HandleFunc("/cluster/decommission-node/{id}", m.handleDecommissionNode).Methods(http.MethodGet)
	r.HandleFunc("/cluster/server/{id}/{action}", m.handleServerAction).Methods(http.MethodGet)
	r.HandleFunc("/cluster/server/{id}/update_config", m.handleUpdateConfig).Methods(http.MethodPut)
	r.HandleFunc("/cluster/server/{id}/change_ip", m.handleChangeIP).Methods(http.MethodPut)
	r.HandleFunc("/cluster/host-ip/{id}", m.handleHostIP).Methods(http.MethodGet)
	r.HandleFunc("/cluster/host-id/{id}", m.handleHostID).Methods(http.MethodGet)

	m.srv = httptest.NewServer(r)
	return m
}

// URL returns the base URL of the mock control plane.
func (m *MockManager) URL() string {
	return m.srv.URL
}

func (m *MockManager) Close() {
	m.srv.Close()
}

// Server returns a copy of the record for id, or nil when unknown.
func (m *MockManager) Server(id int64) *MockServer {
	m.lock.Lock()
	defer m.lock.Unlock()

	srv := m.servers[id]
	if srv == nil {
		return nil
	}
	cp := *srv
	return &cp
}

// IsDirty reports the current dirty flag.
func (m *MockManager) IsDirty() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.dirty
}

// LastTest returns the most recent before-test name and after-test outcome.
func (m *MockManager) LastTest() (string, string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.lastTestName, m.lastOutcome
}

func (m *MockManager) handleUp(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("True"))
}

func (m *MockManager) handleClusterUp(w http.ResponseWriter, r *http.Request) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, srv := range m.servers {
		if srv.State == serverStateRunning {
			_, _ = w.Write([]byte("True"))
			return
		}
	}
	_, _ = w.Write([]byte("False"))
}

func (m *MockManager) handleIsDirty(w http.ResponseWriter, r *http.Request) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.dirty {
		_, _ = w.Write([]byte("True"))
	} else {
		_, _ = w.Write([]byte("False"))
	}
}

func (m *MockManager) handleReplicas(w http.ResponseWriter, r *http.Request) {
	m.lock.Lock()
	defer m.lock.Unlock()
	_, _ = w.Write([]byte(strconv.Itoa(m.replicas)))
}

func (m *MockManager) handleRunningServers(w http.ResponseWriter, r *http.Request) {
	m.lock.Lock()
	defer m.lock.Unlock()

	ids := make([]int64, 0, len(m.servers))
	for id, srv := range m.servers {
		if srv.State != serverStateStopped {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	running := make([][]any, 0, len(ids))
	for _, id := range ids {
		running = append(running, []any{id, m.servers[id].IP})
	}

	writeJSON(w, running)
}

func (m *MockManager) handleMarkDirty(w http.ResponseWriter, r *http.Request) {
	m.lock.Lock()
	m.dirty = true
	m.lock.Unlock()
	_, _ = w.Write([]byte("OK"))
}

func (m *MockManager) handleBeforeTest(w http.ResponseWriter, r *http.Request) {
	m.lock.Lock()
	m.lastTestName = mux.Vars(r)["name"]
	// a dirty cluster is recycled before the next test starts
	if m.dirty {
		m.servers = make(map[int64]*MockServer)
		m.dirty = false
	}
	m.lock.Unlock()

	_, _ = w.Write([]byte("cluster-" + mux.Vars(r)["name"]))
}

func (m *MockManager) handleAfterTest(w http.ResponseWriter, r *http.Request) {
	m.lock.Lock()
	m.lastOutcome = mux.Vars(r)["success"]
	m.lock.Unlock()

	_, _ = w.Write([]byte("test finished"))
}

func (m *MockManager) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Start      bool             `json:"start"`
		ReplaceCfg *json.RawMessage `json:"replace_cfg"`
		Cmdline    []string         `json:"cmdline"`
		Config     map[string]any   `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid addserver body: %v", err), http.StatusBadRequest)
		return
	}

	m.lock.Lock()
	srv := &MockServer{
		ID:     m.nextID,
		IP:     fmt.Sprintf("127.0.0.%d", m.nextIPByte),
		HostID: uuid.NewString(),
		State:  serverStateRunning,
		Config: body.Config,
	}
	if !body.Start {
		srv.State = serverStateStopped
	}
	m.nextID++
	m.nextIPByte++
	m.servers[srv.ID] = srv
	m.lock.Unlock()

	writeJSON(w, map[string]any{"server_id": srv.ID, "ip_addr": srv.IP})
}

func (m *MockManager) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	initiatorID, err := strconv.ParseInt(mux.Vars(r)["initiator"], 10, 64)
	if err != nil {
		http.Error(w, "invalid initiator id", http.StatusBadRequest)
		return
	}

	var body struct {
		ServerID   int64    `json:"server_id"`
		IgnoreDead []string `json:"ignore_dead"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid remove-node body: %v", err), http.StatusBadRequest)
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	initiator := m.servers[initiatorID]
	if initiator == nil || initiator.State != serverStateRunning {
		http.Error(w, fmt.Sprintf("initiator %d is not a running server", initiatorID), http.StatusBadRequest)
		return
	}
	if m.servers[body.ServerID] == nil {
		http.Error(w, fmt.Sprintf("unknown server id %d", body.ServerID), http.StatusNotFound)
		return
	}

	delete(m.servers, body.ServerID)
	m.dirty = true
	_, _ = w.Write([]byte("OK"))
}

func (m *MockManager) handleDecommissionNode(w http.ResponseWriter, r *http.Request) {
	id, _, ok := m.lookupServer(w, r)
	if !ok {
		return
	}

	m.lock.Lock()
	delete(m.servers, id)
	m.dirty = true
	m.lock.Unlock()

	_, _ = w.Write([]byte("OK"))
}

func (m *MockManager) handleServerAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	if action == "get_config" {
		m.handleGetConfig(w, r)
		return
	}

	id, _, ok := m.lookupServer(w, r)
	if !ok {
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	srv := m.servers[id]
	switch action {
	case "stop", "stop_gracefully":
		srv.State = serverStateStopped
	case "start", "restart":
		srv.State = serverStateRunning
	case "pause":
		srv.State = serverStatePaused
	case "unpause":
		srv.State = serverStateRunning
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
		return
	}

	_, _ = w.Write([]byte("OK"))
}

func (m *MockManager) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	_, srv, ok := m.lookupServer(w, r)
	if !ok {
		return
	}

	cfg := srv.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	writeJSON(w, cfg)
}

func (m *MockManager) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	id, _, ok := m.lookupServer(w, r)
	if !ok {
		return
	}

	var body struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid update_config body: %v", err), http.StatusBadRequest)
		return
	}

	m.lock.Lock()
	srv := m.servers[id]
	if srv.Config == nil {
		srv.Config = make(map[string]any)
	}
	srv.Config[body.Key] = body.Value
	m.lock.Unlock()

	_, _ = w.Write([]byte("OK"))
}

func (m *MockManager) handleChangeIP(w http.ResponseWriter, r *http.Request) {
	id, srv, ok := m.lookupServer(w, r)
	if !ok {
		return
	}

	if srv.State != serverStateStopped {
		http.Error(w, fmt.Sprintf("server %d must be stopped to change its address", id), http.StatusBadRequest)
		return
	}

	m.lock.Lock()
	m.servers[id].IP = fmt.Sprintf("127.0.0.%d", m.nextIPByte)
	m.nextIPByte++
	m.lock.Unlock()

	_, _ = w.Write([]byte("OK"))
}

func (m *MockManager) handleHostIP(w http.ResponseWriter, r *http.Request) {
	_, srv, ok := m.lookupServer(w, r)
	if !ok {
		return
	}
	_, _ = w.Write([]byte(srv.IP))
}

func (m *MockManager) handleHostID(w http.ResponseWriter, r *http.Request) {
	_, srv, ok := m.lookupServer(w, r)
	if !ok {
		return
	}
	_, _ = w.Write([]byte(srv.HostID))
}

func (m *MockManager) lookupServer(w http.ResponseWriter, r *http.Request) (int64, *MockServer, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid server id", http.StatusBadRequest)
		return 0, nil, false
	}

	m.lock.Lock()
	srv := m.servers[id]
	m.lock.Unlock()

	if srv == nil {
		http.Error(w, fmt.Sprintf("unknown server id %d", id), http.StatusNotFound)
		return 0, nil, false
	}

	cp := *srv
	return id, &cp, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
