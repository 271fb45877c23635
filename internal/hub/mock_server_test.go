package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/attic-systems/hvacd/internal/hvacmodel"
	"github.com/attic-systems/hvacd/internal/protocol"
)

// mockHub simulates the hub's WebSocket auth handshake, event push and
// REST state reads for client tests.
type mockHub struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader
	token    string

	mu           sync.Mutex
	conns        []*websocket.Conn
	serviceCalls []protocol.CallServiceFrame
	states       map[string]hvacmodel.State
	rejectAuth   bool
}

func newMockHub(t *testing.T) *mockHub {
	m := &mockHub{
		t:      t,
		token:  "test-token",
		states: make(map[string]hvacmodel.State),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", m.handleWS)
	mux.HandleFunc("/api/states/", m.handleState)
	m.server = httptest.NewServer(mux)
	return m
}

func (m *mockHub) wsURL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http") + "/api/websocket"
}

func (m *mockHub) restURL() string {
	return m.server.URL
}

func (m *mockHub) close() {
	m.mu.Lock()
	for _, c := range m.conns {
		_ = c.Close()
	}
	m.mu.Unlock()
	m.server.Close()
}

func (m *mockHub) setState(s hvacmodel.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.EntityID] = s
}

func (m *mockHub) callsForService(domain, service string) []protocol.CallServiceFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.CallServiceFrame
	for _, f := range m.serviceCalls {
		if f.Domain == domain && f.Service == service {
			out = append(out, f)
		}
	}
	return out
}

// pushEvent sends a state_changed event to every connected client.
func (m *mockHub) pushEvent(data hvacmodel.StateChangedData) {
	raw, _ := json.Marshal(data)
	frame := protocol.Frame{
		Type: protocol.TypeEvent,
		Event: mustMarshal(protocol.Event{
			EventType: protocol.EventTypeStateChanged,
			Data:      raw,
		}),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		_ = c.WriteJSON(frame)
	}
}

func mustMarshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func (m *mockHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.t.Logf("upgrade failed: %v", err)
		return
	}
	m.mu.Lock()
	m.conns = append(m.conns, conn)
	m.mu.Unlock()
	defer func() {
		_ = conn.Close()
		m.mu.Lock()
		for i, c := range m.conns {
			if c == conn {
				m.conns = append(m.conns[:i], m.conns[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}()

	_ = conn.WriteJSON(protocol.Frame{Type: protocol.TypeAuthRequired})

	var authFrame protocol.AuthFrame
	if err := conn.ReadJSON(&authFrame); err != nil {
		return
	}

	if m.rejectAuth || authFrame.AccessToken != m.token {
		_ = conn.WriteJSON(protocol.Frame{Type: protocol.TypeAuthInvalid, Message: "invalid access token"})
		return
	}
	if err := conn.WriteJSON(protocol.Frame{Type: protocol.TypeAuthOK}); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeCallService:
			var f protocol.CallServiceFrame
			if err := json.Unmarshal(data, &f); err == nil {
				m.mu.Lock()
				m.serviceCalls = append(m.serviceCalls, f)
				m.mu.Unlock()
			}
		case protocol.TypeSubscribeEvents:
			// no-op: subscription is implicit for every connection in the mock.
		}
	}
}

func (m *mockHub) handleState(w http.ResponseWriter, r *http.Request) {
	entityID := strings.TrimPrefix(r.URL.Path, "/api/states/")
	m.mu.Lock()
	state, ok := m.states[entityID]
	m.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(state)
}

// waitUntil polls cond every 10ms until it returns true or timeout elapses.
func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
