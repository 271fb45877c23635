package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/attic-systems/hvacd/internal/hvacmodel"
	"github.com/attic-systems/hvacd/internal/hub"
	"github.com/attic-systems/hvacd/internal/protocol"
)

// fakeHub is a minimal stand-in for the real hub's auth handshake and
// REST state endpoint, scoped to exercising the controller loop.
type fakeHub struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*websocket.Conn
	states map[string]hvacmodel.State
	calls  []protocol.CallServiceFrame
}

func newFakeHub(t *testing.T) *fakeHub {
	f := &fakeHub{
		states:   make(map[string]hvacmodel.State),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", f.handleWS)
	mux.HandleFunc("/api/states/", f.handleState)
	f.server = httptest.NewServer(mux)
	return f
}

func (f *fakeHub) close() { f.server.Close() }

func (f *fakeHub) wsURL() string { return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/websocket" }
func (f *fakeHub) restURL() string { return f.server.URL }

func (f *fakeHub) setState(s hvacmodel.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[s.EntityID] = s
}

func (f *fakeHub) pushEvent(data hvacmodel.StateChangedData) {
	raw, _ := json.Marshal(data)
	frame := protocol.Frame{
		Type:  protocol.TypeEvent,
		Event: mustMarshalJSON(protocol.Event{EventType: protocol.EventTypeStateChanged, Data: raw}),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.WriteJSON(frame)
	}
}

func mustMarshalJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func (f *fakeHub) serviceCalls() []protocol.CallServiceFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.CallServiceFrame, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	defer conn.Close()

	_ = conn.WriteJSON(protocol.Frame{Type: protocol.TypeAuthRequired})
	var auth protocol.AuthFrame
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	_ = conn.WriteJSON(protocol.Frame{Type: protocol.TypeAuthOK})

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
		if env.Type == protocol.TypeCallService {
			var cf protocol.CallServiceFrame
			if err := json.Unmarshal(data, &cf); err == nil {
				f.mu.Lock()
				f.calls = append(f.calls, cf)
				f.mu.Unlock()
			}
		}
	}
}

func (f *fakeHub) handleState(w http.ResponseWriter, r *http.Request) {
	entityID := strings.TrimPrefix(r.URL.Path, "/api/states/")
	f.mu.Lock()
	s, ok := f.states[entityID]
	f.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

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

func testConfig() hvacmodel.Config {
	return hvacmodel.Config{
		TempSensor:    "sensor.indoor_temp",
		OutdoorSensor: "sensor.outdoor_temp",
		SystemMode:    hvacmodel.SystemModeAuto,
		Entities: []hvacmodel.EntityConfig{
			{ID: "climate.living_room", Enabled: true},
		},
		Heating: hvacmodel.HeatingConfig{
			SetpointC:  21.0,
			PresetName: "comfort",
			Thresholds: hvacmodel.Thresholds{IndoorMin: 19.7, IndoorMax: 21.2, OutdoorMin: -10, OutdoorMax: 15},
		},
		Cooling: hvacmodel.CoolingConfig{
			SetpointC:  24.0,
			PresetName: "eco",
			Thresholds: hvacmodel.Thresholds{IndoorMin: 23.0, IndoorMax: 25.5, OutdoorMin: 10, OutdoorMax: 40},
		},
	}
}

func TestControllerDispatchesOnIndoorEvent(t *testing.T) {
	fh := newFakeHub(t)
	defer fh.close()
	fh.setState(hvacmodel.State{EntityID: "sensor.outdoor_temp", State: "5.0"})

	cfg := testConfig()
	hubClient := hub.New(hvacmodel.HubConfig{
		WSURL:             fh.wsURL(),
		RESTURL:           fh.restURL(),
		InitialRetryDelay: 10 * time.Millisecond,
	}, zerolog.Nop())

	ctl := New(cfg, hubClient, zerolog.Nop(), nil)
	ctl.refreshOutdoor(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctl.Run(ctx)

	if !waitUntil(2*time.Second, hubClient.IsConnected) {
		t.Fatal("hub client never connected")
	}

	fh.pushEvent(hvacmodel.StateChangedData{
		EntityID: "sensor.indoor_temp",
		NewState: &hvacmodel.State{EntityID: "sensor.indoor_temp", State: "18.0"},
	})

	ok := waitUntil(2*time.Second, func() bool {
		for _, c := range fh.serviceCalls() {
			if c.Service == "set_hvac_mode" && c.ServiceData["hvac_mode"] == "heat" {
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatal("controller never dispatched set_hvac_mode(heat)")
	}
}

// TestDispatchIssuesSameCallsEachTime checks spec §8 "Two consecutive
// command fan-outs for the same plan issue the same three service calls
// per enabled entity in the same order."
func TestDispatchIssuesSameCallsEachTime(t *testing.T) {
	fh := newFakeHub(t)
	defer fh.close()

	cfg := testConfig()
	hubClient := hub.New(hvacmodel.HubConfig{
		WSURL:             fh.wsURL(),
		RESTURL:           fh.restURL(),
		InitialRetryDelay: 10 * time.Millisecond,
	}, zerolog.Nop())

	ctl := New(cfg, hubClient, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hubClient.Run(ctx)
	if !waitUntil(2*time.Second, hubClient.IsConnected) {
		t.Fatal("hub client never connected")
	}

	plan := hvacmodel.CommandPlan{Mode: hvacmodel.ModeHeat, SetpointC: 21.0, Preset: "comfort"}
	ctl.dispatch(ctx, plan)
	ctl.dispatch(ctx, plan)

	wantPerRound := []string{"set_hvac_mode", "set_temperature", "set_preset_mode"}
	ok := waitUntil(2*time.Second, func() bool {
		return len(fh.serviceCalls()) == 2*len(wantPerRound)
	})
	if !ok {
		t.Fatalf("got %d service calls, want %d", len(fh.serviceCalls()), 2*len(wantPerRound))
	}

	calls := fh.serviceCalls()
	for round := 0; round < 2; round++ {
		for i, wantService := range wantPerRound {
			c := calls[round*len(wantPerRound)+i]
			if c.Service != wantService || c.ServiceData["entity_id"] != "climate.living_room" {
				t.Fatalf("round %d call %d: got %+v, want service=%s entity_id=climate.living_room", round, i, c, wantService)
			}
		}
	}
}

func TestControllerIgnoresUnrelatedEntity(t *testing.T) {
	fh := newFakeHub(t)
	defer fh.close()

	cfg := testConfig()
	hubClient := hub.New(hvacmodel.HubConfig{
		WSURL:             fh.wsURL(),
		RESTURL:           fh.restURL(),
		InitialRetryDelay: 10 * time.Millisecond,
	}, zerolog.Nop())

	ctl := New(cfg, hubClient, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctl.Run(ctx)

	if !waitUntil(2*time.Second, hubClient.IsConnected) {
		t.Fatal("hub client never connected")
	}

	fh.pushEvent(hvacmodel.StateChangedData{
		EntityID: "sensor.unrelated",
		NewState: &hvacmodel.State{EntityID: "sensor.unrelated", State: "99"},
	})

	time.Sleep(100 * time.Millisecond)
	if len(fh.serviceCalls()) != 0 {
		t.Fatalf("got %d service calls, want 0 for an unrelated entity", len(fh.serviceCalls()))
	}
}
