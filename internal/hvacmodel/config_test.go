package hvacmodel

import "testing"

func TestEnabledEntitiesPreservesOrderAndFilters(t *testing.T) {
	cfg := Config{
		Entities: []EntityConfig{
			{ID: "climate.a", Enabled: true},
			{ID: "climate.b", Enabled: false},
			{ID: "climate.c", Enabled: true},
		},
	}

	got := cfg.EnabledEntities()
	if len(got) != 2 {
		t.Fatalf("got %d entities, want 2", len(got))
	}
	if got[0].ID != "climate.a" || got[1].ID != "climate.c" {
		t.Fatalf("got %+v, want [climate.a, climate.c] in declaration order", got)
	}
}

func TestEnabledEntitiesEmptyWhenNoneEnabled(t *testing.T) {
	cfg := Config{Entities: []EntityConfig{{ID: "climate.a", Enabled: false}}}

	got := cfg.EnabledEntities()
	if len(got) != 0 {
		t.Fatalf("got %+v, want empty", got)
	}
}

func TestObservationCompleteRequiresBothReadings(t *testing.T) {
	indoor := 20.0
	outdoor := 5.0

	cases := []struct {
		name string
		obs  Observation
		want bool
	}{
		{"both present", Observation{IndoorTempC: &indoor, OutdoorTempC: &outdoor}, true},
		{"missing outdoor", Observation{IndoorTempC: &indoor}, false},
		{"missing indoor", Observation{OutdoorTempC: &outdoor}, false},
		{"missing both", Observation{}, false},
	}
	for _, c := range cases {
		if got := c.obs.Complete(); got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestOffPlanCarriesNoSetpointOrPreset(t *testing.T) {
	plan := OffPlan()
	if plan.Mode != ModeOff {
		t.Errorf("got mode %v, want off", plan.Mode)
	}
	if plan.SetpointC != 0 || plan.Preset != "" {
		t.Errorf("got %+v, want zero setpoint and empty preset", plan)
	}
}
