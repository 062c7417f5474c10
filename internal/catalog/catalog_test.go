package catalog

import "testing"

func TestLookup(t *testing.T) {
	p, ok := Lookup("coolant_temp")
	if !ok {
		t.Fatal("expected coolant_temp to be a known parameter")
	}
	if p.Unit != "°C" {
		t.Errorf("expected unit °C, got %q", p.Unit)
	}
	if p.WarnMax == nil || *p.WarnMax != 110 {
		t.Errorf("expected warn max 110, got %v", p.WarnMax)
	}

	if _, ok := Lookup("flux_capacitor"); ok {
		t.Error("expected unknown key to miss")
	}
}

func TestChartableExcludesArchiveOnly(t *testing.T) {
	for _, p := range Chartable() {
		if p.ArchiveOnly {
			t.Errorf("archive-only parameter %q must not be chartable", p.Key)
		}
		if !p.Chartable {
			t.Errorf("parameter %q returned by Chartable but not marked chartable", p.Key)
		}
	}
}

func TestIsHousekeeping(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{"rssi", true},
		{"uptime", true},
		{"free_heap", true},
		{"rpm", false},
		// Unknown keys come from the ECU side, never from the bridge.
		{"oil_pressure", false},
	}
	for _, tc := range cases {
		if got := IsHousekeeping(tc.key); got != tc.want {
			t.Errorf("IsHousekeeping(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestInWarning(t *testing.T) {
	battery, ok := Lookup("battery_voltage")
	if !ok {
		t.Fatal("expected battery_voltage to be known")
	}

	cases := []struct {
		value float64
		want  bool
	}{
		{11.7, true},  // below min
		{11.8, false}, // at min is healthy
		{13.2, false},
		{15.0, false}, // at max is healthy
		{15.1, true},  // above max
	}
	for _, tc := range cases {
		if got := battery.InWarning(tc.value); got != tc.want {
			t.Errorf("InWarning(%v) = %v, want %v", tc.value, got, tc.want)
		}
	}

	speed, _ := Lookup("speed")
	if speed.InWarning(400) {
		t.Error("parameter without bounds must never warn")
	}
}
