package catalog

// Parameter is a static catalog entry describing one telemetry channel.
// Warning bounds are optional; a nil bound means that side is unchecked.
type Parameter struct {
	Key          string
	Label        string
	Unit         string
	Chartable    bool
	ArchiveOnly  bool
	Housekeeping bool
	WarnMin      *float64
	WarnMax      *float64
}

func bound(v float64) *float64 { return &v }

// parameters is the full catalog. The set is fixed at compile time; readings
// for keys outside it are still accepted but stored archive-only, which lets
// bridge firmware grow new channels without a schema migration here.
var parameters = []Parameter{
	{Key: "rpm", Label: "Engine RPM", Unit: "rpm", Chartable: true, WarnMax: bound(6500)},
	{Key: "speed", Label: "Vehicle Speed", Unit: "km/h", Chartable: true},
	{Key: "coolant_temp", Label: "Coolant Temperature", Unit: "°C", Chartable: true, WarnMax: bound(110)},
	{Key: "intake_temp", Label: "Intake Air Temperature", Unit: "°C", Chartable: true},
	{Key: "engine_load", Label: "Engine Load", Unit: "%", Chartable: true},
	{Key: "throttle", Label: "Throttle Position", Unit: "%", Chartable: true},
	{Key: "fuel_level", Label: "Fuel Level", Unit: "%", Chartable: true, WarnMin: bound(10)},
	{Key: "battery_voltage", Label: "Battery Voltage", Unit: "V", Chartable: true, WarnMin: bound(11.8), WarnMax: bound(15.0)},
	{Key: "maf", Label: "Mass Air Flow", Unit: "g/s", Chartable: true},
	{Key: "fuel_rate", Label: "Fuel Rate", Unit: "L/h", Chartable: true},
	{Key: "odometer", Label: "Odometer", Unit: "km", Chartable: false, ArchiveOnly: true},
	{Key: "dtc_count", Label: "Trouble Code Count", Unit: "", Chartable: false, ArchiveOnly: true},

	// Bridge housekeeping channels. These never open telemetry sessions and
	// never count toward ECU connectivity.
	{Key: "rssi", Label: "Signal Strength", Unit: "dBm", Chartable: false, Housekeeping: true},
	{Key: "uptime", Label: "Bridge Uptime", Unit: "s", Chartable: false, ArchiveOnly: true, Housekeeping: true},
	{Key: "free_heap", Label: "Bridge Free Heap", Unit: "B", Chartable: false, ArchiveOnly: true, Housekeeping: true},
}

var byKey = func() map[string]Parameter {
	m := make(map[string]Parameter, len(parameters))
	for _, p := range parameters {
		m[p.Key] = p
	}
	return m
}()

// Lookup returns the catalog entry for key, if the key is known.
func Lookup(key string) (Parameter, bool) {
	p, ok := byKey[key]
	return p, ok
}

// Chartable returns the parameters eligible for live gauges and charts, in
// catalog order.
func Chartable() []Parameter {
	var out []Parameter
	for _, p := range parameters {
		if p.Chartable && !p.ArchiveOnly {
			out = append(out, p)
		}
	}
	return out
}

// IsHousekeeping reports whether key is a bridge housekeeping channel.
// Unknown keys come from ECU-side firmware additions, so they classify as
// ECU-sourced; the housekeeping set is small and fixed by the bridge.
func IsHousekeeping(key string) bool {
	p, ok := byKey[key]
	return ok && p.Housekeeping
}

// InWarning checks value against the parameter's warning bounds.
func (p Parameter) InWarning(value float64) bool {
	if p.WarnMin != nil && value < *p.WarnMin {
		return true
	}
	if p.WarnMax != nil && value > *p.WarnMax {
		return true
	}
	return false
}
