package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	// DefaultBatteryCapacity bounds the retained battery samples.
	DefaultBatteryCapacity = 1000
	// DefaultProfileCapacity bounds the rolling device profile list.
	DefaultProfileCapacity = 50
	// SummaryProfiles is how many recent profiles a summary exposes.
	SummaryProfiles = 10
)

// Table names a frequency table of the telemetry aggregate.
type Table string

const (
	TableNetworks      Table = "networks"
	TableLocales       Table = "locales"
	TableDeviceClasses Table = "device_classes"
	TableTiers         Table = "tiers"
	TableOSFamilies    Table = "os_families"
	TableBrowsers      Table = "browsers"
	TableGPUs          Table = "gpus"
	TableTimezones     Table = "timezones"
	TableEventClasses  Table = "event_classes"
)

// Tables lists every frequency table.
var Tables = []Table{
	TableNetworks,
	TableLocales,
	TableDeviceClasses,
	TableTiers,
	TableOSFamilies,
	TableBrowsers,
	TableGPUs,
	TableTimezones,
	TableEventClasses,
}

// deviceFields maps device body fields to the table they feed.
var deviceFields = []struct {
	table Table
	field string
}{
	{TableDeviceClasses, "deviceClass"},
	{TableTiers, "tier"},
	{TableOSFamilies, "os"},
	{TableBrowsers, "browser"},
	{TableGPUs, "gpuRenderer"},
	{TableTimezones, "timezone"},
}

// DeviceProfile is the per-device record kept in the rolling profile list.
// Values are copied from the payload as-is; absent fields are null.
type DeviceProfile struct {
	DeviceClass any `json:"deviceClass"`
	OS          any `json:"os"`
	Browser     any `json:"browser"`
	Tier        any `json:"tier"`
	GPU         any `json:"gpu"`
	Cores       any `json:"cores"`
	Memory      any `json:"memory"`
	Timezone    any `json:"timezone"`
}

// Observation is what a single payload contributes to the aggregate.
type Observation struct {
	// Increments holds one category value per table to bump by one.
	Increments map[Table]string
	// Battery is set when the payload carried a usable battery level.
	Battery *int
	// Device is true for device identity payloads.
	Device  bool
	Profile *DeviceProfile
}

// Empty reports whether the observation changes nothing.
func (o Observation) Empty() bool {
	return len(o.Increments) == 0 && o.Battery == nil && !o.Device
}

// Classify inspects a payload and derives its telemetry contribution.
// Non-object payloads contribute nothing.
func Classify(payload json.RawMessage) Observation {
	obs := Observation{Increments: make(map[Table]string)}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil || doc == nil {
		return obs
	}

	if class, ok := categoryValue(doc["eventclass"]); ok {
		obs.Increments[TableEventClasses] = class
	}

	body := bodyOf(doc)
	eventType, _ := doc["type"].(string)

	if strings.Contains(eventType, "telemetry.battery") || strings.Contains(eventType, "telemetry.power_state") {
		obs.Battery = batteryLevel(body)
	}

	if strings.Contains(eventType, "telemetry.network") {
		raw, ok := body["effectiveType"]
		if !ok {
			raw = body["type"]
		}
		if network, ok := categoryValue(raw); ok {
			obs.Increments[TableNetworks] = network
		}
	}

	if strings.Contains(eventType, "telemetry.device") {
		obs.Device = true
		for _, df := range deviceFields {
			if v, ok := categoryValue(body[df.field]); ok {
				obs.Increments[df.table] = v
			}
		}
		if langs, ok := body["languages"].(string); ok {
			primary := strings.TrimSpace(strings.Split(langs, ",")[0])
			if v, ok := categoryValue(primary); ok {
				obs.Increments[TableLocales] = v
			}
		}
		obs.Profile = &DeviceProfile{
			DeviceClass: body["deviceClass"],
			OS:          body["os"],
			Browser:     body["browser"],
			Tier:        body["tier"],
			GPU:         body["gpuRenderer"],
			Cores:       body["cores"],
			Memory:      body["memoryGB"],
			Timezone:    body["timezone"],
		}
	}

	return obs
}

// bodyOf picks the nested "data" object, then "payload", then the document.
func bodyOf(doc map[string]any) map[string]any {
	if data, ok := doc["data"].(map[string]any); ok {
		return data
	}
	if inner, ok := doc["payload"].(map[string]any); ok {
		return inner
	}
	return doc
}

func batteryLevel(body map[string]any) *int {
	raw, ok := body["batteryPct"]
	if !ok {
		raw, ok = body["level"]
	}
	if !ok {
		return nil
	}

	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}

	level := int(f)
	return &level
}

// categoryValue converts a raw JSON value into a table key, skipping the
// placeholder values producers send when a field is not known.
func categoryValue(raw any) (string, bool) {
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return "", false
	}
	switch s {
	case "", "unknown", "unavailable":
		return "", false
	}
	return s, true
}

// TelemetryState is the serializable content of a Telemetry aggregate.
type TelemetryState struct {
	Batteries []int                      `json:"batteries"`
	Devices   int64                      `json:"devices"`
	Tables    map[Table]map[string]int64 `json:"tables"`
	Profiles  []DeviceProfile            `json:"profiles"`
}

// Telemetry accumulates summary statistics over ingested payloads.
// It is not safe for concurrent use.
type Telemetry struct {
	maxBatteries int
	maxProfiles  int

	batteries []int
	devices   int64
	tables    map[Table]map[string]int64
	profiles  []DeviceProfile
}

// NewTelemetry creates an empty aggregate with the given list bounds.
func NewTelemetry(maxBatteries, maxProfiles int) *Telemetry {
	if maxBatteries <= 0 {
		maxBatteries = DefaultBatteryCapacity
	}
	if maxProfiles <= 0 {
		maxProfiles = DefaultProfileCapacity
	}
	t := &Telemetry{maxBatteries: maxBatteries, maxProfiles: maxProfiles}
	t.Reset()
	return t
}

// Observe classifies payload and folds it into the aggregate.
func (t *Telemetry) Observe(payload json.RawMessage) {
	t.Apply(Classify(payload))
}

// Apply folds a classified observation into the aggregate.
func (t *Telemetry) Apply(o Observation) {
	for table, key := range o.Increments {
		t.tables[table][key]++
	}
	if o.Battery != nil {
		t.batteries = appendBounded(t.batteries, *o.Battery, t.maxBatteries)
	}
	if o.Device {
		t.devices++
	}
	if o.Profile != nil {
		t.profiles = appendBounded(t.profiles, *o.Profile, t.maxProfiles)
	}
}

// Summary derives the read model served to dashboards.
func (t *Telemetry) Summary() TelemetrySummary {
	return BuildSummary(t.batteries, t.devices, t.tables, t.profiles)
}

// Snapshot returns a deep copy of the aggregate.
func (t *Telemetry) Snapshot() TelemetryState {
	return TelemetryState{
		Batteries: append([]int{}, t.batteries...),
		Devices:   t.devices,
		Tables:    copyTables(t.tables),
		Profiles:  append([]DeviceProfile{}, t.profiles...),
	}
}

// Restore replaces the aggregate with s, applying the configured bounds.
func (t *Telemetry) Restore(s TelemetryState) {
	t.Reset()
	for _, b := range s.Batteries {
		t.batteries = appendBounded(t.batteries, b, t.maxBatteries)
	}
	for _, p := range s.Profiles {
		t.profiles = appendBounded(t.profiles, p, t.maxProfiles)
	}
	t.devices = s.Devices
	for table, counts := range s.Tables {
		if _, known := t.tables[table]; !known {
			continue
		}
		for k, v := range counts {
			t.tables[table][k] = v
		}
	}
}

// Reset clears every counter, table and list.
func (t *Telemetry) Reset() {
	t.batteries = nil
	t.devices = 0
	t.profiles = nil
	t.tables = make(map[Table]map[string]int64, len(Tables))
	for _, table := range Tables {
		t.tables[table] = make(map[string]int64)
	}
}

// ProfileCount returns the number of retained device profiles.
func (t *Telemetry) ProfileCount() int { return len(t.profiles) }

// BatteryCount returns the number of retained battery samples.
func (t *Telemetry) BatteryCount() int { return len(t.batteries) }

func appendBounded[T any](list []T, v T, limit int) []T {
	list = append(list, v)
	if len(list) > limit {
		list = append(list[:0:0], list[len(list)-limit:]...)
	}
	return list
}

func copyTables(src map[Table]map[string]int64) map[Table]map[string]int64 {
	out := make(map[Table]map[string]int64, len(src))
	for table, counts := range src {
		c := make(map[string]int64, len(counts))
		for k, v := range counts {
			c[k] = v
		}
		out[table] = c
	}
	return out
}

// TelemetrySummary is the /telemetry response body.
type TelemetrySummary struct {
	AvgBattery    int              `json:"avgBattery"`
	BatteryCount  int              `json:"batteryCount"`
	Networks      map[string]int64 `json:"networks"`
	Locales       map[string]int64 `json:"locales"`
	Devices       int64            `json:"devices"`
	DeviceClasses map[string]int64 `json:"deviceClasses"`
	Tiers         map[string]int64 `json:"tiers"`
	OSFamilies    map[string]int64 `json:"osFamilies"`
	Browsers      map[string]int64 `json:"browsers"`
	GPUs          map[string]int64 `json:"gpus"`
	Timezones     map[string]int64 `json:"timezones"`
	Profiles      []DeviceProfile  `json:"profiles"`
	EventClasses  map[string]int64 `json:"eventClasses"`
}

// BuildSummary derives a TelemetrySummary from raw aggregate parts.
// Missing tables render as empty objects.
func BuildSummary(batteries []int, devices int64, tables map[Table]map[string]int64, profiles []DeviceProfile) TelemetrySummary {
	table := func(name Table) map[string]int64 {
		out := make(map[string]int64, len(tables[name]))
		for k, v := range tables[name] {
			out[k] = v
		}
		return out
	}

	recent := profiles
	if len(recent) > SummaryProfiles {
		recent = recent[len(recent)-SummaryProfiles:]
	}

	return TelemetrySummary{
		AvgBattery:    averageBattery(batteries),
		BatteryCount:  len(batteries),
		Networks:      table(TableNetworks),
		Locales:       table(TableLocales),
		Devices:       devices,
		DeviceClasses: table(TableDeviceClasses),
		Tiers:         table(TableTiers),
		OSFamilies:    table(TableOSFamilies),
		Browsers:      table(TableBrowsers),
		GPUs:          table(TableGPUs),
		Timezones:     table(TableTimezones),
		Profiles:      append([]DeviceProfile{}, recent...),
		EventClasses:  table(TableEventClasses),
	}
}

// averageBattery is the mean of the samples rounded half to even, or 0.
func averageBattery(samples []int) int {
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range samples {
		sum += int64(s)
	}
	return int(math.RoundToEven(float64(sum) / float64(len(samples))))
}
