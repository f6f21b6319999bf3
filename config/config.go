// Package config loads the YAML document describing sensors, their PID gain
// tables, bound cooling devices, profiles, and cooling-device state-power
// curves, and turns it into the throttle.SensorInfo/throttle.CdevInfo values
// the control core consumes. Parsing and schema validation are explicitly
// outside the core; this package is where that work lives.
package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/arlobridge/thermalctl/throttle"
)

// ValidationError reports one broken field in one sensor's configuration.
// Document validates every sensor concurrently and joins every
// ValidationError it finds rather than stopping at the first.
type ValidationError struct {
	Sensor string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: sensor %q field %q: %s", e.Sensor, e.Field, e.Reason)
}

// CdevBindingYAML describes one (sensor, CDEV) binding.
type CdevBindingYAML struct {
	Cdev                    string    `yaml:"cdev"`
	CdevWeightForPid        []float64 `yaml:"cdev_weight_for_pid"`
	LimitInfo               []int     `yaml:"limit_info"`
	CdevCeiling             []int     `yaml:"cdev_ceiling"`
	CdevFloorWithPowerLink  []int     `yaml:"cdev_floor_with_power_link"`
	PowerRail               string    `yaml:"power_rail"`
	PowerThresholds         []float64 `yaml:"power_thresholds"`
	HighPowerCheck          bool      `yaml:"high_power_check"`
	ReleaseLogic            string    `yaml:"release_logic"`
	MaxThrottleStep         int       `yaml:"max_throttle_step"`
	MaxReleaseStep          int       `yaml:"max_release_step"`
	Enabled                 bool      `yaml:"enabled"`
	ThrottlingWithPowerLink bool      `yaml:"throttling_with_power_link"`
}

// PredictorYAML describes a sensor's optional feed-forward compensation.
type PredictorYAML struct {
	SupportPidCompensation bool      `yaml:"support_pid_compensation"`
	PredictionWeights      []float64 `yaml:"prediction_weights"`
	KPCompensate           []float64 `yaml:"k_p_compensate"`
}

// ThrottlingYAML describes a sensor's PID gain tables and bindings.
type ThrottlingYAML struct {
	SPower         []float64                    `yaml:"s_power"`
	KPO            []float64                    `yaml:"k_po"`
	KPU            []float64                    `yaml:"k_pu"`
	KIO            []float64                    `yaml:"k_io"`
	KIU            []float64                    `yaml:"k_iu"`
	KD             []float64                    `yaml:"k_d"`
	IMax           []float64                    `yaml:"i_max"`
	ICutoff        []float64                    `yaml:"i_cutoff"`
	MinAllocPower  []float64                    `yaml:"min_alloc_power"`
	MaxAllocPower  []float64                    `yaml:"max_alloc_power"`
	IDefault       float64                      `yaml:"i_default"`
	IDefaultPct    *float64                     `yaml:"i_default_pct"`
	TranCycle      int                          `yaml:"tran_cycle"`
	Bindings       []CdevBindingYAML            `yaml:"bindings"`
	Profiles       map[string][]CdevBindingYAML `yaml:"profiles"`
	ExcludedPowers map[string][]float64         `yaml:"excluded_power"`
}

// SensorYAML describes one sensor.
type SensorYAML struct {
	Name          string          `yaml:"name"`
	HotThresholds []float64       `yaml:"hot_thresholds"`
	Multiplier    float64         `yaml:"multiplier"`
	Predictor     *PredictorYAML  `yaml:"predictor"`
	Throttling    *ThrottlingYAML `yaml:"throttling"`
	// TempPath is the sysfs thermal-zone file thermalctl run reads this
	// sensor's temperature from. Not used by config.Build itself.
	TempPath string `yaml:"temp_path"`
}

// CdevYAML describes one cooling device's discrete state ladder.
type CdevYAML struct {
	Name        string    `yaml:"name"`
	State2Power []float64 `yaml:"state2power"`
	MaxState    int       `yaml:"max_state"`
	// SysfsPath is the cooling_deviceN directory thermalctl run's
	// cdev.SysfsActuator writes this device's cur_state to.
	SysfsPath string `yaml:"sysfs_path"`
}

// Document is the top-level YAML schema.
type Document struct {
	Sensors        []SensorYAML      `yaml:"sensors"`
	CoolingDevices []CdevYAML        `yaml:"cooling_devices"`
	RailEnergyPaths map[string]string `yaml:"rail_energy_paths"`
}

// SensorTempPaths returns the sysfs temperature path configured for each
// sensor that has one.
func (d *Document) SensorTempPaths() map[string]string {
	out := make(map[string]string, len(d.Sensors))
	for _, s := range d.Sensors {
		if s.TempPath != "" {
			out[s.Name] = s.TempPath
		}
	}
	return out
}

// CdevSysfsPaths returns the cooling_deviceN directory configured for each
// cooling device that has one.
func (d *Document) CdevSysfsPaths() map[string]string {
	out := make(map[string]string, len(d.CoolingDevices))
	for _, c := range d.CoolingDevices {
		if c.SysfsPath != "" {
			out[c.Name] = c.SysfsPath
		}
	}
	return out
}

// LoadDocument reads and parses the YAML file at path without validating or
// converting it, for callers that also need the raw sysfs-path fields
// (SensorTempPaths, CdevSysfsPaths, RailEnergyPaths) alongside the built
// throttle types.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &doc, nil
}

// Load reads and parses the YAML file at path, then validates and converts
// it. It never returns a partially-built result: a non-nil error means the
// returned maps are nil.
func Load(path string) (map[string]*throttle.SensorInfo, throttle.CoolingDeviceInfoMap, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, nil, err
	}
	return doc.Build()
}

// Build validates and converts an already-parsed Document. Every sensor is
// validated independently and concurrently; all failures are joined rather
// than stopping at the first.
func (d *Document) Build() (map[string]*throttle.SensorInfo, throttle.CoolingDeviceInfoMap, error) {
	cdevInfo, err := buildCdevInfoMap(d.CoolingDevices)
	if err != nil {
		return nil, nil, err
	}

	results := make([]*throttle.SensorInfo, len(d.Sensors))
	errs := make([]error, len(d.Sensors))

	g, _ := errgroup.WithContext(context.Background())
	for i, sensor := range d.Sensors {
		i, sensor := i, sensor
		g.Go(func() error {
			info, err := buildSensorInfo(sensor, cdevInfo)
			results[i] = info
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait() // per-sensor errors are collected above, never short-circuited

	if joined := errors.Join(errs...); joined != nil {
		return nil, nil, joined
	}

	out := make(map[string]*throttle.SensorInfo, len(d.Sensors))
	for i, sensor := range d.Sensors {
		out[sensor.Name] = results[i]
	}
	return out, cdevInfo, nil
}

func buildCdevInfoMap(cdevs []CdevYAML) (throttle.CoolingDeviceInfoMap, error) {
	out := make(throttle.CoolingDeviceInfoMap, len(cdevs))
	for _, c := range cdevs {
		if c.Name == "" {
			return nil, &ValidationError{Sensor: "", Field: "cooling_devices.name", Reason: "must not be empty"}
		}
		if len(c.State2Power) == 0 {
			return nil, &ValidationError{Sensor: c.Name, Field: "state2power", Reason: "must have at least one entry"}
		}
		out[c.Name] = throttle.CdevInfo{State2Power: c.State2Power, MaxState: c.MaxState}
	}
	return out, nil
}

func buildSensorInfo(s SensorYAML, cdevInfo throttle.CoolingDeviceInfoMap) (*throttle.SensorInfo, error) {
	if s.Name == "" {
		return nil, &ValidationError{Sensor: "", Field: "name", Reason: "must not be empty"}
	}

	info := &throttle.SensorInfo{
		HotThresholds: toSeverityTable(s.HotThresholds),
		Multiplier:    s.Multiplier,
	}

	if s.Predictor != nil {
		info.PredictorInfo = &throttle.PredictorInfo{
			SupportPidCompensation: s.Predictor.SupportPidCompensation,
			PredictionWeights:      s.Predictor.PredictionWeights,
			KPCompensate:           toSeverityTable(s.Predictor.KPCompensate),
		}
	}

	if s.Throttling == nil {
		return info, nil
	}

	t := s.Throttling
	throttling := &throttle.ThrottlingInfo{
		SPower:               toSeverityTable(t.SPower),
		KPO:                  toSeverityTable(t.KPO),
		KPU:                  toSeverityTable(t.KPU),
		KIO:                  toSeverityTable(t.KIO),
		KIU:                  toSeverityTable(t.KIU),
		KD:                   toSeverityTable(t.KD),
		IMax:                 toSeverityTable(t.IMax),
		ICutoff:              toSeverityTable(t.ICutoff),
		MinAllocPower:        toSeverityTable(t.MinAllocPower),
		MaxAllocPower:        toSeverityTable(t.MaxAllocPower),
		IDefault:             t.IDefault,
		IDefaultPct:          orNaN(t.IDefaultPct),
		TranCycle:            t.TranCycle,
		BindedCdevInfoMap:    make(map[string]*throttle.BindedCdevInfo, len(t.Bindings)),
		ProfileMap:           make(map[string]map[string]*throttle.BindedCdevInfo, len(t.Profiles)),
		ExcludedPowerInfoMap: make(map[string]throttle.SeverityTable),
	}

	for _, b := range t.Bindings {
		if _, ok := cdevInfo[b.Cdev]; !ok {
			return nil, &ValidationError{Sensor: s.Name, Field: "bindings." + b.Cdev, Reason: "references unknown cooling device"}
		}
		binding, err := buildBinding(s.Name, b)
		if err != nil {
			return nil, err
		}
		throttling.BindedCdevInfoMap[b.Cdev] = binding
	}

	for profile, bindings := range t.Profiles {
		profileMap := make(map[string]*throttle.BindedCdevInfo, len(bindings))
		for _, b := range bindings {
			if _, ok := cdevInfo[b.Cdev]; !ok {
				return nil, &ValidationError{Sensor: s.Name, Field: "profiles." + profile + "." + b.Cdev, Reason: "references unknown cooling device"}
			}
			binding, err := buildBinding(s.Name, b)
			if err != nil {
				return nil, err
			}
			profileMap[b.Cdev] = binding
		}
		throttling.ProfileMap[profile] = profileMap
	}

	for rail, weights := range t.ExcludedPowers {
		throttling.ExcludedPowerInfoMap[rail] = toSeverityTable(weights)
	}

	info.ThrottlingInfo = throttling
	return info, nil
}

func buildBinding(sensor string, b CdevBindingYAML) (*throttle.BindedCdevInfo, error) {
	logic, ok := parseReleaseLogic(b.ReleaseLogic)
	if !ok {
		return nil, &ValidationError{Sensor: sensor, Field: "bindings." + b.Cdev + ".release_logic", Reason: fmt.Sprintf("unrecognized value %q", b.ReleaseLogic)}
	}

	maxThrottle := b.MaxThrottleStep
	if maxThrottle == 0 {
		maxThrottle = throttle.Uncapped
	}
	maxRelease := b.MaxReleaseStep
	if maxRelease == 0 {
		maxRelease = throttle.Uncapped
	}

	return &throttle.BindedCdevInfo{
		CdevWeightForPid:       toSeverityTable(b.CdevWeightForPid),
		LimitInfo:              toSeverityIntTable(b.LimitInfo),
		CdevCeiling:            toSeverityIntTable(b.CdevCeiling),
		CdevFloorWithPowerLink: toSeverityIntTable(b.CdevFloorWithPowerLink),
		PowerRail:              b.PowerRail,
		PowerThresholds:        toSeverityTable(b.PowerThresholds),
		HighPowerCheck:         b.HighPowerCheck,
		ReleaseLogic:           logic,
		MaxThrottleStep:        maxThrottle,
		MaxReleaseStep:         maxRelease,
		Enabled:                b.Enabled,
		ThrottlingWithPowerLink: b.ThrottlingWithPowerLink,
	}, nil
}

func parseReleaseLogic(s string) (throttle.ReleaseLogic, bool) {
	switch s {
	case "", "none":
		return throttle.ReleaseNone, true
	case "increase":
		return throttle.ReleaseIncrease, true
	case "decrease":
		return throttle.ReleaseDecrease, true
	case "stepwise":
		return throttle.ReleaseStepwise, true
	case "to_floor":
		return throttle.ReleaseToFloor, true
	default:
		return 0, false
	}
}

// orNaN maps a YAML field that was never set (a nil pointer, because the
// key was absent from the document) to NaN, throttle's "no value" sentinel.
// An explicitly-written zero is a real, distinct value and passes through
// unchanged.
func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// toSeverityTable pads vals out to throttle.NumSeverities entries, filling
// anything beyond len(vals) with NaN (throttle's "no value for this
// severity" sentinel) rather than zero.
func toSeverityTable(vals []float64) throttle.SeverityTable {
	var out throttle.SeverityTable
	for i := range out {
		out[i] = math.NaN()
	}
	copy(out[:], vals)
	return out
}

// toSeverityIntTable pads vals out to throttle.NumSeverities entries.
// Unlike the float table, 0 is a meaningful value here, so untouched
// entries stay 0 rather than any sentinel.
func toSeverityIntTable(vals []int) throttle.SeverityIntTable {
	var out throttle.SeverityIntTable
	copy(out[:], vals)
	return out
}
