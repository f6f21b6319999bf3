package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arlobridge/thermalctl/cdev"
	"github.com/arlobridge/thermalctl/config"
	"github.com/arlobridge/thermalctl/mqttstats"
	"github.com/arlobridge/thermalctl/power"
	"github.com/arlobridge/thermalctl/throttle"
)

// runtime wires the control core to its collaborators: a config-driven
// sensor/cdev catalog, a power.RailMonitor reading real rail energy
// counters, a cdev.SysfsActuator writing real cooling device state, and an
// mqttstats.Helper publishing telemetry.
type runtime struct {
	controller *throttle.Controller
	sensors    map[string]*throttle.SensorInfo
	cdevInfo   throttle.CoolingDeviceInfoMap
	rails      *power.RailMonitor
	actuator   *cdev.SysfsActuator
	stats      *mqttstats.Helper
	tempPaths  map[string]string
	railPaths  map[string]string
	tick       time.Duration

	mu       sync.RWMutex
	severity map[string]throttle.Severity
	lastTemp map[string]float64
}

func buildRuntime(configPath string, tick time.Duration) (*runtime, error) {
	doc, err := config.LoadDocument(configPath)
	if err != nil {
		return nil, err
	}
	sensors, cdevInfo, err := doc.Build()
	if err != nil {
		return nil, fmt.Errorf("thermalctl: %w", err)
	}

	rt := &runtime{
		sensors:   sensors,
		cdevInfo:  cdevInfo,
		tempPaths: doc.SensorTempPaths(),
		railPaths: doc.RailEnergyPaths,
		tick:      tick,
		rails:     power.NewRailMonitor(),
		actuator:  cdev.NewSysfsActuator(doc.CdevSysfsPaths()),
		severity:  make(map[string]throttle.Severity),
		lastTemp:  make(map[string]float64),
	}
	rt.controller = throttle.NewController(nil)

	for name, info := range sensors {
		if info.ThrottlingInfo == nil {
			continue
		}
		if err := rt.controller.RegisterThermalThrottling(name, info.ThrottlingInfo, cdevInfo); err != nil {
			return nil, fmt.Errorf("thermalctl: registering %s: %w", name, err)
		}
	}
	return rt, nil
}

// severityFor walks table upward from LIGHT and returns the highest
// severity whose threshold temp has reached, skipping NaN ("no threshold at
// this severity") entries.
func severityFor(table throttle.SeverityTable, temp float64) throttle.Severity {
	result := throttle.SeverityNone
	for s := throttle.SeverityLight; s <= throttle.SeverityShutdown; s++ {
		threshold := table[s]
		if math.IsNaN(threshold) {
			continue
		}
		if temp >= threshold {
			result = s
		}
	}
	return result
}

func readSysfsMilliC(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	milliC, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return milliC / 1000.0, nil
}

func readSysfsFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return v, nil
}

// sampleRails refreshes every power rail info binds to from its configured
// sysfs energy-counter path, if one is set.
func (rt *runtime) sampleRails(info *throttle.ThrottlingInfo) {
	rails := make(map[string]bool)
	for _, binding := range info.BindedCdevInfoMap {
		if binding.PowerRail != "" {
			rails[binding.PowerRail] = true
		}
	}
	for rail := range info.ExcludedPowerInfoMap {
		rails[rail] = true
	}

	for rail := range rails {
		path, ok := rt.railPaths[rail]
		if !ok {
			continue
		}
		joules, err := readSysfsFloat(path)
		if err != nil {
			log.Printf("thermalctl: rail %s: reading %s: %v", rail, path, err)
			continue
		}
		rt.rails.Sample(rail, joules, rt.tick.Seconds())
	}
}

// tickSensor runs one full control tick for name: read temperature,
// resolve severity, update the core, apply any changed cdev requests.
func (rt *runtime) tickSensor(name string) {
	info := rt.sensors[name]
	if info == nil || info.ThrottlingInfo == nil {
		return
	}

	var temp float64
	if path, ok := rt.tempPaths[name]; ok {
		t, err := readSysfsMilliC(path)
		if err != nil {
			log.Printf("thermalctl: %s: reading temperature: %v", name, err)
			return
		}
		temp = t
	}

	curr := severityFor(info.HotThresholds, temp)

	rt.mu.Lock()
	rt.severity[name] = curr
	rt.lastTemp[name] = temp
	rt.mu.Unlock()

	rt.sampleRails(info.ThrottlingInfo)

	powerStatus := rt.rails.Status()
	if err := rt.controller.ThermalThrottlingUpdate(name, temp, info, curr, rt.tick, powerStatus, rt.cdevInfo, false, nil); err != nil {
		log.Printf("thermalctl: %s: %v", name, err)
	}

	changed := rt.controller.ComputeCoolingDevicesRequest(name, info, curr, rt.stats)
	if len(changed) == 0 {
		return
	}
	for _, err := range rt.actuator.ApplyChanges(changed, rt.controller.GetCdevMaxRequest) {
		log.Printf("thermalctl: %s: applying cdev change: %v", name, err)
	}
}

func (rt *runtime) runSensorLoop(ctx context.Context, name string) {
	ticker := time.NewTicker(rt.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.tickSensor(name)
		}
	}
}

// logTraceSink logs the PID term breakdown on every traced tick, giving the
// control loop the same ambient per-term observability a trace point would.
type logTraceSink struct{}

func (logTraceSink) OnPidTrace(trace throttle.PidTrace) {
	log.Printf("throttle: %s target=%s err=%.2f p=%.2f i=%.2f d=%.2f comp=%.2f budget=%.2f",
		trace.Sensor, trace.TargetState, trace.Err, trace.P, trace.I, trace.D, trace.Compensation, trace.PowerBudget)
}

// sensorStatusLine formats one sensor's live state for the inspect console.
func (rt *runtime) sensorStatusLine(name string) string {
	rt.mu.RLock()
	curr, knownSeverity := rt.severity[name]
	temp, knownTemp := rt.lastTemp[name]
	rt.mu.RUnlock()

	if !knownSeverity || !knownTemp {
		return fmt.Sprintf("%s: no tick yet", name)
	}
	return fmt.Sprintf("%s: temp=%.2f severity=%s", name, temp, curr)
}
