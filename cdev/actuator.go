// Package cdev drives cooling devices through their kernel sysfs nodes. It
// sits entirely outside the control core: the core only produces requested
// states, something else has to write them to hardware.
package cdev

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
)

const curStateFile = "cur_state"

// SysfsActuator writes a cooling device's requested state to its kernel
// thermal-cdev node (/sys/class/thermal/cooling_deviceN/cur_state). It
// tracks the last state written per device so repeated requests for an
// unchanged value don't repeat the syscall.
type SysfsActuator struct {
	mu       sync.Mutex
	paths    map[string]string // cdev name -> cooling_deviceN directory
	lastSent map[string]int
}

// NewSysfsActuator builds an actuator over the given cdev-name to
// cooling_deviceN-directory mapping. Paths are not validated until the
// first write.
func NewSysfsActuator(paths map[string]string) *SysfsActuator {
	cloned := make(map[string]string, len(paths))
	for k, v := range paths {
		cloned[k] = v
	}
	return &SysfsActuator{paths: cloned, lastSent: make(map[string]int)}
}

// Apply writes state to cdev's cur_state node if it differs from the last
// state successfully written for that device. It never panics: a missing
// path mapping or a failed write is logged and returned as an error, never
// raised.
func (a *SysfsActuator) Apply(cdev string, state int) error {
	a.mu.Lock()
	dir, ok := a.paths[cdev]
	last, hasLast := a.lastSent[cdev]
	a.mu.Unlock()

	if !ok {
		err := fmt.Errorf("cdev: no sysfs path registered for %q", cdev)
		log.Printf("cdev: %v", err)
		return err
	}
	if hasLast && last == state {
		return nil
	}

	path := dir + "/" + curStateFile
	if err := os.WriteFile(path, []byte(strconv.Itoa(state)), 0o644); err != nil {
		log.Printf("cdev: writing state %d to %s: %v", state, path, err)
		return err
	}

	a.mu.Lock()
	a.lastSent[cdev] = state
	a.mu.Unlock()
	return nil
}

// ApplyChanges writes every cdev in changed to its current registry vote,
// as read from maxVote. It is meant to be called with the changed-cdev
// list ComputeCoolingDevicesRequest returns, so only devices whose combined
// vote actually moved this tick incur a write. Failures are logged per
// device and collected rather than aborting the rest of the batch.
func (a *SysfsActuator) ApplyChanges(changed []string, maxVote func(cdev string) (int, bool)) []error {
	var errs []error
	for _, cdev := range changed {
		state, ok := maxVote(cdev)
		if !ok {
			continue
		}
		if err := a.Apply(cdev, state); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// CurrentState reports the last state this actuator successfully wrote for
// cdev, for tests and diagnostics. The second return is false if nothing
// has been written yet.
func (a *SysfsActuator) CurrentState(cdev string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.lastSent[cdev]
	return state, ok
}
