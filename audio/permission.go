package audio

import "sync"

// Permission reports whether the process may record from the microphone.
type Permission interface {
	Granted() bool
}

type PermissionFunc func() bool

func (f PermissionFunc) Granted() bool { return f() }

// Granted always allows recording.
var Granted Permission = PermissionFunc(func() bool { return true })

// DevicePermission treats a backend that lists at least one capture source
// as permission to record. Desktop sound servers refuse the listing when the
// user has revoked access.
type DevicePermission struct {
	Context Context
}

func (p DevicePermission) Granted() bool {
	if p.Context == nil {
		return false
	}
	devices, err := p.Context.Devices()
	return err == nil && len(devices) > 0
}

// Lease grants one owner at a time exclusive use of the capture hardware.
type Lease struct {
	mu    sync.Mutex
	owner string
}

// Acquire claims the hardware for owner. Re-acquiring by the same owner
// succeeds.
func (l *Lease) Acquire(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != "" && l.owner != owner {
		return ErrHardwareUnavailable
	}
	l.owner = owner
	return nil
}

// Release gives up the hardware if owner holds it.
func (l *Lease) Release(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == owner {
		l.owner = ""
	}
}

func (l *Lease) Owner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}
