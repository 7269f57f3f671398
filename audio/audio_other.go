//go:build !linux

package audio

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: miniaudio: %v", ErrHardwareUnavailable, err)
	}
	return &malgoContext{ctx: ctx}, nil
}

// Devices lists capture endpoints, skipping loopback monitors. IDs are the
// hex form of miniaudio's opaque device ID.
func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	infos, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var devices []DeviceInfo
	for _, d := range infos {
		if isMonitor(d.Name()) {
			continue
		}
		devices = append(devices, DeviceInfo{ID: hex.EncodeToString(d.ID.Pointer()[:]), Name: d.Name()})
	}
	return devices, nil
}

func deviceID(info *DeviceInfo) (malgo.DeviceID, error) {
	var id malgo.DeviceID
	raw, err := hex.DecodeString(info.ID)
	if err != nil || len(raw) > len(id) {
		return id, fmt.Errorf("invalid device ID %q", info.ID)
	}
	copy(id[:], raw)
	return id, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = config.Channels
	cfg.SampleRate = config.SampleRate

	c := &malgoCapture{name: "system default", gain: config.Gain}
	if device != nil {
		id, err := deviceID(device)
		if err != nil {
			return nil, err
		}
		cfg.Capture.DeviceID = id.Pointer()
		c.name = device.Name
	}

	dev, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{Data: c.onData})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}
	c.device = dev
	return c, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

// malgoCapture applies software gain only when one was configured; the
// platform mixers already normalize input levels.
type malgoCapture struct {
	device   *malgo.Device
	name     string
	gain     int32
	callback atomic.Pointer[DataCallback]
}

func (c *malgoCapture) onData(_, data []byte, frames uint32) {
	cb := c.callback.Load()
	if cb == nil {
		return
	}
	// malgo reuses data after the callback returns.
	buf := make([]byte, len(data))
	if c.gain > 1 {
		samples := make([]int16, len(data)/2)
		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
		}
		amplify(buf, samples, c.gain)
	} else {
		copy(buf, data)
	}
	(*cb)(buf, frames)
}

func (c *malgoCapture) Start() error {
	if c.device.IsStarted() {
		return nil
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}
	return nil
}

func (c *malgoCapture) Stop() {
	if c.device.IsStarted() {
		c.device.Stop()
	}
}

func (c *malgoCapture) Close() {
	c.Stop()
	c.ClearCallback()
	c.device.Uninit()
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *malgoCapture) DeviceName() string { return c.name }
