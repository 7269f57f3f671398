// Package audio wraps the platform capture backends behind a small device
// interface and adapts their push callbacks into a blocking reader.
package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
)

var (
	ErrPermissionDenied    = errors.New("audio: microphone permission denied")
	ErrHardwareUnavailable = errors.New("audio: capture hardware unavailable")
)

// VoiceConfig is the capture profile every recording uses: 16 kHz mono.
// Backends deliver signed 16-bit little-endian samples.
var VoiceConfig = CaptureConfig{SampleRate: 16000, Channels: 1}

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	// Gain multiplies every captured sample. Zero leaves the backend's
	// default: DefaultGain on PulseAudio, unity elsewhere.
	Gain int32
}

// DefaultGain lifts quiet PulseAudio sources to a level the recognizers
// handle well.
const DefaultGain = 4

func (c CaptureConfig) gain() int32 {
	if c.Gain <= 0 {
		return DefaultGain
	}
	return c.Gain
}

// amplify writes src scaled by gain into dst as little-endian PCM, clipping
// at the int16 range. dst must hold 2*len(src) bytes.
func amplify(dst []byte, src []int16, gain int32) {
	for i, s := range src {
		v := int32(s) * gain
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(v)))
	}
}

// isMonitor reports whether a source name belongs to a sound server's
// loopback of an output rather than a microphone.
func isMonitor(name string) bool {
	return strings.HasSuffix(name, ".monitor") || strings.HasPrefix(strings.ToLower(name), "monitor of ")
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

// CaptureDevice can be started and stopped repeatedly until Close.
type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}
