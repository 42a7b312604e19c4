// Package mock provides a scriptable in-memory audio.Context for tests.
package mock

import (
	"sync"

	"talkwise/pkg/audio"
)

var (
	_ audio.Context       = (*Context)(nil)
	_ audio.CaptureDevice = (*Device)(nil)
)

// Context implements audio.Context over a fixed device list. Each NewCapture
// call returns a [Device] the test feeds PCM into with Push.
type Context struct {
	// DeviceList is returned by Devices.
	DeviceList []audio.DeviceInfo

	// DevicesErr, when non-nil, is returned by Devices.
	DevicesErr error

	// CaptureErr, when non-nil, is returned by NewCapture.
	CaptureErr error

	mu     sync.Mutex
	opened []*Device
	closed bool
}

// Devices implements audio.Context.
func (c *Context) Devices() ([]audio.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DevicesErr != nil {
		return nil, c.DevicesErr
	}
	return c.DeviceList, nil
}

// SetDevices replaces the device list, as if devices were plugged in or
// unplugged while capturing.
func (c *Context) SetDevices(list []audio.DeviceInfo) {
	c.mu.Lock()
	c.DeviceList = list
	c.mu.Unlock()
}

// NewCapture implements audio.Context.
func (c *Context) NewCapture(device *audio.DeviceInfo, config audio.CaptureConfig) (audio.CaptureDevice, error) {
	if c.CaptureErr != nil {
		return nil, c.CaptureErr
	}
	d := &Device{config: config}
	if device != nil {
		d.info = *device
	}
	c.mu.Lock()
	c.opened = append(c.opened, d)
	c.mu.Unlock()
	return d, nil
}

// Close implements audio.Context.
func (c *Context) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Closed reports whether Close has been called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Opened returns every device handed out by NewCapture, in order.
func (c *Context) Opened() []*Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Device, len(c.opened))
	copy(out, c.opened)
	return out
}

// Device is a test-controlled audio.CaptureDevice.
type Device struct {
	info   audio.DeviceInfo
	config audio.CaptureConfig

	mu      sync.Mutex
	cb      audio.DataCallback
	stopCb  func()
	started bool
	closed  bool
}

// Info returns the DeviceInfo the device was opened with.
func (d *Device) Info() audio.DeviceInfo { return d.info }

// Config returns the CaptureConfig the device was opened with.
func (d *Device) Config() audio.CaptureConfig { return d.config }

// Push delivers pcm to the registered callback, as the platform audio thread
// would. It is a no-op while the device is stopped or has no callback.
func (d *Device) Push(pcm []byte) {
	d.mu.Lock()
	cb := d.cb
	started := d.started
	d.mu.Unlock()
	if !started || cb == nil {
		return
	}
	cb(pcm)
}

// Started reports whether the device is currently capturing.
func (d *Device) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// IsClosed reports whether Close has been called.
func (d *Device) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Start implements audio.CaptureDevice.
func (d *Device) Start() error {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	return nil
}

// Stop implements audio.CaptureDevice.
func (d *Device) Stop() {
	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
}

// Close implements audio.CaptureDevice.
func (d *Device) Close() {
	d.mu.Lock()
	d.started = false
	d.closed = true
	d.mu.Unlock()
}

// SetCallback implements audio.CaptureDevice.
func (d *Device) SetCallback(cb audio.DataCallback) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

// ClearCallback implements audio.CaptureDevice.
func (d *Device) ClearCallback() {
	d.mu.Lock()
	d.cb = nil
	d.mu.Unlock()
}

// SetStopCallback implements audio.CaptureDevice.
func (d *Device) SetStopCallback(cb func()) {
	d.mu.Lock()
	d.stopCb = cb
	d.mu.Unlock()
}

// Lose simulates the device disappearing mid-capture: delivery stops and the
// registered stop callback fires, as the platform backend would report it.
func (d *Device) Lose() {
	d.mu.Lock()
	d.started = false
	cb := d.stopCb
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}
