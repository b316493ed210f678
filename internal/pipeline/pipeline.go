// Package pipeline drives the fixed RkISP1 capture chain: sensor, CSI-2
// receiver, ISP and capture node. It selects the graph links for one sensor,
// negotiates a single format across every stage, gates the stream lifecycle
// and matches asynchronous buffer completions to queued requests in strict
// FIFO order.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-vision/rkpipe/internal/ipa"
	"github.com/meridian-vision/rkpipe/internal/media"
	"github.com/meridian-vision/rkpipe/internal/monitoring"
)

// BufferCount is the fixed depth of the capture buffer pool. It is a design
// constant of this pipeline, not a caller tunable.
const BufferCount = 4

// capturePlanes is the plane count of the NV12-style capture formats this
// pipeline produces.
const capturePlanes = 2

// requiredEntities must all be present in a graph for the pipeline to bind
// to it.
var requiredEntities = []string{
	EntityCSIReceiver,
	EntityISP,
	EntityCapture,
	EntityStatistics,
	EntityParameters,
}

// Devices bundles the hardware handles the pipeline drives. Media describes
// the graph; the subdevice and video node handles carry the format and
// stream operations for the fixed entities.
type Devices struct {
	Media    *media.Device
	Receiver media.PadFormatter
	ISP      media.PadFormatter
	Video    media.VideoNode
}

// CompletionHandler is invoked exactly once per finished request, from the
// hardware notification context.
type CompletionHandler func(cam *Camera, req *Request)

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithController attaches a tuning algorithm controller. Defaults to
// ipa.Noop.
func WithController(c ipa.Controller) Option {
	return func(p *Pipeline) { p.controller = c }
}

// WithCompletionHandler sets the request completion callback.
func WithCompletionHandler(fn CompletionHandler) Option {
	return func(p *Pipeline) { p.onComplete = fn }
}

// Pipeline is the driver for one RkISP1 device. The physical chain is a
// single shared resource: any number of cameras may be registered, but only
// one can hold the Streaming state at a time.
type Pipeline struct {
	dev      *media.Device
	receiver media.PadFormatter
	isp      media.PadFormatter
	video    media.VideoNode

	controller ipa.Controller
	onComplete CompletionHandler

	queue CompletionQueue

	mu          sync.Mutex
	active      *Camera
	cameras     []*Camera
	nextChannel uint
}

// New binds a pipeline to a discovered media graph. It verifies the fixed
// entities are present, resets the internal links and registers for buffer
// completions. Device discovery itself happens elsewhere; New accepts the
// already-built graph.
func New(devs Devices, opts ...Option) (*Pipeline, error) {
	if devs.Media == nil || devs.Receiver == nil || devs.ISP == nil || devs.Video == nil {
		return nil, fmt.Errorf("pipeline requires media, receiver, ISP and video handles")
	}

	for _, name := range requiredEntities {
		if devs.Media.EntityByName(name) == nil {
			return nil, fmt.Errorf("media device %q has no entity %q", devs.Media.Name(), name)
		}
	}

	p := &Pipeline{
		dev:        devs.Media,
		receiver:   devs.Receiver,
		isp:        devs.ISP,
		video:      devs.Video,
		controller: ipa.Noop{},
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.initLinks(); err != nil {
		return nil, fmt.Errorf("setup links: %w", err)
	}

	p.video.OnBufferReady(p.bufferReady)

	return p, nil
}

// AddCamera registers a camera for a sensor connected to the CSI-2
// receiver. The sensor must have a link into the receiver's sink pad.
func (p *Pipeline) AddCamera(sensor SensorDriver) (*Camera, error) {
	if p.sensorLink(sensor.Entity()) == nil {
		return nil, fmt.Errorf("sensor %q has no link to the CSI-2 receiver", sensor.Name())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cam := &Camera{
		ID:      uuid.New(),
		channel: p.nextChannel,
		sensor:  sensor,
		state:   StateUnconfigured,
	}
	p.nextChannel++
	p.cameras = append(p.cameras, cam)
	return cam, nil
}

// Cameras returns the registered cameras in registration order.
func (p *Pipeline) Cameras() []*Camera {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Camera, len(p.cameras))
	copy(out, p.cameras)
	return out
}

// State returns the camera's current lifecycle state.
func (p *Pipeline) State(cam *Camera) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cam.state
}

// NegotiatedFormat returns the sensor format agreed on by the last
// successful Configure.
func (p *Pipeline) NegotiatedFormat(cam *Camera) media.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cam.format
}

// Buffers returns the camera's exported buffer pool, or nil before
// Allocate.
func (p *Pipeline) Buffers(cam *Camera) []*media.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cam.buffers
}

// DefaultConfiguration returns the stream configuration a caller gets
// without expressing a preference: NV12 at the sensor's full resolution.
func (p *Pipeline) DefaultConfiguration(cam *Camera) StreamConfiguration {
	return StreamConfiguration{
		PixelFormat: media.FourCCNV12,
		Size:        cam.sensor.Resolution(),
		BufferCount: BufferCount,
	}
}

// Configure selects the camera's sensor links and negotiates the requested
// format through every stage. Legal from Unconfigured or Configured; any
// failure leaves the camera in its previous, still-usable state. Validation
// failures are detected before any hardware call, link changes included.
func (p *Pipeline) Configure(cam *Camera, cfg StreamConfiguration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		if p.active == cam {
			return fmt.Errorf("%w: configure in state %s", ErrProtocolViolation, cam.state)
		}
		return fmt.Errorf("%w: camera %q is streaming", ErrPipelineBusy, p.active.Name())
	}
	switch cam.state {
	case StateUnconfigured, StateConfigured:
	default:
		return fmt.Errorf("%w: configure in state %s", ErrProtocolViolation, cam.state)
	}

	if cfg.BufferCount == 0 {
		cfg.BufferCount = BufferCount
	}
	if cfg.BufferCount != BufferCount {
		return fmt.Errorf("%w: buffer count is fixed at %d", ErrValidation, BufferCount)
	}
	if resolution := cam.sensor.Resolution(); !cfg.Size.FitsWithin(resolution) {
		return fmt.Errorf("%w: stream size %s larger than sensor resolution %s",
			ErrValidation, cfg.Size, resolution)
	}

	if err := p.selectSensor(cam.sensor); err != nil {
		return err
	}

	format, err := p.negotiate(cam.sensor, cfg)
	if err != nil {
		return err
	}

	cam.config = cfg
	cam.format = format
	cam.state = StateConfigured
	return nil
}

// Allocate exports the capture buffer pool. Legal only from Configured.
func (p *Pipeline) Allocate(cam *Camera) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cam.state != StateConfigured {
		return fmt.Errorf("%w: allocate in state %s", ErrProtocolViolation, cam.state)
	}

	buffers, err := p.video.ExportBuffers(cam.config.BufferCount)
	if err != nil {
		return fmt.Errorf("%w: export %d buffers: %v", ErrHardwareCommand, cam.config.BufferCount, err)
	}

	cam.buffers = buffers
	cam.state = StateAllocated
	return nil
}

// Free releases the buffer pool. Legal only from Allocated. A hardware
// release failure is logged, not surfaced; the pool is gone either way.
func (p *Pipeline) Free(cam *Camera) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cam.state != StateAllocated {
		return fmt.Errorf("%w: free in state %s", ErrProtocolViolation, cam.state)
	}

	if err := p.video.ReleaseBuffers(); err != nil {
		monitoring.Logf("Failed to release buffers for camera %q: %v", cam.Name(), err)
	}

	cam.buffers = nil
	cam.state = StateConfigured
	return nil
}

// Start begins hardware streaming and records the camera as the pipeline's
// sole occupant. Legal only from Allocated, and only while no other camera
// is streaming. A failed StreamOn never marks the occupant.
func (p *Pipeline) Start(cam *Camera) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cam.state != StateAllocated {
		return fmt.Errorf("%w: start in state %s", ErrProtocolViolation, cam.state)
	}
	if p.active != nil {
		return fmt.Errorf("%w: camera %q is streaming", ErrPipelineBusy, p.active.Name())
	}

	if err := p.video.StreamOn(); err != nil {
		return fmt.Errorf("%w: stream on for camera %q: %v", ErrHardwareCommand, cam.Name(), err)
	}

	p.active = cam
	cam.state = StateStreaming
	return nil
}

// Stop halts hardware streaming and clears the occupant. A hardware stop
// failure is logged but does not block the transition; stopping always makes
// forward progress. Requests still in flight are dropped without a
// completion: their buffers belong to the caller again, but must not be
// reused until the caller independently knows streaming has ceased.
func (p *Pipeline) Stop(cam *Camera) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cam.state != StateStreaming {
		monitoring.Logf("Stop ignored for camera %q in state %s", cam.Name(), cam.state)
		return
	}

	if err := p.video.StreamOff(); err != nil {
		monitoring.Logf("Failed to stop camera %q: %v", cam.Name(), err)
	}

	if dropped := p.queue.Drain(); len(dropped) > 0 {
		monitoring.Logf("Camera %q stopped with %d requests in flight", cam.Name(), len(dropped))
		for _, req := range dropped {
			if req.Buffer != nil {
				req.Buffer.State = media.BufferFree
			}
		}
	}

	p.active = nil
	cam.state = StateAllocated
}

// QueueRequest submits a request's buffer to the hardware. The request joins
// the in-flight queue only once the hardware has accepted the buffer.
func (p *Pipeline) QueueRequest(cam *Camera, req *Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cam.state != StateStreaming || p.active != cam {
		return fmt.Errorf("%w: queue request in state %s", ErrProtocolViolation, cam.state)
	}
	if req.Buffer == nil {
		return fmt.Errorf("%w: request %s has no buffer", ErrValidation, req.ID)
	}
	if req.Buffer.State != media.BufferFree {
		return fmt.Errorf("%w: buffer %d is %s, not free", ErrValidation, req.Buffer.Index, req.Buffer.State)
	}

	if err := p.video.QueueBuffer(req.Buffer); err != nil {
		return fmt.Errorf("%w: queue buffer %d: %v", ErrHardwareCommand, req.Buffer.Index, err)
	}

	req.Buffer.State = media.BufferQueued
	req.Status = RequestQueued
	p.queue.Push(req)
	return nil
}

// SetControls applies shutter and gain values for the camera's sensor. This
// is the caller-facing convenience; tuning algorithms drive the same values
// through SetControl, keyed by their channel.
func (p *Pipeline) SetControls(cam *Camera, exposure time.Duration, gain float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cam.exposure = exposure
	cam.gain = gain
}

// SetControl applies one control value on the camera bound to the given
// tuning channel. Exposure values are in microseconds, matching
// ipa.ControlExposure.
func (p *Pipeline) SetControl(channel uint, ctrl ipa.Control, value float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cam := range p.cameras {
		if cam.channel != channel {
			continue
		}
		switch ctrl {
		case ipa.ControlExposure:
			cam.exposure = time.Duration(value) * time.Microsecond
		case ipa.ControlAnalogueGain:
			cam.gain = value
		default:
			return fmt.Errorf("%w: unknown control %s", ErrValidation, ctrl)
		}
		return nil
	}
	return fmt.Errorf("%w: no camera on tuning channel %d", ErrValidation, channel)
}

// bufferReady handles one asynchronous buffer completion from the capture
// node. Completions arrive in queue order, so the oldest in-flight request
// is the match. A completion with no active camera or an empty queue is an
// ordering bug upstream and panics with ErrProtocolViolation.
func (p *Pipeline) bufferReady(b *media.Buffer) {
	p.mu.Lock()
	cam := p.active
	var exposure time.Duration
	var gain float64
	if cam != nil {
		exposure = cam.exposure
		gain = cam.gain
	}
	p.mu.Unlock()

	if cam == nil {
		panic(fmt.Errorf("%w: buffer %d completed with no active camera", ErrProtocolViolation, b.Index))
	}

	req := p.queue.Pop()

	b.State = media.BufferCompleted
	req.Buffer = b
	req.Status = RequestComplete
	req.Metadata = FrameMetadata{
		Sequence:     b.Sequence,
		Timestamp:    b.Timestamp,
		ExposureTime: exposure,
		AnalogueGain: gain,
	}

	p.controller.ReportFrame(cam.channel, ipa.DeviceStatus{
		Sequence:     b.Sequence,
		Timestamp:    b.Timestamp,
		ExposureTime: exposure,
		AnalogueGain: gain,
	})

	if p.onComplete != nil {
		p.onComplete(cam, req)
	}
}
