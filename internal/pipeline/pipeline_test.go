package pipeline

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/meridian-vision/rkpipe/internal/ipa"
	"github.com/meridian-vision/rkpipe/internal/media"
	"github.com/meridian-vision/rkpipe/internal/monitoring"
	"github.com/meridian-vision/rkpipe/internal/testutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// rig is a full test pipeline over mock hardware: two sensors on the CSI-2
// receiver, the fixed internal entities, and call-recording backends.
type rig struct {
	dev     *media.Device
	backend *media.MockLinkBackend

	receiver *media.MockSubdevice
	isp      *media.MockSubdevice
	video    *media.MockVideoNode

	sensorMain *Sensor
	sensorAlt  *Sensor
	subdevMain *media.MockSubdevice
	subdevAlt  *media.MockSubdevice

	pipe    *Pipeline
	camMain *Camera
	camAlt  *Camera
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()

	r := &rig{
		backend:  &media.MockLinkBackend{},
		receiver: &media.MockSubdevice{Name: EntityCSIReceiver, PropagateTo: []int{receiverSourcePad}},
		isp:      &media.MockSubdevice{Name: EntityISP},
		video:    &media.MockVideoNode{},
	}
	r.dev = media.NewDevice("rkisp1", r.backend)

	mainEntity, err := r.dev.AddEntity("imx477", media.FunctionSensor, media.PadSource)
	testutil.AssertNoError(t, err)
	altEntity, err := r.dev.AddEntity("imx219", media.FunctionSensor, media.PadSource)
	testutil.AssertNoError(t, err)

	receiverEntity, err := r.dev.AddEntity(EntityCSIReceiver, media.FunctionCSIReceiver, media.PadSink, media.PadSource)
	testutil.AssertNoError(t, err)
	ispEntity, err := r.dev.AddEntity(EntityISP, media.FunctionISP, media.PadSink, media.PadSink, media.PadSource)
	testutil.AssertNoError(t, err)
	captureEntity, err := r.dev.AddEntity(EntityCapture, media.FunctionVideoCapture, media.PadSink)
	testutil.AssertNoError(t, err)
	_, err = r.dev.AddEntity(EntityStatistics, media.FunctionStatistics, media.PadSource)
	testutil.AssertNoError(t, err)
	_, err = r.dev.AddEntity(EntityParameters, media.FunctionParameters, media.PadSink)
	testutil.AssertNoError(t, err)

	_, err = r.dev.AddLink(mainEntity.Pads[0], receiverEntity.Pads[0])
	testutil.AssertNoError(t, err)
	_, err = r.dev.AddLink(altEntity.Pads[0], receiverEntity.Pads[0])
	testutil.AssertNoError(t, err)
	_, err = r.dev.AddLink(receiverEntity.Pads[1], ispEntity.Pads[0])
	testutil.AssertNoError(t, err)
	_, err = r.dev.AddLink(ispEntity.Pads[2], captureEntity.Pads[0])
	testutil.AssertNoError(t, err)

	r.subdevMain = &media.MockSubdevice{Name: "imx477"}
	r.sensorMain = NewSensor(mainEntity.ID, "imx477",
		media.Size{Width: 4056, Height: 3040},
		[]media.MbusCode{media.MbusSRGGB12, media.MbusSRGGB10, media.MbusSRGGB8},
		r.subdevMain)

	r.subdevAlt = &media.MockSubdevice{Name: "imx219"}
	r.sensorAlt = NewSensor(altEntity.ID, "imx219",
		media.Size{Width: 3280, Height: 2464},
		[]media.MbusCode{media.MbusSRGGB10},
		r.subdevAlt)

	r.pipe, err = New(Devices{
		Media:    r.dev,
		Receiver: r.receiver,
		ISP:      r.isp,
		Video:    r.video,
	}, opts...)
	testutil.AssertNoError(t, err)

	r.camMain, err = r.pipe.AddCamera(r.sensorMain)
	testutil.AssertNoError(t, err)
	r.camAlt, err = r.pipe.AddCamera(r.sensorAlt)
	testutil.AssertNoError(t, err)

	return r
}

func (r *rig) config() StreamConfiguration {
	return StreamConfiguration{
		PixelFormat: media.FourCCNV12,
		Size:        media.Size{Width: 1920, Height: 1080},
		BufferCount: BufferCount,
	}
}

func TestNewRequiresFixedEntities(t *testing.T) {
	dev := media.NewDevice("rkisp1", nil)
	_, err := New(Devices{
		Media:    dev,
		Receiver: &media.MockSubdevice{},
		ISP:      &media.MockSubdevice{},
		Video:    &media.MockVideoNode{},
	})
	testutil.AssertError(t, err)
}

func TestNewEnablesInternalLinks(t *testing.T) {
	r := newRig(t)

	if link := r.dev.LinkBetween(EntityCSIReceiver, receiverSourcePad, EntityISP, ispSinkPad); link == nil || !link.Enabled {
		t.Error("receiver -> ISP link not enabled after New")
	}
	if link := r.dev.LinkBetween(EntityISP, ispSourcePad, EntityCapture, captureSinkPad); link == nil || !link.Enabled {
		t.Error("ISP -> capture link not enabled after New")
	}
}

func TestDefaultConfiguration(t *testing.T) {
	r := newRig(t)

	cfg := r.pipe.DefaultConfiguration(r.camMain)
	if cfg.PixelFormat != media.FourCCNV12 {
		t.Errorf("default pixel format = %s, want NV12", cfg.PixelFormat)
	}
	if cfg.Size != r.sensorMain.Resolution() {
		t.Errorf("default size = %s, want sensor resolution %s", cfg.Size, r.sensorMain.Resolution())
	}
	if cfg.BufferCount != BufferCount {
		t.Errorf("default buffer count = %d, want %d", cfg.BufferCount, BufferCount)
	}
}

func TestLifecycleOrdering(t *testing.T) {
	r := newRig(t)

	// Allocate before configure is illegal.
	err := r.pipe.Allocate(r.camMain)
	testutil.AssertErrorIs(t, err, ErrProtocolViolation)
	if got := r.pipe.State(r.camMain); got != StateUnconfigured {
		t.Errorf("state after failed allocate = %s, want unconfigured", got)
	}

	// Queueing before streaming is illegal.
	err = r.pipe.QueueRequest(r.camMain, NewRequest(&media.Buffer{}))
	testutil.AssertErrorIs(t, err, ErrProtocolViolation)

	testutil.AssertNoError(t, r.pipe.Configure(r.camMain, r.config()))
	testutil.AssertNoError(t, r.pipe.Allocate(r.camMain))

	// Start from Allocated only.
	err = r.pipe.Configure(r.camMain, r.config())
	testutil.AssertErrorIs(t, err, ErrProtocolViolation)

	testutil.AssertNoError(t, r.pipe.Start(r.camMain))
	if got := r.pipe.State(r.camMain); got != StateStreaming {
		t.Fatalf("state after start = %s, want streaming", got)
	}

	// stop -> free -> configure returns to a working Configured state.
	r.pipe.Stop(r.camMain)
	if got := r.pipe.State(r.camMain); got != StateAllocated {
		t.Fatalf("state after stop = %s, want allocated", got)
	}
	testutil.AssertNoError(t, r.pipe.Free(r.camMain))
	testutil.AssertNoError(t, r.pipe.Configure(r.camMain, r.config()))
	if got := r.pipe.State(r.camMain); got != StateConfigured {
		t.Errorf("state after reconfigure = %s, want configured", got)
	}
}

func TestStartEnforcesSingleOccupant(t *testing.T) {
	r := newRig(t)

	testutil.AssertNoError(t, r.pipe.Configure(r.camAlt, r.config()))
	testutil.AssertNoError(t, r.pipe.Allocate(r.camAlt))

	testutil.AssertNoError(t, r.pipe.Configure(r.camMain, r.config()))
	testutil.AssertNoError(t, r.pipe.Allocate(r.camMain))
	testutil.AssertNoError(t, r.pipe.Start(r.camMain))

	// Starting a second camera while one streams is rejected, not queued.
	err := r.pipe.Start(r.camAlt)
	testutil.AssertErrorIs(t, err, ErrPipelineBusy)

	// So is reconfiguring around the occupant.
	err = r.pipe.Configure(r.camAlt, r.config())
	testutil.AssertErrorIs(t, err, ErrPipelineBusy)

	// Configuring the occupant itself is not "busy": the caller broke the
	// lifecycle on its own camera.
	err = r.pipe.Configure(r.camMain, r.config())
	testutil.AssertErrorIs(t, err, ErrProtocolViolation)

	r.pipe.Stop(r.camMain)

	testutil.AssertNoError(t, r.pipe.Start(r.camAlt))
	r.pipe.Stop(r.camAlt)
}

func TestStartFailureNeverMarksOccupant(t *testing.T) {
	r := newRig(t)

	testutil.AssertNoError(t, r.pipe.Configure(r.camMain, r.config()))
	testutil.AssertNoError(t, r.pipe.Allocate(r.camMain))

	r.video.StreamOnErr = errors.New("EIO")
	err := r.pipe.Start(r.camMain)
	testutil.AssertErrorIs(t, err, ErrHardwareCommand)
	if got := r.pipe.State(r.camMain); got != StateAllocated {
		t.Errorf("state after failed start = %s, want allocated", got)
	}

	// The pipeline is not occupied: the other camera can configure.
	testutil.AssertNoError(t, r.pipe.Configure(r.camAlt, r.config()))
}

func TestStopSurvivesHardwareError(t *testing.T) {
	r := newRig(t)

	testutil.AssertNoError(t, r.pipe.Configure(r.camMain, r.config()))
	testutil.AssertNoError(t, r.pipe.Allocate(r.camMain))
	testutil.AssertNoError(t, r.pipe.Start(r.camMain))

	r.video.StreamOffErr = errors.New("EIO")
	r.pipe.Stop(r.camMain)

	if got := r.pipe.State(r.camMain); got != StateAllocated {
		t.Errorf("state after stop with hardware error = %s, want allocated", got)
	}
	// Occupant cleared: another camera may proceed.
	testutil.AssertNoError(t, r.pipe.Configure(r.camAlt, r.config()))
}

func TestAllocateExportsFixedPool(t *testing.T) {
	r := newRig(t)

	testutil.AssertNoError(t, r.pipe.Configure(r.camMain, r.config()))
	testutil.AssertNoError(t, r.pipe.Allocate(r.camMain))

	buffers := r.pipe.Buffers(r.camMain)
	if len(buffers) != BufferCount {
		t.Fatalf("exported %d buffers, want %d", len(buffers), BufferCount)
	}
	for i, b := range buffers {
		if b.State != media.BufferFree {
			t.Errorf("buffer %d state = %s, want free", i, b.State)
		}
	}

	testutil.AssertNoError(t, r.pipe.Free(r.camMain))
	if r.pipe.Buffers(r.camMain) != nil {
		t.Error("buffers not released by Free")
	}
	if r.video.ReleaseCalls != 1 {
		t.Errorf("ReleaseBuffers calls = %d, want 1", r.video.ReleaseCalls)
	}
}

func TestCompletionsDeliveredInSubmissionOrder(t *testing.T) {
	var completed []*Request
	r := newRig(t, WithCompletionHandler(func(cam *Camera, req *Request) {
		completed = append(completed, req)
	}))

	testutil.AssertNoError(t, r.pipe.Configure(r.camMain, r.config()))
	testutil.AssertNoError(t, r.pipe.Allocate(r.camMain))
	testutil.AssertNoError(t, r.pipe.Start(r.camMain))

	buffers := r.pipe.Buffers(r.camMain)
	var submitted []*Request
	for _, b := range buffers {
		req := NewRequest(b)
		testutil.AssertNoError(t, r.pipe.QueueRequest(r.camMain, req))
		submitted = append(submitted, req)
	}

	for r.video.CompleteNext() {
	}

	if len(completed) != len(submitted) {
		t.Fatalf("completed %d requests, want %d", len(completed), len(submitted))
	}
	for i := range submitted {
		if completed[i] != submitted[i] {
			t.Errorf("completion %d = request %s, want %s", i, completed[i].ID, submitted[i].ID)
		}
		if completed[i].Status != RequestComplete {
			t.Errorf("completion %d status = %s, want complete", i, completed[i].Status)
		}
	}

	// Sequences are monotonic in completion order.
	for i := 1; i < len(completed); i++ {
		if completed[i].Metadata.Sequence <= completed[i-1].Metadata.Sequence {
			t.Errorf("sequence not monotonic at %d: %d then %d",
				i, completed[i-1].Metadata.Sequence, completed[i].Metadata.Sequence)
		}
	}
}

func TestQueueRequestOnlyQueuesAcceptedBuffers(t *testing.T) {
	r := newRig(t)

	testutil.AssertNoError(t, r.pipe.Configure(r.camMain, r.config()))
	testutil.AssertNoError(t, r.pipe.Allocate(r.camMain))
	testutil.AssertNoError(t, r.pipe.Start(r.camMain))

	r.video.QueueErr = errors.New("ENOMEM")
	buffers := r.pipe.Buffers(r.camMain)
	err := r.pipe.QueueRequest(r.camMain, NewRequest(buffers[0]))
	testutil.AssertErrorIs(t, err, ErrHardwareCommand)

	// The rejected request never entered the in-flight queue: a later
	// completion for a different request still matches FIFO.
	r.video.QueueErr = nil
	req := NewRequest(buffers[1])
	testutil.AssertNoError(t, r.pipe.QueueRequest(r.camMain, req))

	var got *Request
	r.pipe.onComplete = func(cam *Camera, done *Request) { got = done }
	if !r.video.CompleteNext() {
		t.Fatal("no buffer to complete")
	}
	if got != req {
		t.Error("completion did not match the only queued request")
	}
}

func TestCompletionWithNothingInFlightPanics(t *testing.T) {
	r := newRig(t)

	testutil.AssertNoError(t, r.pipe.Configure(r.camMain, r.config()))
	testutil.AssertNoError(t, r.pipe.Allocate(r.camMain))
	testutil.AssertNoError(t, r.pipe.Start(r.camMain))

	defer func() {
		v := recover()
		if v == nil {
			t.Fatal("expected panic on completion with empty in-flight queue")
		}
		err, ok := v.(error)
		if !ok || !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("panic value = %v, want ErrProtocolViolation", v)
		}
	}()
	r.video.FireReady(&media.Buffer{Index: 0})
}

func TestCompletionWithNoActiveCameraPanics(t *testing.T) {
	r := newRig(t)

	defer func() {
		v := recover()
		if v == nil {
			t.Fatal("expected panic on completion with no active camera")
		}
		err, ok := v.(error)
		if !ok || !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("panic value = %v, want ErrProtocolViolation", v)
		}
	}()
	r.video.FireReady(&media.Buffer{Index: 0})
}

func TestStopDropsInFlightRequests(t *testing.T) {
	var completed int
	r := newRig(t, WithCompletionHandler(func(*Camera, *Request) { completed++ }))

	testutil.AssertNoError(t, r.pipe.Configure(r.camMain, r.config()))
	testutil.AssertNoError(t, r.pipe.Allocate(r.camMain))
	testutil.AssertNoError(t, r.pipe.Start(r.camMain))

	buffers := r.pipe.Buffers(r.camMain)
	testutil.AssertNoError(t, r.pipe.QueueRequest(r.camMain, NewRequest(buffers[0])))
	testutil.AssertNoError(t, r.pipe.QueueRequest(r.camMain, NewRequest(buffers[1])))

	r.pipe.Stop(r.camMain)

	if completed != 0 {
		t.Errorf("dropped requests produced %d completions, want 0", completed)
	}
	if r.pipe.queue.Len() != 0 {
		t.Errorf("in-flight queue length after stop = %d, want 0", r.pipe.queue.Len())
	}
	for i, b := range buffers[:2] {
		if b.State != media.BufferFree {
			t.Errorf("buffer %d state after stop = %s, want free", i, b.State)
		}
	}
}

func TestSetControlsReflectedInMetadata(t *testing.T) {
	var got *Request
	r := newRig(t, WithCompletionHandler(func(cam *Camera, req *Request) { got = req }))

	testutil.AssertNoError(t, r.pipe.Configure(r.camMain, r.config()))
	testutil.AssertNoError(t, r.pipe.Allocate(r.camMain))
	testutil.AssertNoError(t, r.pipe.Start(r.camMain))

	r.pipe.SetControls(r.camMain, 8*time.Millisecond, 4.0)

	buffers := r.pipe.Buffers(r.camMain)
	testutil.AssertNoError(t, r.pipe.QueueRequest(r.camMain, NewRequest(buffers[0])))
	if !r.video.CompleteNext() {
		t.Fatal("no buffer to complete")
	}

	if got == nil {
		t.Fatal("no completion delivered")
	}
	if got.Metadata.ExposureTime != 8*time.Millisecond {
		t.Errorf("metadata exposure = %s, want 8ms", got.Metadata.ExposureTime)
	}
	if got.Metadata.AnalogueGain != 4.0 {
		t.Errorf("metadata gain = %v, want 4.0", got.Metadata.AnalogueGain)
	}
}

func TestSetControlRoutesByChannel(t *testing.T) {
	var got *Request
	r := newRig(t, WithCompletionHandler(func(cam *Camera, req *Request) { got = req }))

	testutil.AssertNoError(t, r.pipe.Configure(r.camMain, r.config()))
	testutil.AssertNoError(t, r.pipe.Allocate(r.camMain))
	testutil.AssertNoError(t, r.pipe.Start(r.camMain))

	// A controller adjusts exposure and gain through the channel it was
	// assigned, without holding a camera handle.
	channel := r.camMain.Channel()
	testutil.AssertNoError(t, r.pipe.SetControl(channel, ipa.ControlExposure, 8000))
	testutil.AssertNoError(t, r.pipe.SetControl(channel, ipa.ControlAnalogueGain, 4.0))

	buffers := r.pipe.Buffers(r.camMain)
	testutil.AssertNoError(t, r.pipe.QueueRequest(r.camMain, NewRequest(buffers[0])))
	if !r.video.CompleteNext() {
		t.Fatal("no buffer to complete")
	}

	if got == nil {
		t.Fatal("no completion delivered")
	}
	if got.Metadata.ExposureTime != 8*time.Millisecond {
		t.Errorf("metadata exposure = %s, want 8ms", got.Metadata.ExposureTime)
	}
	if got.Metadata.AnalogueGain != 4.0 {
		t.Errorf("metadata gain = %v, want 4.0", got.Metadata.AnalogueGain)
	}

	// Unknown channels are rejected, not silently ignored.
	err := r.pipe.SetControl(99, ipa.ControlExposure, 1000)
	testutil.AssertErrorIs(t, err, ErrValidation)
}
