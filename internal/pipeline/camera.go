package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-vision/rkpipe/internal/media"
)

// State is a camera's position in the stream lifecycle. Transitions only
// move one step at a time; a failed operation leaves the state where it was.
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateAllocated
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateAllocated:
		return "allocated"
	case StateStreaming:
		return "streaming"
	default:
		return "invalid"
	}
}

// StreamConfiguration is the caller's requested capture output.
type StreamConfiguration struct {
	PixelFormat media.FourCC
	Size        media.Size
	BufferCount int
}

func (c StreamConfiguration) String() string {
	return fmt.Sprintf("%s/%s buffers=%d", c.PixelFormat, c.Size, c.BufferCount)
}

// SensorDriver is the boundary to a camera sensor driver. The driver owns
// its format tables; the pipeline only asks it to match a candidate list and
// to apply the result to its output pad.
type SensorDriver interface {
	// Entity returns the sensor's entity in the media graph.
	Entity() media.EntityID

	Name() string

	// Resolution is the sensor's native maximum frame size.
	Resolution() media.Size

	// MatchFormat picks the best supported format for the requested size
	// from a preference-ordered candidate list. The first candidate the
	// sensor supports wins.
	MatchFormat(candidates []media.MbusCode, size media.Size) (media.Format, bool)

	media.PadFormatter
}

// Sensor is a table-driven SensorDriver: a fixed list of supported media bus
// codes and a native resolution, with pad format calls delegated to the
// sensor subdevice. Real sensor drivers with mode tables can replace it
// behind the SensorDriver interface.
type Sensor struct {
	entity     media.EntityID
	name       string
	resolution media.Size
	codes      []media.MbusCode

	media.PadFormatter
}

// NewSensor builds a Sensor. codes must be in the sensor's preference order
// and is not copied.
func NewSensor(entity media.EntityID, name string, resolution media.Size, codes []media.MbusCode, subdev media.PadFormatter) *Sensor {
	return &Sensor{
		entity:       entity,
		name:         name,
		resolution:   resolution,
		codes:        codes,
		PadFormatter: subdev,
	}
}

func (s *Sensor) Entity() media.EntityID { return s.entity }

func (s *Sensor) Name() string { return s.name }

func (s *Sensor) Resolution() media.Size { return s.resolution }

// MatchFormat returns the first candidate code the sensor supports, at the
// requested size. Declared preference order breaks ties, not resolution
// distance.
func (s *Sensor) MatchFormat(candidates []media.MbusCode, size media.Size) (media.Format, bool) {
	for _, want := range candidates {
		for _, have := range s.codes {
			if want == have {
				return media.Format{Code: want, Size: size}, true
			}
		}
	}
	return media.Format{}, false
}

var _ SensorDriver = (*Sensor)(nil)

// Camera is a logical capture handle wrapping one sensor and one stream. A
// process may hold several cameras on the same pipeline, but only one can
// stream at a time. All mutable fields are guarded by the pipeline mutex.
type Camera struct {
	ID      uuid.UUID
	channel uint

	sensor SensorDriver

	state   State
	config  StreamConfiguration
	format  media.Format
	buffers []*media.Buffer

	exposure time.Duration
	gain     float64
}

func (c *Camera) Name() string { return c.sensor.Name() }

// Channel is the tuning-controller channel assigned to this camera.
func (c *Camera) Channel() uint { return c.channel }

// FrameMetadata is attached to a request when its capture completes.
type FrameMetadata struct {
	Sequence     uint32
	Timestamp    time.Time
	ExposureTime time.Duration
	AnalogueGain float64
}

// RequestStatus tracks a request through the completion protocol.
type RequestStatus int

const (
	RequestPending RequestStatus = iota
	RequestQueued
	RequestComplete
)

func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestQueued:
		return "queued"
	case RequestComplete:
		return "complete"
	default:
		return "invalid"
	}
}

// Request is one unit of capture work carrying exactly one buffer. It is
// created by the caller, owned by the pipeline from the moment its buffer is
// queued, and handed back exactly once through the completion callback.
type Request struct {
	ID       uuid.UUID
	Buffer   *media.Buffer
	Status   RequestStatus
	Metadata FrameMetadata
}

// NewRequest creates a request bound to the given buffer.
func NewRequest(b *media.Buffer) *Request {
	return &Request{ID: uuid.New(), Buffer: b}
}
