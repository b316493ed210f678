package media

import "time"

// PadFormatter is the uniform format capability every subdevice stage of the
// pipeline exposes: set a format on a pad (the hardware may adjust it and
// returns what it actually accepted) and read a pad's current format. The
// sensor, CSI-2 receiver and ISP all negotiate through this one interface.
type PadFormatter interface {
	SetFormat(pad int, f Format) (Format, error)
	GetFormat(pad int) (Format, error)
}

// BufferState tracks who owns a capture buffer.
type BufferState int

const (
	// BufferFree means the buffer sits in the stream's pool.
	BufferFree BufferState = iota
	// BufferQueued means the hardware owns the buffer.
	BufferQueued
	// BufferCompleted means the hardware filled the buffer and handed it
	// back.
	BufferCompleted
)

func (s BufferState) String() string {
	switch s {
	case BufferFree:
		return "free"
	case BufferQueued:
		return "queued"
	case BufferCompleted:
		return "completed"
	default:
		return "invalid"
	}
}

// Buffer is a memory-backed capture target. Between QueueBuffer and the
// buffer-ready callback the hardware owns it exclusively.
type Buffer struct {
	Index     int
	State     BufferState
	Sequence  uint32
	Timestamp time.Time
}

// VideoNode is the capture end of the pipeline: format setting, buffer pool
// management and stream control on the video device. Commands succeed or
// fail on their immediate acknowledgement; none of them block on data flow.
// Buffer completions arrive asynchronously through the ready callback.
type VideoNode interface {
	// SetCaptureFormat applies a pixel format and size, returning what the
	// hardware actually accepted.
	SetCaptureFormat(f CaptureFormat) (CaptureFormat, error)

	// ExportBuffers reserves a pool of count buffers.
	ExportBuffers(count int) ([]*Buffer, error)

	// ReleaseBuffers frees the exported pool.
	ReleaseBuffers() error

	StreamOn() error
	StreamOff() error

	// QueueBuffer hands a buffer to the hardware for the next capture.
	QueueBuffer(b *Buffer) error

	// OnBufferReady registers the completion callback. It is invoked once
	// per filled buffer, from the driver's notification context, which may
	// run concurrently with any caller-side operation.
	OnBufferReady(fn func(b *Buffer))
}
