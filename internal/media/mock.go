package media

import (
	"sync"
	"time"
)

// MockLinkBackend implements LinkBackend with call recording and injectable
// errors, for tests and for driving the pipeline without hardware.
type MockLinkBackend struct {
	mu sync.Mutex

	// SetupErr is returned by every SetupLink call if set.
	SetupErr error

	// Calls records each SetupLink invocation in order.
	Calls []LinkChange
}

// LinkChange records one SetupLink call.
type LinkChange struct {
	Link    LinkID
	Enabled bool
}

func (m *MockLinkBackend) SetupLink(link Link, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetupErr != nil {
		return m.SetupErr
	}
	m.Calls = append(m.Calls, LinkChange{Link: link.ID, Enabled: enabled})
	return nil
}

// CallCount returns the number of accepted SetupLink calls.
func (m *MockLinkBackend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears the recorded calls.
func (m *MockLinkBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// MockSubdevice implements PadFormatter with configurable format adjustment
// and injectable errors.
type MockSubdevice struct {
	mu sync.Mutex

	// Name labels the subdevice in test failures.
	Name string

	// AdjustFormat, if set, transforms a requested format into the format
	// the hardware "actually" accepts.
	AdjustFormat func(pad int, f Format) Format

	// PropagateTo lists pads that mirror an accepted format, the way a
	// subdevice routes its sink format to its source pad.
	PropagateTo []int

	// SetFormatErr and GetFormatErr are returned by the respective calls
	// if set.
	SetFormatErr error
	GetFormatErr error

	// SetCalls and GetCalls count invocations.
	SetCalls int
	GetCalls int

	formats map[int]Format
}

func (m *MockSubdevice) SetFormat(pad int, f Format) (Format, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCalls++
	if m.SetFormatErr != nil {
		return Format{}, m.SetFormatErr
	}
	accepted := f
	if m.AdjustFormat != nil {
		accepted = m.AdjustFormat(pad, f)
	}
	if m.formats == nil {
		m.formats = make(map[int]Format)
	}
	m.formats[pad] = accepted
	for _, p := range m.PropagateTo {
		m.formats[p] = accepted
	}
	return accepted, nil
}

func (m *MockSubdevice) GetFormat(pad int) (Format, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if m.GetFormatErr != nil {
		return Format{}, m.GetFormatErr
	}
	return m.formats[pad], nil
}

// MockVideoNode implements VideoNode against an in-memory buffer queue.
// CompleteNext simulates the hardware filling the oldest queued buffer and
// firing the ready callback, from whatever goroutine the test chooses.
type MockVideoNode struct {
	mu sync.Mutex

	// AdjustCapture, if set, transforms the requested capture format into
	// the accepted one.
	AdjustCapture func(f CaptureFormat) CaptureFormat

	SetFormatErr error
	ExportErr    error
	StreamOnErr  error
	StreamOffErr error
	QueueErr     error

	SetFormatCalls int
	ExportCalls    int
	ReleaseCalls   int
	StreamOnCalls  int
	StreamOffCalls int
	QueueCalls     int

	Format    CaptureFormat
	Streaming bool
	Exported  []*Buffer

	queued   []*Buffer
	sequence uint32
	ready    func(b *Buffer)
}

func (m *MockVideoNode) SetCaptureFormat(f CaptureFormat) (CaptureFormat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetFormatCalls++
	if m.SetFormatErr != nil {
		return CaptureFormat{}, m.SetFormatErr
	}
	accepted := f
	if m.AdjustCapture != nil {
		accepted = m.AdjustCapture(f)
	}
	m.Format = accepted
	return accepted, nil
}

func (m *MockVideoNode) ExportBuffers(count int) ([]*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExportCalls++
	if m.ExportErr != nil {
		return nil, m.ExportErr
	}
	m.Exported = make([]*Buffer, count)
	for i := range m.Exported {
		m.Exported[i] = &Buffer{Index: i}
	}
	return m.Exported, nil
}

func (m *MockVideoNode) ReleaseBuffers() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReleaseCalls++
	m.Exported = nil
	m.queued = nil
	return nil
}

func (m *MockVideoNode) StreamOn() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamOnCalls++
	if m.StreamOnErr != nil {
		return m.StreamOnErr
	}
	m.Streaming = true
	return nil
}

func (m *MockVideoNode) StreamOff() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamOffCalls++
	if m.StreamOffErr != nil {
		return m.StreamOffErr
	}
	m.Streaming = false
	m.queued = nil
	return nil
}

func (m *MockVideoNode) QueueBuffer(b *Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueueCalls++
	if m.QueueErr != nil {
		return m.QueueErr
	}
	m.queued = append(m.queued, b)
	return nil
}

func (m *MockVideoNode) OnBufferReady(fn func(b *Buffer)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = fn
}

// QueuedCount returns the number of buffers currently owned by the mock
// hardware.
func (m *MockVideoNode) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued)
}

// CompleteNext pops the oldest queued buffer, stamps it and delivers it to
// the ready callback. It reports whether a buffer was delivered.
func (m *MockVideoNode) CompleteNext() bool {
	m.mu.Lock()
	if len(m.queued) == 0 || m.ready == nil {
		m.mu.Unlock()
		return false
	}
	b := m.queued[0]
	m.queued = m.queued[1:]
	m.sequence++
	b.Sequence = m.sequence
	b.Timestamp = time.Now()
	ready := m.ready
	m.mu.Unlock()

	ready(b)
	return true
}

// FireReady delivers an arbitrary buffer to the ready callback without it
// having been queued. Tests use it to provoke protocol violations.
func (m *MockVideoNode) FireReady(b *Buffer) {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()
	if ready != nil {
		ready(b)
	}
}
