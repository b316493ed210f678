// Package media models a media controller device: a graph of entities
// connected by links between pads, with per-pad format negotiation. It is the
// boundary the pipeline driver sits on top of; the actual ioctl surface is
// supplied by a backend implementation (or a mock in tests).
package media

import (
	"errors"
	"fmt"
	"sync"
)

// EntityID identifies an entity within one Device. IDs are stable for the
// lifetime of the device; code holds IDs rather than entity pointers so a
// link toggle racing a teardown never chases a dangling reference.
type EntityID uint32

// LinkID identifies a link within one Device.
type LinkID uint32

// Function describes the role an entity plays in the pipeline graph.
type Function int

const (
	FunctionUnknown Function = iota
	FunctionSensor
	FunctionCSIReceiver
	FunctionISP
	FunctionVideoCapture
	FunctionStatistics
	FunctionParameters
)

func (f Function) String() string {
	switch f {
	case FunctionSensor:
		return "sensor"
	case FunctionCSIReceiver:
		return "csi-receiver"
	case FunctionISP:
		return "isp"
	case FunctionVideoCapture:
		return "video-capture"
	case FunctionStatistics:
		return "statistics"
	case FunctionParameters:
		return "parameters"
	default:
		return "unknown"
	}
}

// PadFlags marks a pad as a sink (input) or source (output).
type PadFlags uint32

const (
	PadSink PadFlags = 1 << iota
	PadSource
)

// Pad is a typed port on an entity, addressed by entity ID and pad index.
type Pad struct {
	Entity EntityID
	Index  int
	Flags  PadFlags
}

// Link is a directed connection between a source pad and a sink pad.
type Link struct {
	ID      LinkID
	Source  Pad
	Sink    Pad
	Enabled bool
}

// Entity is a functional block in the media graph.
type Entity struct {
	ID       EntityID
	Name     string
	Function Function
	Pads     []Pad
}

// PadByIndex returns the entity's pad at the given index, or nil.
func (e *Entity) PadByIndex(index int) *Pad {
	if index < 0 || index >= len(e.Pads) {
		return nil
	}
	return &e.Pads[index]
}

// LinkBackend applies link state changes to the underlying hardware.
type LinkBackend interface {
	SetupLink(link Link, enabled bool) error
}

// nopLinkBackend accepts every change. Used when no backend is supplied,
// e.g. for graphs built purely in memory.
type nopLinkBackend struct{}

func (nopLinkBackend) SetupLink(Link, bool) error { return nil }

var (
	// ErrDeviceBusy is returned by Open when the device is already held in
	// exclusive configuration mode.
	ErrDeviceBusy = errors.New("media device busy")

	// ErrDeviceClosed is returned by mutating operations outside an
	// Open/Close window.
	ErrDeviceClosed = errors.New("media device not open")
)

// Device is an in-memory model of one media controller device. All graph
// mutation happens between Open and Close; reads are safe at any time once
// the graph is built.
type Device struct {
	name    string
	backend LinkBackend

	mu       sync.Mutex
	open     bool
	entities map[EntityID]*Entity
	byName   map[string]EntityID
	links    []*Link

	nextEntity EntityID
	nextLink   LinkID
}

// NewDevice creates an empty media device model. A nil backend accepts all
// link changes without touching hardware.
func NewDevice(name string, backend LinkBackend) *Device {
	if backend == nil {
		backend = nopLinkBackend{}
	}
	return &Device{
		name:     name,
		backend:  backend,
		entities: make(map[EntityID]*Entity),
		byName:   make(map[string]EntityID),
	}
}

// Name returns the device name, e.g. "rkisp1".
func (d *Device) Name() string { return d.name }

// AddEntity registers an entity with one pad per flag set given, in order.
// Pad 0 gets the first flags value. Used by device discovery and by tests.
func (d *Device) AddEntity(name string, function Function, padFlags ...PadFlags) (*Entity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byName[name]; exists {
		return nil, fmt.Errorf("duplicate entity name %q", name)
	}

	d.nextEntity++
	e := &Entity{
		ID:       d.nextEntity,
		Name:     name,
		Function: function,
	}
	for i, flags := range padFlags {
		e.Pads = append(e.Pads, Pad{Entity: e.ID, Index: i, Flags: flags})
	}
	d.entities[e.ID] = e
	d.byName[name] = e.ID
	return e, nil
}

// AddLink connects a source pad to a sink pad. Links start disabled.
func (d *Device) AddLink(source, sink Pad) (*Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if source.Flags&PadSource == 0 {
		return nil, fmt.Errorf("link source %d:%d is not a source pad", source.Entity, source.Index)
	}
	if sink.Flags&PadSink == 0 {
		return nil, fmt.Errorf("link sink %d:%d is not a sink pad", sink.Entity, sink.Index)
	}

	d.nextLink++
	l := &Link{ID: d.nextLink, Source: source, Sink: sink}
	d.links = append(d.links, l)
	return l, nil
}

// Entity returns the entity with the given ID, or nil.
func (d *Device) Entity(id EntityID) *Entity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entities[id]
}

// EntityByName returns the named entity, or nil.
func (d *Device) EntityByName(name string) *Entity {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byName[name]
	if !ok {
		return nil
	}
	return d.entities[id]
}

// Open takes the device's exclusive configuration mode. Every Open must be
// paired with a Close on all exit paths.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return fmt.Errorf("%w: %s", ErrDeviceBusy, d.name)
	}
	d.open = true
	return nil
}

// Close releases the exclusive configuration mode.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
}

// LinksOf returns the links whose sink is the given pad, in creation order.
// The order is stable so callers can rely on deterministic enumeration.
func (d *Device) LinksOf(sink Pad) []*Link {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*Link
	for _, l := range d.links {
		if l.Sink.Entity == sink.Entity && l.Sink.Index == sink.Index {
			out = append(out, l)
		}
	}
	return out
}

// LinkBetween returns the link from source entity/pad to sink entity/pad,
// or nil if no such link exists.
func (d *Device) LinkBetween(sourceName string, sourcePad int, sinkName string, sinkPad int) *Link {
	d.mu.Lock()
	defer d.mu.Unlock()

	src, ok := d.byName[sourceName]
	if !ok {
		return nil
	}
	dst, ok := d.byName[sinkName]
	if !ok {
		return nil
	}
	for _, l := range d.links {
		if l.Source.Entity == src && l.Source.Index == sourcePad &&
			l.Sink.Entity == dst && l.Sink.Index == sinkPad {
			return l
		}
	}
	return nil
}

// SetupLink enables or disables a link through the backend. The device must
// be open. The in-memory state is only updated when the backend accepts the
// change.
func (d *Device) SetupLink(link *Link, enabled bool) error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceClosed, d.name)
	}
	d.mu.Unlock()

	if err := d.backend.SetupLink(*link, enabled); err != nil {
		return err
	}

	d.mu.Lock()
	link.Enabled = enabled
	d.mu.Unlock()
	return nil
}

// DisableLinks disables every link in the graph. Used to bring the device to
// a known state before enabling the fixed pipeline links.
func (d *Device) DisableLinks() error {
	d.mu.Lock()
	links := make([]*Link, len(d.links))
	copy(links, d.links)
	d.mu.Unlock()

	for _, l := range links {
		if !l.Enabled {
			continue
		}
		if err := d.SetupLink(l, false); err != nil {
			return fmt.Errorf("disable link %d: %w", l.ID, err)
		}
	}
	return nil
}
