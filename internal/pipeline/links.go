package pipeline

import (
	"fmt"

	"github.com/meridian-vision/rkpipe/internal/media"
	"github.com/meridian-vision/rkpipe/internal/monitoring"
)

// Entity names of the fixed RkISP1 media graph.
const (
	EntityCSIReceiver = "rockchip-sy-mipi-dphy"
	EntityISP         = "rkisp1-isp-subdev"
	EntityCapture     = "rkisp1_mainpath"
	EntityStatistics  = "rkisp1-statistics"
	EntityParameters  = "rkisp1-input-params"
)

// Pad indices on the fixed entities.
const (
	receiverSinkPad   = 0
	receiverSourcePad = 1
	ispSinkPad        = 0
	ispSourcePad      = 2
	captureSinkPad    = 0
)

// initLinks resets the graph to the fixed internal routing: everything
// disabled, then receiver -> ISP and ISP -> capture enabled. Sensor links
// stay down until a camera is configured.
func (p *Pipeline) initLinks() error {
	if err := p.dev.Open(); err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrLink, p.dev.Name(), err)
	}
	defer p.dev.Close()

	if err := p.dev.DisableLinks(); err != nil {
		return fmt.Errorf("%w: %v", ErrLink, err)
	}

	for _, route := range []struct {
		sourceName string
		sourcePad  int
		sinkName   string
		sinkPad    int
	}{
		{EntityCSIReceiver, receiverSourcePad, EntityISP, ispSinkPad},
		{EntityISP, ispSourcePad, EntityCapture, captureSinkPad},
	} {
		link := p.dev.LinkBetween(route.sourceName, route.sourcePad, route.sinkName, route.sinkPad)
		if link == nil {
			return fmt.Errorf("%w: no link from %s:%d to %s:%d", ErrLink,
				route.sourceName, route.sourcePad, route.sinkName, route.sinkPad)
		}
		if err := p.dev.SetupLink(link, true); err != nil {
			return fmt.Errorf("%w: enable %s:%d -> %s:%d: %v", ErrLink,
				route.sourceName, route.sourcePad, route.sinkName, route.sinkPad, err)
		}
	}

	return nil
}

// selectSensor steers the graph toward one sensor: the link from the chosen
// sensor into the CSI-2 receiver goes up, every sibling link goes down.
// Links already in the desired state are skipped, so a repeated run issues
// no changes. The first failed change aborts the rest; the graph may be left
// mixed, which is acceptable because the next configure re-runs selection
// before streaming.
func (p *Pipeline) selectSensor(sensor SensorDriver) error {
	receiver := p.dev.EntityByName(EntityCSIReceiver)
	pad := receiver.PadByIndex(receiverSinkPad)
	if pad == nil {
		return fmt.Errorf("%w: %s has no sink pad", ErrLink, EntityCSIReceiver)
	}

	if err := p.dev.Open(); err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrLink, p.dev.Name(), err)
	}
	defer p.dev.Close()

	for _, link := range p.dev.LinksOf(*pad) {
		enable := link.Source.Entity == sensor.Entity()
		if link.Enabled == enable {
			continue
		}

		source := p.dev.Entity(link.Source.Entity)
		action := "Disabling"
		if enable {
			action = "Enabling"
		}
		monitoring.Logf("%s link from sensor %q to CSI-2 receiver", action, source.Name)

		if err := p.dev.SetupLink(link, enable); err != nil {
			return fmt.Errorf("%w: set link from %q enabled=%v: %v", ErrLink, source.Name, enable, err)
		}
	}

	return nil
}

// sensorLink returns the receiver sink-pad link whose source is the given
// sensor entity, or nil.
func (p *Pipeline) sensorLink(entity media.EntityID) *media.Link {
	receiver := p.dev.EntityByName(EntityCSIReceiver)
	pad := receiver.PadByIndex(receiverSinkPad)
	if pad == nil {
		return nil
	}
	for _, link := range p.dev.LinksOf(*pad) {
		if link.Source.Entity == entity {
			return link
		}
	}
	return nil
}
