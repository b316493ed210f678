package pipeline

import (
	"fmt"

	"github.com/meridian-vision/rkpipe/internal/media"
	"github.com/meridian-vision/rkpipe/internal/monitoring"
)

// sensorRawCandidates is the raw Bayer candidate list offered to the sensor,
// widest sample depth first. The first code the sensor supports wins.
var sensorRawCandidates = []media.MbusCode{
	media.MbusSBGGR12,
	media.MbusSGBRG12,
	media.MbusSGRBG12,
	media.MbusSRGGB12,
	media.MbusSBGGR10,
	media.MbusSGBRG10,
	media.MbusSGRBG10,
	media.MbusSRGGB10,
	media.MbusSBGGR8,
	media.MbusSGBRG8,
	media.MbusSGRBG8,
	media.MbusSRGGB8,
}

// sensorOutputPad is the sensor subdevice's single source pad.
const sensorOutputPad = 0

// negotiate pushes one format through the whole chain: sensor output, CSI-2
// receiver, ISP input, then the converted pixel format on the capture node.
// The requested size was validated against the sensor's resolution before
// the chain starts. Each step feeds the next; the first failure stops the
// chain with that stage's error and no rollback, since the next configure
// re-runs the chain from the top. The capture node's accepted format must
// match the request exactly or the configuration is rejected, never
// silently approximated.
func (p *Pipeline) negotiate(sensor SensorDriver, cfg StreamConfiguration) (media.Format, error) {
	format, ok := sensor.MatchFormat(sensorRawCandidates, cfg.Size)
	if !ok {
		return media.Format{}, fmt.Errorf("%w: sensor %q supports none of the candidate raw encodings",
			ErrNegotiation, sensor.Name())
	}

	monitoring.Logf("Configuring sensor with %s", format)

	requested := format
	format, err := sensor.SetFormat(sensorOutputPad, format)
	if err != nil {
		return media.Format{}, fmt.Errorf("%w: sensor %q rejected %s: %v",
			ErrNegotiation, sensor.Name(), requested, err)
	}

	monitoring.Logf("Sensor configured with %s", format)

	if _, err := p.receiver.SetFormat(receiverSinkPad, format); err != nil {
		return media.Format{}, fmt.Errorf("%w: CSI-2 receiver rejected %s: %v",
			ErrNegotiation, format, err)
	}

	// The receiver may adjust the format on its way through, e.g. for bus
	// width changes. Read back what comes out of its source pad.
	format, err = p.receiver.GetFormat(receiverSourcePad)
	if err != nil {
		return media.Format{}, fmt.Errorf("%w: read CSI-2 receiver output format: %v",
			ErrNegotiation, err)
	}

	if _, err := p.isp.SetFormat(ispSinkPad, format); err != nil {
		return media.Format{}, fmt.Errorf("%w: ISP rejected %s: %v", ErrNegotiation, format, err)
	}

	want := media.CaptureFormat{
		PixelFormat: cfg.PixelFormat,
		Size:        cfg.Size,
		Planes:      capturePlanes,
	}
	accepted, err := p.video.SetCaptureFormat(want)
	if err != nil {
		return media.Format{}, fmt.Errorf("%w: capture node rejected %s: %v", ErrNegotiation, want, err)
	}

	if accepted.Size != cfg.Size || accepted.PixelFormat != cfg.PixelFormat {
		return media.Format{}, fmt.Errorf("%w: unable to configure capture in %s, hardware accepted %s",
			ErrNegotiation, want, accepted)
	}

	return format, nil
}
