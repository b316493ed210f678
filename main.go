// rkpipe drives an RkISP1-style capture pipeline through a full session:
// link selection, format negotiation, buffer allocation, streaming and
// ordered request completion. Frame metadata is recorded to sqlite for
// offline review. Without real hardware attached it runs against the
// built-in simulated graph.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/meridian-vision/rkpipe/internal/framedb"
	"github.com/meridian-vision/rkpipe/internal/media"
	"github.com/meridian-vision/rkpipe/internal/monitor"
	"github.com/meridian-vision/rkpipe/internal/pipeline"
)

var (
	dbFile        = flag.String("db", "capture_data.db", "Path to the frame metadata database")
	migrationsDir = flag.String("migrations", "migrations", "Path to the schema migrations directory")
	frames        = flag.Int("frames", 32, "Number of frames to capture")
	size          = flag.String("size", "1920x1080", "Requested capture size, WxH")
	format        = flag.String("format", "NV12", "Requested capture pixel format")
	interval      = flag.Duration("interval", 33*time.Millisecond, "Simulated frame interval")
	listen        = flag.String("listen", "", "Serve the session monitor on this address after capture (empty: exit)")
)

func main() {
	flag.Parse()

	cfg, err := parseConfiguration(*size, *format)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	db, err := framedb.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open frame database: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("Failed to migrate frame database: %v", err)
	}

	sim := buildSimulatedDevice()

	session := &framedb.Session{
		Camera:      sim.sensorName,
		PixelFormat: cfg.PixelFormat.String(),
		Width:       int(cfg.Size.Width),
		Height:      int(cfg.Size.Height),
	}
	if err := db.InsertSession(session); err != nil {
		log.Fatalf("Failed to record session: %v", err)
	}

	recordFrame := func(cam *pipeline.Camera, req *pipeline.Request) {
		event := &framedb.FrameEvent{
			SessionID:      session.SessionID,
			Sequence:       req.Metadata.Sequence,
			TimestampNanos: req.Metadata.Timestamp.UnixNano(),
			ExposureMicros: req.Metadata.ExposureTime.Microseconds(),
			AnalogueGain:   req.Metadata.AnalogueGain,
		}
		if err := db.InsertFrame(event); err != nil {
			log.Printf("Failed to record frame %d: %v", req.Metadata.Sequence, err)
		}
	}

	pipe, err := pipeline.New(pipeline.Devices{
		Media:    sim.dev,
		Receiver: sim.receiver,
		ISP:      sim.isp,
		Video:    sim.video,
	}, pipeline.WithCompletionHandler(recordFrame))
	if err != nil {
		log.Fatalf("Failed to bind pipeline: %v", err)
	}

	cam, err := pipe.AddCamera(sim.sensor)
	if err != nil {
		log.Fatalf("Failed to register camera: %v", err)
	}

	if err := runSession(pipe, cam, cfg, sim.video, *frames, *interval); err != nil {
		log.Fatalf("Capture session failed: %v", err)
	}

	summary, err := db.Summarize(session.SessionID)
	if err != nil {
		log.Fatalf("Failed to summarise session: %v", err)
	}
	log.Printf("Session %s: %d frames, %.1f fps, interval %.2f ms (stddev %.2f, p95 %.2f)",
		summary.SessionID, summary.Frames, summary.FramesPerSecond,
		summary.MeanIntervalMs, summary.StdDevIntervalMs, summary.P95IntervalMs)

	if *listen != "" {
		mux := http.NewServeMux()
		monitor.New(db).AttachRoutes(mux)
		log.Printf("Serving session monitor on %s", *listen)
		log.Fatal(http.ListenAndServe(*listen, mux))
	}
}

// runSession walks the camera through the full lifecycle, keeping the
// hardware queue full and completing frames at the simulated interval.
func runSession(pipe *pipeline.Pipeline, cam *pipeline.Camera, cfg pipeline.StreamConfiguration, video *media.MockVideoNode, frames int, interval time.Duration) error {
	if err := pipe.Configure(cam, cfg); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	log.Printf("Camera %q configured: sensor format %s, capture %s", cam.Name(), pipe.NegotiatedFormat(cam), cfg)

	if err := pipe.Allocate(cam); err != nil {
		return fmt.Errorf("allocate: %w", err)
	}
	if err := pipe.Start(cam); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		pipe.Stop(cam)
		if err := pipe.Free(cam); err != nil {
			log.Printf("Free failed: %v", err)
		}
	}()

	pipe.SetControls(cam, 10*time.Millisecond, 2.0)

	// Prime the hardware queue with the whole pool, then recycle each
	// buffer into a fresh request as it completes.
	pool := pipe.Buffers(cam)
	for _, b := range pool {
		if err := pipe.QueueRequest(cam, pipeline.NewRequest(b)); err != nil {
			return fmt.Errorf("queue request: %w", err)
		}
	}

	queued := len(pool)
	completed := 0
	for completed < frames {
		time.Sleep(interval)
		if !video.CompleteNext() {
			return fmt.Errorf("hardware queue empty after %d frames", completed)
		}
		completed++

		if queued < frames {
			for _, b := range pool {
				if b.State != media.BufferCompleted {
					continue
				}
				b.State = media.BufferFree
				if err := pipe.QueueRequest(cam, pipeline.NewRequest(b)); err != nil {
					return fmt.Errorf("requeue request: %w", err)
				}
				queued++
				break
			}
		}
	}

	log.Printf("Captured %d frames", completed)
	return nil
}

// simulatedDevice is the in-memory rkisp1 graph the CLI runs against when no
// hardware is present: one IMX477 sensor feeding the CSI-2 receiver.
type simulatedDevice struct {
	dev        *media.Device
	receiver   *media.MockSubdevice
	isp        *media.MockSubdevice
	video      *media.MockVideoNode
	sensor     *pipeline.Sensor
	sensorName string
}

func buildSimulatedDevice() *simulatedDevice {
	dev := media.NewDevice("rkisp1", &media.MockLinkBackend{})

	sensorEntity, _ := dev.AddEntity("imx477", media.FunctionSensor, media.PadSource)
	receiverEntity, _ := dev.AddEntity(pipeline.EntityCSIReceiver, media.FunctionCSIReceiver, media.PadSink, media.PadSource)
	ispEntity, _ := dev.AddEntity(pipeline.EntityISP, media.FunctionISP, media.PadSink, media.PadSink, media.PadSource)
	captureEntity, _ := dev.AddEntity(pipeline.EntityCapture, media.FunctionVideoCapture, media.PadSink)
	dev.AddEntity(pipeline.EntityStatistics, media.FunctionStatistics, media.PadSource)
	dev.AddEntity(pipeline.EntityParameters, media.FunctionParameters, media.PadSink)

	dev.AddLink(sensorEntity.Pads[0], receiverEntity.Pads[0])
	dev.AddLink(receiverEntity.Pads[1], ispEntity.Pads[0])
	dev.AddLink(ispEntity.Pads[2], captureEntity.Pads[0])

	sensorSubdev := &media.MockSubdevice{Name: "imx477"}
	sensor := pipeline.NewSensor(sensorEntity.ID, "imx477",
		media.Size{Width: 4056, Height: 3040},
		[]media.MbusCode{media.MbusSRGGB12, media.MbusSRGGB10},
		sensorSubdev)

	return &simulatedDevice{
		dev:        dev,
		receiver:   &media.MockSubdevice{Name: pipeline.EntityCSIReceiver, PropagateTo: []int{1}},
		isp:        &media.MockSubdevice{Name: pipeline.EntityISP},
		video:      &media.MockVideoNode{},
		sensor:     sensor,
		sensorName: "imx477",
	}
}

func parseConfiguration(size, format string) (pipeline.StreamConfiguration, error) {
	var cfg pipeline.StreamConfiguration

	var w, h uint32
	if _, err := fmt.Sscanf(strings.ToLower(size), "%dx%d", &w, &h); err != nil || w == 0 || h == 0 {
		return cfg, fmt.Errorf("size must be WxH, got %q", size)
	}

	fourcc, err := media.ParseFourCC(strings.ToUpper(format))
	if err != nil {
		return cfg, err
	}

	cfg.PixelFormat = fourcc
	cfg.Size = media.Size{Width: w, Height: h}
	cfg.BufferCount = pipeline.BufferCount
	return cfg, nil
}
