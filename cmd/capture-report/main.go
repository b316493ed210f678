// capture-report prints timing statistics for recorded capture sessions and
// optionally renders a frame-interval chart to an HTML file.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/meridian-vision/rkpipe/internal/framedb"
	"github.com/meridian-vision/rkpipe/internal/monitor"
)

var (
	dbFile    = flag.String("db", "capture_data.db", "Path to the frame metadata database")
	sessionID = flag.String("session", "", "Session to report on (default: most recent)")
	htmlOut   = flag.String("html", "", "Write a frame-interval chart to this HTML file")
	list      = flag.Bool("list", false, "List sessions and exit")
)

func main() {
	flag.Parse()

	db, err := framedb.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open frame database: %v", err)
	}
	defer db.Close()

	sessions, err := db.Sessions()
	if err != nil {
		log.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) == 0 {
		log.Fatal("No sessions recorded")
	}

	if *list {
		for _, s := range sessions {
			fmt.Printf("%s  %s  %s %dx%d\n", s.SessionID, s.Camera, s.PixelFormat, s.Width, s.Height)
		}
		return
	}

	id := *sessionID
	if id == "" {
		id = sessions[0].SessionID
	}

	summary, err := db.Summarize(id)
	if err != nil {
		log.Fatalf("Failed to summarise session: %v", err)
	}

	fmt.Printf("Session:        %s\n", summary.SessionID)
	fmt.Printf("Frames:         %d\n", summary.Frames)
	fmt.Printf("Duration:       %s\n", summary.Duration)
	fmt.Printf("Rate:           %.2f fps\n", summary.FramesPerSecond)
	fmt.Printf("Interval:       %.2f ms (stddev %.2f, p95 %.2f)\n",
		summary.MeanIntervalMs, summary.StdDevIntervalMs, summary.P95IntervalMs)
	fmt.Printf("Mean exposure:  %.2f ms\n", summary.MeanExposureMs)
	fmt.Printf("Mean gain:      %.2f\n", summary.MeanAnalogueGain)

	if *htmlOut == "" {
		return
	}

	frames, err := db.Frames(id)
	if err != nil {
		log.Fatalf("Failed to load frames: %v", err)
	}
	line, err := monitor.IntervalsChart(id, frames)
	if err != nil {
		log.Fatalf("Failed to build chart: %v", err)
	}

	f, err := os.Create(*htmlOut)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", *htmlOut, err)
	}
	defer f.Close()

	if err := line.Render(f); err != nil {
		log.Fatalf("Failed to render chart: %v", err)
	}
	log.Printf("Wrote interval chart to %s", *htmlOut)
}
