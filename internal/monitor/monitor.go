// Package monitor serves capture-session diagnostics over HTTP: session
// listings as JSON and frame-timing charts rendered with go-echarts.
package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/meridian-vision/rkpipe/internal/framedb"
)

// Monitor exposes read-only diagnostics over one frame database.
type Monitor struct {
	db *framedb.FrameDB
}

// New creates a Monitor over db.
func New(db *framedb.FrameDB) *Monitor {
	return &Monitor{db: db}
}

// AttachRoutes registers the diagnostic endpoints on mux. These are
// debugging endpoints with no auth; bind them to localhost.
func (m *Monitor) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/sessions", m.handleSessions)
	mux.HandleFunc("/sessions/intervals", m.handleIntervalsChart)
	mux.HandleFunc("/sessions/summary", m.handleSummary)
}

func (m *Monitor) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleSessions lists all capture sessions as JSON, newest first.
func (m *Monitor) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := m.db.Sessions()
	if err != nil {
		m.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sessions)
}

// handleSummary returns aggregate timing statistics for one session.
// Query params: session_id (required).
func (m *Monitor) handleSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		m.writeJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	summary, err := m.db.Summarize(sessionID)
	if err != nil {
		m.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

// handleIntervalsChart renders a line chart (HTML) of frame-to-frame
// intervals for one session. Query params: session_id (required).
func (m *Monitor) handleIntervalsChart(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		m.writeJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	frames, err := m.db.Frames(sessionID)
	if err != nil {
		m.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(frames) < 2 {
		m.writeJSONError(w, http.StatusNotFound, "not enough frames to chart intervals")
		return
	}

	line, err := IntervalsChart(sessionID, frames)
	if err != nil {
		m.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build chart: %v", err))
		return
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		m.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// IntervalsChart builds the frame-interval line chart for a session. Split
// out so the offline report tool can render the same chart to a file.
func IntervalsChart(sessionID string, frames []framedb.FrameEvent) (*charts.Line, error) {
	if len(frames) < 2 {
		return nil, fmt.Errorf("need at least two frames, got %d", len(frames))
	}

	x := make([]uint32, 0, len(frames)-1)
	y := make([]opts.LineData, 0, len(frames)-1)
	for i := 1; i < len(frames); i++ {
		intervalMs := float64(frames[i].TimestampNanos-frames[i-1].TimestampNanos) / 1e6
		x = append(x, frames[i].Sequence)
		y = append(y, opts.LineData{Value: intervalMs})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Frame Intervals", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Frame intervals", Subtitle: fmt.Sprintf("session=%s frames=%d", sessionID, len(frames))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sequence"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "interval (ms)"}),
	)
	line.SetXAxis(x).AddSeries("interval", y)

	return line, nil
}
