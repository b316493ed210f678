package framedb

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// Session is one capture run: a camera, its negotiated output and when it
// started.
type Session struct {
	SessionID   string `json:"session_id"`
	Camera      string `json:"camera"`
	PixelFormat string `json:"pixel_format"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	StartedAt   int64  `json:"started_at"`
}

// FrameEvent is the metadata of one completed frame.
type FrameEvent struct {
	SessionID      string  `json:"session_id"`
	Sequence       uint32  `json:"sequence"`
	TimestampNanos int64   `json:"timestamp_ns"`
	ExposureMicros int64   `json:"exposure_us"`
	AnalogueGain   float64 `json:"analogue_gain"`
}

// InsertSession persists a new session. If SessionID is empty, a UUID is
// generated. StartedAt defaults to now.
func (db *FrameDB) InsertSession(s *Session) error {
	if s.SessionID == "" {
		s.SessionID = uuid.New().String()
	}
	if s.StartedAt == 0 {
		s.StartedAt = time.Now().UnixNano()
	}
	_, err := db.Exec(`
		INSERT INTO capture_sessions (session_id, camera, pixel_format, width, height, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.SessionID, s.Camera, s.PixelFormat, s.Width, s.Height, s.StartedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// InsertFrame persists one frame event.
func (db *FrameDB) InsertFrame(f *FrameEvent) error {
	_, err := db.Exec(`
		INSERT INTO frame_events (session_id, sequence, timestamp_ns, exposure_us, analogue_gain)
		VALUES (?, ?, ?, ?, ?)`,
		f.SessionID, f.Sequence, f.TimestampNanos, f.ExposureMicros, f.AnalogueGain)
	if err != nil {
		return fmt.Errorf("insert frame %d: %w", f.Sequence, err)
	}
	return nil
}

// Sessions returns all sessions, newest first.
func (db *FrameDB) Sessions() ([]Session, error) {
	rows, err := db.Query(`
		SELECT session_id, camera, pixel_format, width, height, started_at
		FROM capture_sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.SessionID, &s.Camera, &s.PixelFormat, &s.Width, &s.Height, &s.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Frames returns a session's frame events in capture order.
func (db *FrameDB) Frames(sessionID string) ([]FrameEvent, error) {
	rows, err := db.Query(`
		SELECT session_id, sequence, timestamp_ns, exposure_us, analogue_gain
		FROM frame_events WHERE session_id = ? ORDER BY sequence`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []FrameEvent
	for rows.Next() {
		var f FrameEvent
		if err := rows.Scan(&f.SessionID, &f.Sequence, &f.TimestampNanos, &f.ExposureMicros, &f.AnalogueGain); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SessionSummary aggregates frame timing and exposure for one session.
type SessionSummary struct {
	SessionID        string
	Frames           int
	Duration         time.Duration
	MeanIntervalMs   float64
	StdDevIntervalMs float64
	P95IntervalMs    float64
	FramesPerSecond  float64
	MeanExposureMs   float64
	MeanAnalogueGain float64
}

// Summarize computes interval and exposure statistics across a session's
// frames. It needs at least two frames for interval figures.
func (db *FrameDB) Summarize(sessionID string) (*SessionSummary, error) {
	frames, err := db.Frames(sessionID)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("session %s has no frames", sessionID)
	}

	summary := &SessionSummary{SessionID: sessionID, Frames: len(frames)}

	exposures := make([]float64, len(frames))
	gains := make([]float64, len(frames))
	for i, f := range frames {
		exposures[i] = float64(f.ExposureMicros) / 1e3
		gains[i] = f.AnalogueGain
	}
	summary.MeanExposureMs = stat.Mean(exposures, nil)
	summary.MeanAnalogueGain = stat.Mean(gains, nil)

	if len(frames) < 2 {
		return summary, nil
	}

	intervals := make([]float64, 0, len(frames)-1)
	for i := 1; i < len(frames); i++ {
		intervals = append(intervals, float64(frames[i].TimestampNanos-frames[i-1].TimestampNanos)/1e6)
	}

	summary.Duration = time.Duration(frames[len(frames)-1].TimestampNanos - frames[0].TimestampNanos)
	summary.MeanIntervalMs = stat.Mean(intervals, nil)
	summary.StdDevIntervalMs = stat.StdDev(intervals, nil)

	sorted := append([]float64(nil), intervals...)
	sort.Float64s(sorted)
	summary.P95IntervalMs = stat.Quantile(0.95, stat.Empirical, sorted, nil)

	if summary.Duration > 0 {
		summary.FramesPerSecond = float64(len(frames)-1) / summary.Duration.Seconds()
	}

	return summary, nil
}
