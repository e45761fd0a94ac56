package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const heartbeatInterval = 30 * time.Second

// sseWriter serializes frames onto a long-lived HTTP response. Writes are
// not locked here; each session funnels all writes through a single
// goroutine (see Handler), so the writer is never used concurrently.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// WriteEvent frames one JSON payload as a data line.
func (s *sseWriter) WriteEvent(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteHeartbeat sends a comment-only keep-alive line that event-stream
// parsers ignore.
func (s *sseWriter) WriteHeartbeat(at time.Time) error {
	if _, err := fmt.Fprintf(s.w, ": heartbeat %s\n\n", strconv.FormatInt(at.UnixMilli(), 10)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
