package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// faceRecognitionSubEvent is the access-controller sub event code for a face
// recognition match. Everything else (door alarms, card swipes, tamper
// events) is ignored.
const faceRecognitionSubEvent = 75

// accessEvent mirrors the device's notification body. Devices send either a
// flat object or a nested AccessControllerEvent with the identifying fields
// split across both levels.
type accessEvent struct {
	DeviceID              string       `json:"deviceID"`
	DateTime              string       `json:"dateTime"`
	AccessControllerEvent *accessEvent `json:"AccessControllerEvent"`
	SubEventType          int          `json:"subEventType"`
	EmployeeNoString      string       `json:"employeeNoString"`
	Name                  string       `json:"name"`
}

// Scan is one normalized face-recognition scan ready for processing.
type Scan struct {
	EmployeeNo   string
	DeviceSerial string
	Timestamp    time.Time
	StudentName  string
	Raw          json.RawMessage
}

// EventKey dedupes device redeliveries of the same scan: devices retry the
// notification until acknowledged, and the same physical scan must only ever
// produce one attendance event row.
func (s *Scan) EventKey(direction string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%s:%s",
		s.DeviceSerial, s.EmployeeNo, s.Timestamp.Format(time.RFC3339), direction))
	return hex.EncodeToString(sum[:])
}

// NormalizeScan extracts a Scan from a raw notification body. It returns nil
// for payloads that are not face-recognition events or that lack any of the
// identifying fields; those are acknowledged and dropped, never errors, so
// the device does not retry them forever.
func NormalizeScan(body []byte) *Scan {
	var outer accessEvent
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil
	}

	inner := &outer
	if outer.AccessControllerEvent != nil {
		inner = outer.AccessControllerEvent
	}
	if inner.SubEventType != faceRecognitionSubEvent {
		return nil
	}

	serial := outer.DeviceID
	if serial == "" {
		serial = inner.DeviceID
	}
	dateTime := outer.DateTime
	if dateTime == "" {
		dateTime = inner.DateTime
	}
	if inner.EmployeeNoString == "" || serial == "" || dateTime == "" {
		return nil
	}

	ts, err := time.Parse(time.RFC3339, dateTime)
	if err != nil {
		return nil
	}

	return &Scan{
		EmployeeNo:   inner.EmployeeNoString,
		DeviceSerial: serial,
		Timestamp:    ts,
		StudentName:  inner.Name,
		Raw:          json.RawMessage(body),
	}
}

// Result is the webhook acknowledgment body. Devices only care about a 2xx,
// but Ignored/Reason make replayed or filtered deliveries visible in logs
// and manual tests.
type Result struct {
	OK      bool    `json:"ok"`
	Ignored bool    `json:"ignored,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	EventID *string `json:"eventId,omitempty"`
}

const (
	reasonDuplicateScan  = "duplicate_scan"
	reasonDuplicateEvent = "duplicate_event"
)
