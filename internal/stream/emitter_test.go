package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-school/internal/attendance"
)

type recordingPublisher struct {
	keys     []string
	payloads []any
}

func (p *recordingPublisher) Publish(key string, payload any) {
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, payload)
}

func TestEmitter_FansOutToSchoolClassAndAdmin(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := NewEmitter(pub)
	emitter.now = func() time.Time { return time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC) }

	classID := "class-1"
	emitter.EmitScan("school-1", attendance.EventResponse{
		ID:        "event-1",
		EventType: "IN",
		Student:   &attendance.EventStudent{ID: "student-1", Name: "Aziz", ClassID: &classID},
	})

	require.Equal(t, []string{
		EventSchoolKey("school-1"),
		EventClassKey("school-1", "class-1"),
		EventAdminKey,
	}, pub.keys)

	event, ok := pub.payloads[0].(AttendanceEvent)
	require.True(t, ok)
	assert.Equal(t, TypeAttendanceEvent, event.Type)
	assert.Equal(t, "school-1", event.SchoolID)
	require.NotNil(t, event.ClassID)
	assert.Equal(t, "class-1", *event.ClassID)
	assert.Equal(t, "2026-03-02T05:00:00Z", event.Timestamp)
}

func TestEmitter_UnassignedStudentSkipsClassFeed(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := NewEmitter(pub)

	emitter.EmitScan("school-1", attendance.EventResponse{
		ID:        "event-2",
		EventType: "IN",
		Student:   &attendance.EventStudent{ID: "student-2", Name: "Malika"},
	})

	assert.Equal(t, []string{EventSchoolKey("school-1"), EventAdminKey}, pub.keys)
}
