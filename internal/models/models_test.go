package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"11999999999", "11999999999"},
		{"+55 (11) 99999-9999", "11999999999"},
		{"011999999999", "11999999999"},
		{"5511999999999", "11999999999"},
		{"55119999", "55119999"},
		{"", ""},
		{"n/a", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in), tt.in)
	}

	assert.True(t, SamePhone("+55 11 99999-9999", "11999999999"))
	assert.False(t, SamePhone("", ""))
}

func TestMessageStatusOnlyMovesForward(t *testing.T) {
	tests := []struct {
		from, to MessageStatus
		want     bool
	}{
		{MessageSending, MessageSent, true},
		{MessageSent, MessageRead, true},
		{MessageDelivered, MessageSent, false},
		{MessageRead, MessageRead, false},
		{MessageSending, MessageFailed, true},
		{MessageRead, MessageFailed, false},
		{MessageFailed, MessageSent, false},
		{MessageSent, "bogus", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanAdvance(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestJobStatusJSON(t *testing.T) {
	var job struct {
		Status JobStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"in_progress"}`), &job))
	f, ok := job.Status.Fixed()
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, f)

	require.NoError(t, json.Unmarshal([]byte(`{"status":"3f1c0a52-5a8e-4c1e-9d57-0f4b6f5f2c11"}`), &job))
	id, ok := job.Status.CustomID()
	require.True(t, ok)
	assert.Equal(t, "3f1c0a52-5a8e-4c1e-9d57-0f4b6f5f2c11", id)

	out, err := json.Marshal(Fixed(StatusDone))
	require.NoError(t, err)
	assert.JSONEq(t, `"done"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"status":4}`), &job))
}

func TestJobStatusScan(t *testing.T) {
	var s JobStatus
	require.NoError(t, s.Scan([]byte("review")))
	assert.Equal(t, Fixed(StatusReview), s)
	require.NoError(t, s.Scan(nil))
	assert.True(t, s.IsZero())
	assert.Error(t, s.Scan(42))

	v, err := JobStatus{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDurationHours(t *testing.T) {
	assert.Equal(t, 1.5, DurationHours(90*time.Minute))
	assert.Equal(t, 1.500278, DurationHours(90*time.Minute+time.Second))
}

func TestKindForMime(t *testing.T) {
	assert.Equal(t, KindImage, KindForMime("image/png"))
	assert.Equal(t, KindAudio, KindForMime("audio/ogg"))
	assert.Equal(t, KindDocument, KindForMime("application/pdf"))
	assert.Equal(t, KindText, KindForMime(""))
}

func TestSignUpValidate(t *testing.T) {
	valid := SignUpRequest{Name: "Ana", Email: "ana@test.com", Password: "secret1", InvitationCode: "CRM-2024"}
	require.NoError(t, valid.Validate("CRM-2024"))

	bad := SignUpRequest{Email: "not-an-email", Password: "123", InvitationCode: "nope"}
	err := bad.Validate("CRM-2024")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, map[string]string{
		"name":            "required",
		"email":           "invalid email address",
		"password":        "must be at least 6 characters",
		"invitation_code": "invalid invitation code",
	}, ve.FieldMap())

	// With no accepted code configured, every code is refused.
	assert.Error(t, valid.Validate(""))
}
