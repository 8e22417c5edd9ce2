package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero())
	assert.NotEqual(t, id, NewULID())
	assert.Len(t, id.String(), 26)
}

func TestParseULID(t *testing.T) {
	original := NewULID()
	parsed, err := ParseULID(original.String())
	require.NoError(t, err)
	assert.Equal(t, original, parsed)

	_, err = ParseULID("not-a-valid-ulid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ULID")
}

func TestULID_Scan(t *testing.T) {
	original := NewULID()

	tests := []struct {
		name  string
		value any
		want  ULID
		err   bool
	}{
		{"string", original.String(), original, false},
		{"bytes", []byte(original.String()), original, false},
		{"nil", nil, ULID{}, false},
		{"empty", "", ULID{}, false},
		{"garbage", "zzz", ULID{}, true},
		{"int", 42, ULID{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ULID
			err := got.Scan(tt.value)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestULID_Value(t *testing.T) {
	v, err := ULID{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	id := NewULID()
	v, err = id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)
}

func TestULID_JSON(t *testing.T) {
	id := NewULID()
	data, err := json.Marshal(struct {
		ID   ULID `json:"id"`
		Zero ULID `json:"zero"`
	}{ID: id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`","zero":null}`, string(data))

	var decoded struct {
		ID ULID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded.ID)

	assert.Error(t, json.Unmarshal([]byte(`{"id":12}`), &decoded))

	require.NoError(t, json.Unmarshal([]byte(`{"id":null}`), &decoded))
	assert.True(t, decoded.ID.IsZero())
}

func TestExtractionRecord_Validate(t *testing.T) {
	assert.NoError(t, (&ExtractionRecord{Filename: "a.mp4", FileSize: 10}).Validate())

	var verr FieldError
	err := (&ExtractionRecord{FileSize: 10}).Validate()
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "filename", verr.Field)
	assert.EqualError(t, err, "filename is required")

	err = (&ExtractionRecord{Filename: "a.mp4", FileSize: -1}).Validate()
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "file_size", verr.Field)
}

func TestExtractionRecord_Lifecycle(t *testing.T) {
	r := &ExtractionRecord{Filename: "talk.mkv", Status: ExtractionStatusPending}
	assert.False(t, r.Status.IsTerminal())

	r.MarkRunning()
	require.NotNil(t, r.StartedAt)
	assert.Equal(t, ExtractionStatusRunning, r.Status)

	r.OutputPath = "x/talk_audio.mp3"
	r.MarkCompleted()
	assert.True(t, r.Status.IsTerminal())
	assert.True(t, r.HasOutput())
	assert.Equal(t, 100, r.Percent)
	require.NotNil(t, r.CompletedAt)
	assert.GreaterOrEqual(t, r.DurationMs, int64(0))

	f := &ExtractionRecord{Filename: "talk.mkv"}
	f.MarkFailed("extraction_timeout", errors.New("too slow"))
	assert.Equal(t, ExtractionStatusFailed, f.Status)
	assert.Equal(t, "extraction_timeout", f.ErrorKind)
	assert.Equal(t, "too slow", f.ErrorMessage)
	assert.False(t, f.HasOutput())
	assert.Zero(t, f.DurationMs, "never started")
}

func TestExtractionRecord_SetTimings(t *testing.T) {
	r := &ExtractionRecord{}
	r.SetTimings(time.Second, 2*time.Millisecond, 3*time.Millisecond, 4*time.Millisecond, 0, 5*time.Millisecond)
	assert.Equal(t, int64(1000), r.EngineLoadMs)
	assert.Equal(t, int64(2), r.FileReadMs)
	assert.Equal(t, int64(3), r.FileWriteMs)
	assert.Equal(t, int64(4), r.CopyAttemptMs)
	assert.Zero(t, r.ReencodeMs)
	assert.Equal(t, int64(5), r.OutputReadMs)
}
