package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitchsafe/companion/internal/alert"
	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/handler"
	"github.com/hitchsafe/companion/internal/service"
)

func triggerResult(already bool) service.TriggerResult {
	return service.TriggerResult{
		Event: domain.EmergencyEvent{
			TripID:    tripID,
			UserID:    anaID,
			Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			Message:   domain.DefaultEmergencyMessage,
			Role:      domain.RoleDriver,
		},
		AlreadyActive:    already,
		RecordingStarted: !already,
		Alerts: alert.Report{Attempts: []alert.Attempt{
			{ContactID: "c1", ContactName: "Mom", Channel: alert.ChannelSMS, Delivered: true},
		}},
	}
}

// ---- POST /trips/{tripId}/emergency ----------------------------------------

func TestTriggerEmergency_201(t *testing.T) {
	var gotMessage string
	emergency := &mockEmergency{
		trigger: func(_ context.Context, id, userID, message string) (service.TriggerResult, error) {
			assert.Equal(t, tripID, id)
			assert.Equal(t, anaID, userID)
			gotMessage = message
			return triggerResult(false), nil
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Emergency: emergency}), http.MethodPost, "/trips/"+tripID+"/emergency",
		map[string]any{"message": "white van, plate ABC1234"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "white van, plate ABC1234", gotMessage)

	var resp service.TriggerResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.AlreadyActive)
	assert.True(t, resp.RecordingStarted)
	assert.Len(t, resp.Alerts.Attempts, 1)
}

func TestTriggerEmergency_200_AlreadyActive_NoBody(t *testing.T) {
	emergency := &mockEmergency{
		trigger: func(_ context.Context, _, _, message string) (service.TriggerResult, error) {
			assert.Empty(t, message)
			return triggerResult(true), nil
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Emergency: emergency}), http.MethodPost, "/trips/"+tripID+"/emergency", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerEmergency_409_Completed(t *testing.T) {
	emergency := &mockEmergency{
		trigger: func(_ context.Context, _, _, _ string) (service.TriggerResult, error) {
			return service.TriggerResult{}, fmt.Errorf("service.EmergencyCoordinator.Trigger: %w", domain.ErrTripCompleted)
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Emergency: emergency}), http.MethodPost, "/trips/"+tripID+"/emergency", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "trip_completed", decodeError(t, rec).Error.Code)
}

func TestTriggerEmergency_500_PersistenceCarriesFallback(t *testing.T) {
	emergency := &mockEmergency{
		trigger: func(_ context.Context, _, _, _ string) (service.TriggerResult, error) {
			return triggerResult(false), fmt.Errorf("service.EmergencyCoordinator.Trigger: %w: %w", domain.ErrPersistence, errors.New("connection refused"))
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Emergency: emergency}), http.MethodPost, "/trips/"+tripID+"/emergency", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "emergency_failed", resp.Error.Code)
	assert.True(t, strings.HasSuffix(resp.Error.Message, handler.EmergencyFallback))
	assert.NotContains(t, resp.Error.Message, "connection refused")
}

// ---- POST /emergency/recording/stop ----------------------------------------

func TestStopRecording_200(t *testing.T) {
	emergency := &mockEmergency{
		stop: func(_ context.Context, userID string) (string, bool, error) {
			assert.Equal(t, anaID, userID)
			return "/rec/emergency_recording_1.mp4", true, nil
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Emergency: emergency}), http.MethodPost, "/emergency/recording/stop", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp handler.RecordingStopResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Stopped)
	assert.Equal(t, "/rec/emergency_recording_1.mp4", resp.RecordingRef)
}

func TestStopRecording_200_NothingOpen(t *testing.T) {
	emergency := &mockEmergency{
		stop: func(_ context.Context, _ string) (string, bool, error) { return "", false, nil },
	}

	rec := do(t, newHTTPHandler(handler.Deps{Emergency: emergency}), http.MethodPost, "/emergency/recording/stop", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stopped":false}`, rec.Body.String())
}

func TestStopRecording_403_NotParticipant(t *testing.T) {
	emergency := &mockEmergency{
		stop: func(_ context.Context, _ string) (string, bool, error) {
			return "", false, fmt.Errorf("service.EmergencyCoordinator.StopRecording: %w", domain.ErrNotParticipant)
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Emergency: emergency}), http.MethodPost, "/emergency/recording/stop", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_participant", decodeError(t, rec).Error.Code)
}

// ---- POST /emergency/call ---------------------------------------------------

func TestCallEmergencyServices_200(t *testing.T) {
	calls := 0
	caller := &mockCaller{call: func(_ context.Context) (string, bool) {
		calls++
		return "tel:112", true
	}}

	rec := do(t, newHTTPHandler(handler.Deps{Caller: caller}), http.MethodPost, "/emergency/call", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp handler.EmergencyCallResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, handler.EmergencyCallResponse{URI: "tel:112", Opened: true}, resp)
	assert.Equal(t, 1, calls)
}

func TestCallEmergencyServices_200_DialerRefused(t *testing.T) {
	caller := &mockCaller{call: func(_ context.Context) (string, bool) { return "tel:911", false }}

	rec := do(t, newHTTPHandler(handler.Deps{Caller: caller}), http.MethodPost, "/emergency/call", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp handler.EmergencyCallResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Opened)
	assert.Contains(t, resp.Message, "Dial 911 directly")
}

func TestCallEmergencyServices_401_WithoutToken(t *testing.T) {
	caller := &mockCaller{call: func(_ context.Context) (string, bool) {
		t.Fatal("caller must not be reached without a token")
		return "", false
	}}
	req := httptest.NewRequest(http.MethodPost, "/emergency/call", nil)
	rec := httptest.NewRecorder()

	newHTTPHandler(handler.Deps{Caller: caller}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ---- POST /emergency/recording/audio ---------------------------------------

func TestAppendAudio_204(t *testing.T) {
	var got []byte
	audio := &mockAudio{append: func(p []byte) error {
		got = append(got, p...)
		return nil
	}}

	rec := do(t, newHTTPHandler(handler.Deps{Audio: audio}), http.MethodPost, "/emergency/recording/audio", []byte{0x00, 0x01, 0x02})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, got)
}

func TestAppendAudio_409_NoRecording(t *testing.T) {
	audio := &mockAudio{append: func(_ []byte) error {
		return fmt.Errorf("recording.Session.Append: %w: no recording open", domain.ErrRecording)
	}}

	rec := do(t, newHTTPHandler(handler.Deps{Audio: audio}), http.MethodPost, "/emergency/recording/audio", []byte("abc"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "recording_error", resp.Error.Code)
	assert.Equal(t, "no recording open", resp.Error.Message)
}
