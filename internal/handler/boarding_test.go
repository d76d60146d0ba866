package handler_test

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/handler"
)

func boardingServices(b *mockBoardingServicer) handler.Services {
	return handler.Services{Trips: &mockTripServicer{}, Boardings: b}
}

func boardedRecord(trip uuid.UUID, seat string) domain.BoardingRecord {
	at := time.Date(2026, 9, 1, 7, 41, 0, 0, time.UTC)
	return domain.BoardingRecord{TripID: trip, StudentID: uuid.New(), Boarded: true, BoardedAt: &at, SeatLabel: seat}
}

func TestBoardStudent_201_ThenRepeat200(t *testing.T) {
	trip, student := uuid.New(), uuid.New()
	at := time.Date(2026, 9, 1, 7, 41, 0, 0, time.UTC)
	first := true
	svc := &mockBoardingServicer{
		board: func(_ context.Context, tripID, studentID uuid.UUID, seat string) (domain.BoardingRecord, bool, error) {
			assert.Equal(t, trip, tripID)
			assert.Equal(t, student, studentID)
			created := first
			first = false
			return domain.BoardingRecord{TripID: tripID, StudentID: studentID, Boarded: true, BoardedAt: &at, SeatLabel: "12A"}, created, nil
		},
	}
	h := newHTTPHandler(boardingServices(svc))
	path := "/trips/" + trip.String() + "/boardings"

	rec := do(t, h, http.MethodPost, path, jsonBody(t, map[string]any{"studentId": student, "seatLabel": "12A"}))
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[handler.BoardingRecord](t, rec)
	assert.True(t, resp.Boarded)
	assert.Equal(t, "12A", resp.SeatLabel)

	rec = do(t, h, http.MethodPost, path, jsonBody(t, map[string]any{"studentId": student, "seatLabel": "12A"}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBoardStudent_409_TripNotActive(t *testing.T) {
	svc := &mockBoardingServicer{
		board: func(_ context.Context, _, _ uuid.UUID, _ string) (domain.BoardingRecord, bool, error) {
			return domain.BoardingRecord{}, false, fmt.Errorf("service.BoardingLedger.Board: %w: trip is completed", domain.ErrTripNotActive)
		},
	}

	rec := do(t, newHTTPHandler(boardingServices(svc)), http.MethodPost, "/trips/"+uuid.NewString()+"/boardings",
		jsonBody(t, map[string]any{"studentId": uuid.New()}))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "trip_not_active", errorCode(t, rec))
}

func TestGetManifest_JSON(t *testing.T) {
	trip := uuid.New()
	records := []domain.BoardingRecord{boardedRecord(trip, "1A"), boardedRecord(trip, "1B")}
	svc := &mockBoardingServicer{
		manifest: func(_ context.Context, _ uuid.UUID) ([]domain.BoardingRecord, error) { return records, nil },
	}

	rec := do(t, newHTTPHandler(boardingServices(svc)), http.MethodGet, "/trips/"+trip.String()+"/manifest", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[handler.ManifestResponse](t, rec)
	assert.Equal(t, trip, resp.TripID)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, records[0].StudentID, resp.Data[0].StudentID)
}

func TestGetManifest_CSV(t *testing.T) {
	trip := uuid.New()
	records := []domain.BoardingRecord{boardedRecord(trip, "1A"), boardedRecord(trip, "")}
	svc := &mockBoardingServicer{
		manifest: func(_ context.Context, _ uuid.UUID) ([]domain.BoardingRecord, error) { return records, nil },
	}

	rec := do(t, newHTTPHandler(boardingServices(svc)), http.MethodGet, "/trips/"+trip.String()+"/manifest?format=csv", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"trip_id", "student_id", "seat_label", "boarded_at"}, rows[0])
	assert.Equal(t, records[0].StudentID.String(), rows[1][1])
	assert.Equal(t, "1A", rows[1][2])
	assert.Equal(t, "2026-09-01T07:41:00Z", rows[1][3])
	assert.Empty(t, rows[2][2])
}

func TestGetManifest_404(t *testing.T) {
	svc := &mockBoardingServicer{
		manifest: func(_ context.Context, _ uuid.UUID) ([]domain.BoardingRecord, error) {
			return nil, fmt.Errorf("service.BoardingLedger.Manifest: %w", domain.ErrNotFound)
		},
	}

	rec := do(t, newHTTPHandler(boardingServices(svc)), http.MethodGet, "/trips/"+uuid.NewString()+"/manifest", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
