package handler

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/pkordes/fleetcore/internal/domain"
)

// manifestCSVHeaders defines the column names written as the first row of a CSV manifest.
var manifestCSVHeaders = []string{"trip_id", "student_id", "seat_label", "boarded_at"}

// BoardStudent handles POST /trips/{tripId}/boardings.
// Returns 201 for a new boarding and 200 with the existing record for a repeat.
func (s *Server) BoardStudent(w http.ResponseWriter, r *http.Request) {
	tripID, err := pathUUID(r, "tripId")
	if err != nil {
		badRequest(w, err)
		return
	}
	var body BoardRequest
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, err)
		return
	}

	rec, created, err := s.Boardings.Board(r.Context(), tripID, body.StudentID, body.SeatLabel)
	if err != nil {
		s.serviceError(w, r, err, "trip")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, boardingToResponse(rec))
}

// GetManifest handles GET /trips/{tripId}/manifest.
// Use ?format=csv to receive CSV; default is JSON.
func (s *Server) GetManifest(w http.ResponseWriter, r *http.Request) {
	tripID, err := pathUUID(r, "tripId")
	if err != nil {
		badRequest(w, err)
		return
	}
	var format *string
	if err := queryParam(r, "format", &format); err != nil {
		badRequest(w, err)
		return
	}

	records, err := s.Boardings.Manifest(r.Context(), tripID)
	if err != nil {
		s.serviceError(w, r, err, "trip")
		return
	}

	if format != nil && *format == "csv" {
		writeManifestCSV(w, records)
		return
	}
	data := make([]BoardingRecord, len(records))
	for i, rec := range records {
		data[i] = boardingToResponse(rec)
	}
	writeJSON(w, http.StatusOK, ManifestResponse{TripID: tripID, Count: len(data), Data: data})
}

// writeManifestCSV encodes the manifest as CSV, one boarded student per line.
func writeManifestCSV(w http.ResponseWriter, records []domain.BoardingRecord) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	//nolint:errcheck // bytes.Buffer.Write never returns an error.
	cw.Write(manifestCSVHeaders)
	for _, rec := range records {
		//nolint:errcheck
		cw.Write([]string{
			rec.TripID.String(),
			rec.StudentID.String(),
			rec.SeatLabel,
			formatOptionalTime(rec.BoardedAt),
		})
	}
	cw.Flush()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// formatOptionalTime returns the RFC3339 representation of t, or "" if t is nil.
func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
