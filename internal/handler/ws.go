package handler

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pkordes/fleetcore/internal/bus"
	"github.com/pkordes/fleetcore/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 512
)

// ObserverFrame is one event as sent to a websocket observer.
type ObserverFrame struct {
	Type domain.EventType `json:"type"`
	Data any              `json:"data"`
}

// ServeObserver handles GET /ws. The subscription filter is taken from the
// query string: observerId, role, and repeatable type, vehicleId and tripId.
// The filter is validated before the upgrade so a bad one gets a normal
// 422 response.
func (s *Server) ServeObserver(w http.ResponseWriter, r *http.Request) {
	filter, err := observerFilter(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	sub, err := s.Observers.Subscribe(filter)
	if err != nil {
		s.serviceError(w, r, err, "observer")
		return
	}
	defer sub.Close()

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.log.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := s.log.With("observer", sub.ObserverID(), "role", sub.Role())
	log.InfoContext(r.Context(), "observer connected")

	// Observers only send control frames; the read loop exists to process
	// pongs and notice disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ObserverFrame{Type: ev.Type, Data: ev.Payload}); err != nil {
				log.WarnContext(r.Context(), "observer write failed", "error", err, "dropped", sub.Dropped())
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-gone:
			log.InfoContext(r.Context(), "observer disconnected", "dropped", sub.Dropped())
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}

func observerFilter(r *http.Request) (bus.Filter, error) {
	var (
		f        bus.Filter
		observer *string
		role     *string
	)
	if err := queryParam(r, "observerId", &observer); err != nil {
		return bus.Filter{}, err
	}
	if err := queryParam(r, "role", &role); err != nil {
		return bus.Filter{}, err
	}
	if err := queryParam(r, "type", &f.Types); err != nil {
		return bus.Filter{}, err
	}
	if err := queryParam(r, "vehicleId", &f.VehicleIDs); err != nil {
		return bus.Filter{}, err
	}
	if err := queryParam(r, "tripId", &f.TripIDs); err != nil {
		return bus.Filter{}, err
	}
	if role == nil {
		return bus.Filter{}, errors.New("role is required")
	}
	f.Role = bus.Role(*role)
	if observer != nil {
		f.ObserverID = *observer
	}
	f.VehicleIDs = slices.DeleteFunc(f.VehicleIDs, func(id uuid.UUID) bool { return id == uuid.Nil })
	f.TripIDs = slices.DeleteFunc(f.TripIDs, func(id uuid.UUID) bool { return id == uuid.Nil })
	return f, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}
