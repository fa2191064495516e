package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/ride-coordinator/internal/auth"
	"github.com/example/ride-coordinator/internal/booking"
	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/location"
	"github.com/example/ride-coordinator/internal/models"
	"github.com/example/ride-coordinator/internal/ride"
	"github.com/example/ride-coordinator/internal/session"
)

const maxBody = 1 << 16

type errorBody struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError
	var pe *models.PreconditionError
	switch {
	case errors.As(err, &pe):
		status = http.StatusUnprocessableEntity
		body.Missing = pe.Missing
	case errors.Is(err, ride.ErrInvalidTransition), errors.Is(err, session.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNoActiveRide), errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auth.ErrMissingCredentials), errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, location.ErrUnresolved):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, body)
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return badRequest("invalid json: %v", err)
}

func (s *Server) session(r *http.Request) *session.Session {
	id, _ := auth.SessionFromContext(r.Context())
	return s.Sessions.Session(id)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session(r).View())
}

type patchResponse struct {
	session.DraftView
	Requoted bool `json:"requoted"`
}

func (s *Server) handlePatchBooking(w http.ResponseWriter, r *http.Request) {
	var p booking.Patch
	if err := decode(r, &p); err != nil {
		writeError(w, err)
		return
	}
	for _, pl := range []*models.Place{p.Origin, p.Destination} {
		if pl != nil && pl.Coordinate != nil {
			if err := pl.Coordinate.Validate(); err != nil {
				writeError(w, badRequest("%v", err))
				return
			}
		}
	}
	// resolve outside the session lock
	var err error
	if p.Origin, err = location.ResolvePlace(r.Context(), s.Resolver, p.Origin); err != nil {
		writeError(w, fmt.Errorf("origin: %w", err))
		return
	}
	if p.Destination, err = location.ResolvePlace(r.Context(), s.Resolver, p.Destination); err != nil {
		writeError(w, fmt.Errorf("destination: %w", err))
		return
	}

	sess := s.session(r)
	_, q := sess.UpdateDraft(p)
	writeJSON(w, http.StatusOK, patchResponse{DraftView: sess.View(), Requoted: q != nil})
}

func (s *Server) handleResetBooking(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	sess.ResetDraft()
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleSwapBooking(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	sess.SwapPlaces()
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleBookingQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.session(r).Quote()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type quoteRequest struct {
	Origin      *geo.Coordinate `json:"origin"`
	Destination *geo.Coordinate `json:"destination"`
	RoundTrip   bool            `json:"round_trip"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var missing []string
	if req.Origin == nil {
		missing = append(missing, "origin")
	}
	if req.Destination == nil {
		missing = append(missing, "destination")
	}
	if len(missing) > 0 {
		writeError(w, &models.PreconditionError{Op: "fare.Quote", Missing: missing})
		return
	}
	if err := errors.Join(req.Origin.Validate(), req.Destination.Validate()); err != nil {
		writeError(w, badRequest("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, s.Fare.Quote(*req.Origin, *req.Destination, req.RoundTrip))
}

func (s *Server) handleStartRide(w http.ResponseWriter, r *http.Request) {
	var a ride.Assignment
	if err := decode(r, &a); err != nil {
		writeError(w, err)
		return
	}
	if a.DriverID == "" {
		writeError(w, badRequest("driver_id is required"))
		return
	}
	out, err := s.session(r).StartRide(r.Context(), a)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleCurrentRide(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.session(r).CurrentRide()
	if !ok {
		writeError(w, session.ErrNoActiveRide)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

// tripView is a history entry. Status shadows the ride's own status so a
// cancelled ride reads "cancelled".
type tripView struct {
	ride.ActiveRide
	Status string `json:"status"`
}

type tripsResponse struct {
	Rides []tripView `json:"rides"`
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "ride history not configured"})
		return
	}
	id, _ := auth.SessionFromContext(r.Context())
	recs, err := s.History.ListRides(r.Context(), id)
	if err != nil {
		s.logger.Error("list rides failed", "error", err)
		writeError(w, err)
		return
	}
	out := tripsResponse{Rides: make([]tripView, 0, len(recs))}
	for _, rec := range recs {
		out.Rides = append(out.Rides, tripView{ActiveRide: rec.Ride, Status: rec.State()})
	}
	writeJSON(w, http.StatusOK, out)
}

type eventRequest struct {
	EtaMinutes *int `json:"eta_minutes"`
}

type eventResponse struct {
	Status ride.Status      `json:"status"`
	Ride   *ride.ActiveRide `json:"ride,omitempty"`
}

func (s *Server) handleRideEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := ride.ParseEvent(mux.Vars(r)["event"])
	if err != nil {
		writeError(w, badRequest("%v", err))
		return
	}
	var req eventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t := ride.Trigger{Event: ev, Source: "api"}
	if req.EtaMinutes != nil {
		t.EtaMinutes = *req.EtaMinutes
	}
	sess := s.session(r)
	st, err := sess.ApplyTransition(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := eventResponse{Status: st}
	if cur, ok := sess.CurrentRide(); ok {
		resp.Ride = &cur
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	if err := s.session(r).CancelRide(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	if s.Resolver == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "no location resolver configured"})
		return
	}
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err1 != nil || err2 != nil {
		writeError(w, badRequest("lat and lon must be numbers"))
		return
	}
	c := geo.Coordinate{Lat: lat, Lon: lon}
	if err := c.Validate(); err != nil {
		writeError(w, badRequest("%v", err))
		return
	}
	addr, ok, err := s.Resolver.Reverse(r.Context(), c)
	if err != nil {
		s.logger.Error("reverse geocode failed", "error", err)
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no address found"})
		return
	}
	writeJSON(w, http.StatusOK, models.Place{Name: addr, Address: addr, Coordinate: &c})
}

type deviceRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if s.Devices == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "push notifications not configured"})
		return
	}
	var req deviceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, _ := auth.SessionFromContext(r.Context())
	s.Devices.Set(id, req.Token)
	w.WriteHeader(http.StatusNoContent)
}

// handleWS streams ride updates for one session. Browsers cannot set
// headers on the upgrade, so a verifier reads the token from ?token=.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.WS == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "websocket not configured"})
		return
	}
	id := mux.Vars(r)["session_id"]
	if s.Auth.Verifier != nil {
		ident, err := s.Auth.Verifier.VerifyIDToken(r.Context(), r.URL.Query().Get("token"))
		if err != nil || ident.Subject != id {
			writeError(w, auth.ErrInvalidToken)
			return
		}
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	ws := s.WS.Add(id, conn)
	go s.WS.Serve(id, ws)

	// a late subscriber still sees the ride it is joining; sending under the
	// session lock keeps the snapshot ordered with live updates
	if sess, ok := s.Sessions.Lookup(id); ok {
		sess.WithCurrentRide(func(cur ride.ActiveRide) {
			_ = ws.Send(ride.Update{RideID: cur.ID, SessionID: id, Status: cur.Status, Ride: cur, At: cur.UpdatedAt})
		})
	}
}
