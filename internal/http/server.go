package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/example/ride-coordinator/internal/auth"
	"github.com/example/ride-coordinator/internal/dispatch"
	"github.com/example/ride-coordinator/internal/fare"
	"github.com/example/ride-coordinator/internal/location"
	"github.com/example/ride-coordinator/internal/session"
	"github.com/example/ride-coordinator/internal/storage"
)

// Deps are the collaborators the API is built on. Resolver, WS, Devices and
// History are optional; their routes answer 501 when unset.
type Deps struct {
	Sessions    *session.Registry
	Fare        *fare.Engine
	Resolver    location.Resolver
	Auth        *auth.Authenticator
	WS          *dispatch.WSRegistry
	Devices     *dispatch.DeviceTokens
	History     storage.RideHistory
	CORSOrigins []string
}

type Server struct {
	Deps
	logger   *slog.Logger
	mux      *mux.Router
	handler  http.Handler
	upgrader websocket.Upgrader
}

func NewServer(d Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if d.Fare == nil {
		d.Fare = fare.NewEngine()
	}
	if d.Auth == nil {
		d.Auth = &auth.Authenticator{}
	}
	s := &Server{Deps: d, logger: logger, mux: mux.NewRouter()}
	s.upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.registerMiddleware()
	s.routes()

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", auth.SessionHeader, "X-Request-ID"},
	})
	s.handler = alice.New(s.recoverMiddleware, c.Handler).Then(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{session_id}", s.handleWS)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/booking", s.handleGetBooking).Methods("GET")
	api.HandleFunc("/booking", s.handlePatchBooking).Methods("PATCH")
	api.HandleFunc("/booking", s.handleResetBooking).Methods("DELETE")
	api.HandleFunc("/booking/swap", s.handleSwapBooking).Methods("POST")
	api.HandleFunc("/booking/quote", s.handleBookingQuote).Methods("GET")
	api.HandleFunc("/quote", s.handleQuote).Methods("POST")
	api.HandleFunc("/rides", s.handleStartRide).Methods("POST")
	api.HandleFunc("/rides", s.handleListRides).Methods("GET")
	api.HandleFunc("/rides/current", s.handleCurrentRide).Methods("GET")
	api.HandleFunc("/rides/current", s.handleCancelRide).Methods("DELETE")
	api.HandleFunc("/rides/current/events/{event}", s.handleRideEvent).Methods("POST")
	api.HandleFunc("/places/reverse", s.handleReverse).Methods("GET")
	api.HandleFunc("/devices", s.handleDevice).Methods("PUT")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }
