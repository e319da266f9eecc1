// Package server wires HTTP handlers into a gorilla/mux router.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes configures the application routes. Requests with the wrong
// method get 405 from the router.
func SetupRoutes(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/ws", h.WebSocket).Methods(http.MethodGet)
	r.HandleFunc("/test", h.TestPage).Methods(http.MethodGet)
	r.HandleFunc("/", h.Health).Methods(http.MethodGet, http.MethodHead)
	return r
}
