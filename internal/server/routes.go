// Package server wires HTTP handlers into a ServeMux for the chatroom
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It sets up handlers for health check, WebSocket endpoint, and test page.
func SetupRoutes(hub *Hub, policy *OriginPolicy) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.Handle("/ws", WebSocketHandler(hub, policy))
	mux.Handle("/test", TestPageHandler(hub))
	return mux
}
