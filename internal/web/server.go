// Package web provides an HTTP status server for the checkup-sensor daemon.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/sweeney/checkup-sensor/internal/mqtt"
	"github.com/sweeney/checkup-sensor/internal/status"
)

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
}

// New creates a Server that reads state from the given tracker.
//
// Routes:
//
//	/, /index.html      HTML panel
//	/index.json         full status
//	/index.cbor         full status, CBOR encoded
//	/signals/{name}     one signal
//	/stable             200 once every signal is trusted, 503 before
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/index.cbor", s.handleCBOR)
	mux.HandleFunc("GET /signals/{name}", s.handleSignal)
	mux.HandleFunc("/stable", s.handleStable)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleCBOR(w http.ResponseWriter, r *http.Request) {
	data, err := mqtt.EncodingCBOR.Marshal(status.Build(s.tracker.Snapshot()))
	if err != nil {
		log.Printf("web: encode cbor: %v", err)
		http.Error(w, "encoding error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.Write(data)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	sig, ok := status.BuildSignal(s.tracker.Snapshot(), r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sig)
}

// handleStable answers with the panel text so a shell loop can poll
// `curl -f` until the reading is trusted.
func (s *Server) handleStable(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !snap.AllStable {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Write([]byte(strings.Join(snap.Panel, "\n") + "\n"))
}
