/*Package status exposes a read-only HTTP surface reporting session phase
and transfer progress (spec.md §4.12 / SPEC_FULL.md DOMAIN STACK).

Route binding follows generichttp/motion's chi-based handler pattern
(chi.URLParam / http.HandlerFunc registered on a *chi.Mux), the newer of
the two router idioms present in the teacher corpus (the older packages
use goji.io; one router is enough here, see DESIGN.md).

The server only ever reads atomically-published snapshots; it never
calls into package transport or session, preserving the single-session-
task ordering rule of spec.md §5.
*/
package status

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/odinflash/internal/progress"
	"github.com/nasa-jpl/odinflash/session"
)

// Snapshot is the full state a status server reports.
type Snapshot struct {
	Phase    string             `json:"phase"`
	Device   string             `json:"device,omitempty"`
	Progress progress.Snapshot  `json:"progress"`
}

// Publisher is the write side used by the flasher orchestrator to
// publish state as it changes.
type Publisher struct {
	current atomic.Value // Snapshot
}

// NewPublisher returns a Publisher seeded with a snapshot whose phase is
// "disconnected" and whose other fields are empty.
func NewPublisher() *Publisher {
	p := &Publisher{}
	p.current.Store(Snapshot{Phase: session.Disconnected.String()})
	return p
}

// Set replaces the currently published snapshot.
func (p *Publisher) Set(s Snapshot) { p.current.Store(s) }

// Get returns the currently published snapshot.
func (p *Publisher) Get() Snapshot { return p.current.Load().(Snapshot) }

// Server is the HTTP read surface over a Publisher.
type Server struct {
	pub *Publisher
	mux *chi.Mux
}

// NewServer builds a Server with its routes bound.
func NewServer(pub *Publisher) *Server {
	s := &Server{pub: pub, mux: chi.NewRouter()}
	s.mux.Get("/status", s.handleStatus)
	s.mux.Get("/progress", s.handleProgress)
	return s
}

// Handler returns the bound chi.Mux for use with http.ListenAndServe.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.pub.Get()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	snap := s.pub.Get()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap.Progress)
}
