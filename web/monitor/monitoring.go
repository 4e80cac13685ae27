// Package monitor serves the statistics of projectors over HTTP.
package monitor

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"github.com/lovoo/projector"
	"github.com/lovoo/projector/logger"
)

// StatsSource provides the statistics of a projector.
type StatsSource interface {
	Stats() *projector.ProjectorStats
}

// Server is the main type used by clients to interact with the monitoring
// functionality of the projector.
type Server struct {
	log logger.Logger
	m   sync.RWMutex

	basePath   string
	projectors map[string]StatsSource
}

// NewServer creates a new Server
func NewServer(basePath string, router *mux.Router, opts ...Option) *Server {
	srv := &Server{
		log:        logger.Default(),
		basePath:   basePath,
		projectors: make(map[string]StatsSource),
	}

	for _, opt := range opts {
		opt(srv)
	}

	sub := router.PathPrefix(basePath).Subrouter()
	sub.HandleFunc("/", srv.index).Methods(http.MethodGet)
	sub.HandleFunc("/health", srv.health).Methods(http.MethodGet)
	sub.HandleFunc("/projector/{name}", srv.renderProjector).Methods(http.MethodGet)
	sub.HandleFunc("/projector/{name}/{partition:[0-9]+}", srv.renderPartition).Methods(http.MethodGet)

	return srv
}

// BasePath returns the path prefix of the routes.
func (s *Server) BasePath() string {
	return s.basePath
}

// AttachProjector attaches the statistics of a projector under name.
func (s *Server) AttachProjector(name string, p StatsSource) {
	s.m.Lock()
	defer s.m.Unlock()
	s.projectors[name] = p
}

func (s *Server) projector(name string) StatsSource {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.projectors[name]
}

func (s *Server) names() []string {
	s.m.RLock()
	defer s.m.RUnlock()
	names := make([]string, 0, len(s.projectors))
	for name := range s.projectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) write(w http.ResponseWriter, status int, value interface{}) {
	marshalled, err := json.Marshal(value)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(marshalled); err != nil {
		s.log.Printf("error writing stats: %v", err)
	}
}

// index lists the attached projectors
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.write(w, http.StatusOK, map[string][]string{"projectors": s.names()})
}

// health fails if any partition halted
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	halted := make(map[string]map[uint32]string)
	for _, name := range s.names() {
		for partition, stats := range s.projector(name).Stats().Partitions {
			if !stats.Halted {
				continue
			}
			if halted[name] == nil {
				halted[name] = make(map[uint32]string)
			}
			halted[name][partition] = stats.HaltError
		}
	}

	if len(halted) > 0 {
		s.write(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "halted", "halted": halted})
		return
	}
	s.write(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) renderProjector(w http.ResponseWriter, r *http.Request) {
	p := s.projector(mux.Vars(r)["name"])
	if p == nil {
		http.NotFound(w, r)
		return
	}
	s.write(w, http.StatusOK, p.Stats())
}

func (s *Server) renderPartition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p := s.projector(vars["name"])
	if p == nil {
		http.NotFound(w, r)
		return
	}
	partition, err := strconv.ParseUint(vars["partition"], 10, 32)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	stats, ok := p.Stats().Partitions[uint32(partition)]
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.write(w, http.StatusOK, stats)
}
