// Package query serves the committed state of a projector read-only over
// HTTP.
package query

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"github.com/lovoo/projector/logger"
	"github.com/lovoo/projector/rules"
	"github.com/lovoo/projector/state"
)

// Source returns the committed state of table ns of a partition, e.g. a
// *projector.Projector.
type Source interface {
	Partitions() []uint32
	Reader(partition uint32, ns string) (state.Reader, error)
}

// Humanizer takes an object in and returns out it's human readable
// representation.
type Humanizer interface {
	// Humanize returns a human readable representation of the supplied value.
	Humanize(interface{}) ([]byte, error)
}

// HumanizerFunc is an adapter to make conforming functions into Humanizers.
type HumanizerFunc func(interface{}) ([]byte, error)

// Humanize returns the human readable representation of val.
func (fn HumanizerFunc) Humanize(val interface{}) ([]byte, error) {
	return fn(val)
}

// DefaultHumanizer returns the indented JSON representation of val.
func DefaultHumanizer() Humanizer {
	return HumanizerFunc(func(val interface{}) ([]byte, error) {
		return json.MarshalIndent(val, "", "  ")
	})
}

// Server provides HTTP routes for querying the tables of a projector.
type Server struct {
	log logger.Logger
	m   sync.RWMutex

	basePath  string
	source    Source
	tables    map[string]bool
	humanizer Humanizer
}

// NewServer creates a server for source and registers its routes below
// basePath.
func NewServer(basePath string, router *mux.Router, source Source, opts ...Option) *Server {
	srv := &Server{
		log:       logger.Default(),
		basePath:  basePath,
		source:    source,
		tables:    make(map[string]bool),
		humanizer: DefaultHumanizer(),
	}
	for _, table := range []string{rules.GroupTable, rules.ProcessTable, rules.ProcessInstanceTable} {
		srv.tables[table] = true
	}

	for _, opt := range opts {
		opt(srv)
	}

	sub := router.PathPrefix(basePath).Subrouter()
	sub.HandleFunc("/", srv.index).Methods(http.MethodGet)
	sub.HandleFunc("/{partition:[0-9]+}/{table}/key/{key}", srv.key).Methods(http.MethodGet)
	sub.HandleFunc("/{partition:[0-9]+}/{table}/key/{key}/members", srv.members).Methods(http.MethodGet)
	sub.HandleFunc("/{partition:[0-9]+}/{table}/key/{key}/members/{type}", srv.members).Methods(http.MethodGet)
	sub.HandleFunc("/{partition:[0-9]+}/{table}/name/{name}", srv.name).Methods(http.MethodGet)

	return srv
}

// BasePath returns the path prefix of the routes.
func (s *Server) BasePath() string {
	return s.basePath
}

// AttachTable allows queries of table.
func (s *Server) AttachTable(table string) {
	s.m.Lock()
	defer s.m.Unlock()
	s.tables[table] = true
}

func (s *Server) tableNames() []string {
	s.m.RLock()
	defer s.m.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) render(w http.ResponseWriter, status int, value interface{}) {
	data, err := s.humanizer.Humanize(value)
	if err != nil {
		http.Error(w, fmt.Sprintf("error marshaling value: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.log.Printf("error writing response: %v", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	s.render(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, map[string]interface{}{
		"partitions": s.source.Partitions(),
		"tables":     s.tableNames(),
	})
}

// reader returns the reader of the partition and table of the request. It
// writes the error response if there is none.
func (s *Server) reader(w http.ResponseWriter, r *http.Request) (state.Reader, bool) {
	vars := mux.Vars(r)
	partition, err := strconv.ParseUint(vars["partition"], 10, 32)
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid partition %q", vars["partition"]))
		return nil, false
	}

	table := vars["table"]
	s.m.RLock()
	known := s.tables[table]
	s.m.RUnlock()
	if !known {
		s.fail(w, http.StatusNotFound, fmt.Errorf("table %q not found", table))
		return nil, false
	}

	reader, err := s.source.Reader(uint32(partition), table)
	if err != nil {
		s.fail(w, http.StatusNotFound, err)
		return nil, false
	}
	return reader, true
}

func (s *Server) parseKey(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := mux.Vars(r)["key"]
	key, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid key %q", raw))
		return 0, false
	}
	return key, true
}

func (s *Server) key(w http.ResponseWriter, r *http.Request) {
	reader, ok := s.reader(w, r)
	if !ok {
		return
	}
	key, ok := s.parseKey(w, r)
	if !ok {
		return
	}

	entity, found, err := reader.Get(key)
	switch {
	case err != nil:
		s.log.Printf("error getting key %d: %v", key, err)
		s.fail(w, http.StatusInternalServerError, err)
	case !found:
		s.fail(w, http.StatusNotFound, fmt.Errorf("key %d not found", key))
	default:
		s.render(w, http.StatusOK, entity)
	}
}

func (s *Server) name(w http.ResponseWriter, r *http.Request) {
	reader, ok := s.reader(w, r)
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]

	key, found, err := reader.GetKeyByName(name)
	switch {
	case err != nil:
		s.log.Printf("error getting name %q: %v", name, err)
		s.fail(w, http.StatusInternalServerError, err)
	case !found:
		s.fail(w, http.StatusNotFound, fmt.Errorf("name %q not found", name))
	default:
		s.render(w, http.StatusOK, map[string]uint64{"key": key})
	}
}

// members renders the members of an entity grouped by type, or only those of
// the type in the path.
func (s *Server) members(w http.ResponseWriter, r *http.Request) {
	reader, ok := s.reader(w, r)
	if !ok {
		return
	}
	key, ok := s.parseKey(w, r)
	if !ok {
		return
	}

	members, err := reader.GetMembershipByType(key)
	if err != nil {
		s.log.Printf("error getting members of %d: %v", key, err)
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	memberType, filtered := mux.Vars(r)["type"]
	if !filtered {
		if members == nil {
			members = make(map[state.MemberType][]uint64)
		}
		s.render(w, http.StatusOK, members)
		return
	}
	keys := members[state.MemberType(memberType)]
	if keys == nil {
		keys = []uint64{}
	}
	s.render(w, http.StatusOK, keys)
}
