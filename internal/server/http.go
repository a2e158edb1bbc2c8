package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/qdl-go/qdl/internal/bootstrap"
	"github.com/qdl-go/qdl/internal/logs"
	"github.com/qdl-go/qdl/internal/server/status"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// ErrNoHost is returned for listen addresses without a host. The log
// download only accepts requests whose Origin names the page's host, and
// browsers never send an Origin without one.
var ErrNoHost = errors.New("status address needs a host, e.g. 127.0.0.1:21339")

// CheckAddr checks that addr is a host:port the status page can be served on.
func CheckAddr(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("status address: %w", err)
	}
	if host == "" {
		return ErrNoHost
	}
	return nil
}

type serverPrivate struct {
	*http.Server
}

// Server serves the status page of a running flash session.
type Server struct {
	serverPrivate

	writer io.Writer
}

func New(
	addr string,
	state *bootstrap.State,
	stderrWriter io.Writer,
	shortWriter *logs.MemoryWriter,
	longWriter *logs.MemoryWriter,
	version string,
) (*Server, error) {
	if err := CheckAddr(addr); err != nil {
		return nil, err
	}
	logger := &logs.Logger{Writer: longWriter}
	logger.Log("starting status server on " + addr)

	https := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	allWriter := io.MultiWriter(stderrWriter, shortWriter, longWriter)
	s := &Server{
		serverPrivate: serverPrivate{
			Server: https,
		},
		writer: allWriter,
	}

	s.Handler = s.handler(state, shortWriter, longWriter, version)

	logger.Log("server created")
	return s, nil
}

func (s *Server) handler(state *bootstrap.State, shortWriter, longWriter *logs.MemoryWriter, version string) http.Handler {
	r := mux.NewRouter()
	statusRouter := r.PathPrefix("/status").Subrouter()
	redirectRouter := r.Methods("GET").Path("/").Subrouter()

	status.ServeStatus(statusRouter, state, version, "http://"+s.Addr, shortWriter, longWriter)
	status.ServeStatusRedirect(redirectRouter)

	var h http.Handler = r

	// Log after the request is done, in the Apache format.
	h = handlers.LoggingHandler(s.writer, h)
	// Log when the request is received.
	h = s.logRequest(h)
	return h
}

func (s *Server) logRequest(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		text := fmt.Sprintf("%s %s\n", r.Method, r.URL)
		_, err := s.writer.Write([]byte(text))
		if err != nil {
			// give up, just print on stdout
			fmt.Println(err)
		}
		handler.ServeHTTP(w, r)
	})
}

func (s *Server) Run() error {
	return s.ListenAndServe()
}
