package status

import (
	"fmt"
	"net/http"

	"github.com/qdl-go/qdl/internal/bootstrap"
	"github.com/qdl-go/qdl/internal/logs"

	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"
)

// This package serves the status page on /status/ and the
// long log at /status/log.gz

type status struct {
	state                               *bootstrap.State
	version                             string
	shortMemoryWriter, longMemoryWriter *logs.MemoryWriter
	logger                              *logs.Logger
}

const csrfkey = "q2dl7v0k4m1xw9hj6p3r8sz5ntb0yc4e"

func ServeStatusRedirect(r *mux.Router) {
	r.HandleFunc("/", redirect)
	r.Use(OriginCheck(map[string]string{
		"": "",
	}))
}

func redirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/status/", http.StatusMovedPermanently)
}

// ServeStatus registers the status routes. origin is the scheme and host the
// page is served from; the log download only accepts requests from there.
func ServeStatus(r *mux.Router, state *bootstrap.State, v, origin string, mw, dmw *logs.MemoryWriter) {
	status := &status{
		state:             state,
		version:           v,
		shortMemoryWriter: mw,
		longMemoryWriter:  dmw,
		logger:            &logs.Logger{Writer: dmw},
	}
	r.Methods("GET").Path("/").HandlerFunc(status.statusPage)
	r.Methods("POST").Path("/log.gz").HandlerFunc(status.statusGzip)

	r.Use(csrf.Protect([]byte(csrfkey), csrf.Secure(false)))
	r.Use(OriginCheck(map[string]string{
		"/status/":       "",
		"/status/log.gz": origin,
	}))
}

func (s *status) statusGzip(w http.ResponseWriter, r *http.Request) {
	s.logger.Log("building gzip")

	start := s.version + "\n" + s.describe() + "\nCurrent log:\n"
	gzip, err := s.longMemoryWriter.Gzip(start)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")

	_, err = w.Write(gzip)
	if err != nil {
		respondError(w, err)
		return
	}
}

func (s *status) statusPage(w http.ResponseWriter, r *http.Request) {
	s.logger.Log("building status page")

	log, err := s.shortMemoryWriter.String(s.version + "\n")
	if err != nil {
		respondError(w, err)
		return
	}

	snap := s.state.Snapshot()
	data := &statusTemplateData{
		Version:   s.version,
		Phase:     string(snap.Phase),
		Files:     makeStatusTemplateFiles(snap),
		Device:    makeStatusTemplateDevice(snap),
		Log:       log,
		IsError:   snap.Err != "",
		Error:     snap.Err,
		CSRFField: csrf.TemplateField(r),
	}

	err = statusTemplate.Execute(w, data)
	if err != nil {
		respondError(w, err)
		return
	}
}

// describe is the plain text version of the page, put on top of the long log.
func (s *status) describe() string {
	snap := s.state.Snapshot()
	res := fmt.Sprintf("phase: %s\n", snap.Phase)
	if snap.Err != "" {
		res += fmt.Sprintf("error: %s\n", snap.Err)
	}
	for _, f := range snap.Staged {
		res += fmt.Sprintf("staged %s %s\n", f.Kind, f.Path)
	}
	if snap.Device != nil {
		res += fmt.Sprintf("device %s\n", snap.Device)
	}
	return res
}

func respondError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func makeStatusTemplateFiles(snap bootstrap.Snapshot) []statusTemplateFile {
	files := make([]statusTemplateFile, 0, len(snap.Staged))
	for _, f := range snap.Staged {
		files = append(files, statusTemplateFile{
			Kind: f.Kind.String(),
			Path: f.Path,
		})
	}
	return files
}

func makeStatusTemplateDevice(snap bootstrap.Snapshot) *statusTemplateDevice {
	c := snap.Device
	if c == nil {
		return nil
	}
	return &statusTemplateDevice{
		Location: fmt.Sprintf("%d:%d", c.Bus, c.Address),
		ID:       fmt.Sprintf("%04x:%04x", c.Vendor, c.Product),
		Config:   c.Config,
		Iface:    c.Interface,
		Triple:   fmt.Sprintf("%02x/%02x/%02x", c.Class, c.SubClass, c.Protocol),
		In:       fmt.Sprintf("0x%02x (%d)", c.In.Address, c.In.MaxPacketSize),
		Out:      fmt.Sprintf("0x%02x (%d)", c.Out.Address, c.Out.MaxPacketSize),
	}
}
