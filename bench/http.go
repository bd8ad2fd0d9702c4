package bench

import (
	"encoding/json"
	"net/http"

	"goji.io/pat"

	"github.com/photovolt/ivlab/generichttp"
	"github.com/photovolt/ivlab/keithley"
)

// HTTPSession wraps a Session in an HTTP route table
type HTTPSession struct {
	Session *Session

	RouteTable generichttp.RouteTable
}

// NewHTTPSession builds the route table for a measurement session
func NewHTTPSession(s *Session) HTTPSession {
	w := HTTPSession{Session: s}
	rt := generichttp.RouteTable{
		pat.Get("/version"): generichttp.GetString(s.Identification),
		pat.Post("/beep"): w.Beep,

		pat.Get("/sweep-config"):  w.GetSweepConfig,
		pat.Post("/sweep-config"): w.SetSweepConfig,
		pat.Post("/sweep"):        w.Sweep,

		pat.Get("/result"):  w.Result,
		pat.Get("/metrics"): w.Metrics,
		pat.Get("/plot"):    w.Plot,
		pat.Get("/trace"):   w.Trace,
		pat.Post("/export"): w.Export,

		pat.Get("/output"):  generichttp.GetBool(s.GetOutput),
		pat.Post("/output"): w.SetOutput,

		pat.Get("/terminal"):  generichttp.GetString(s.GetTerminal),
		pat.Post("/terminal"): generichttp.SetString(s.SetTerminal),

		pat.Get("/area"):  generichttp.GetFloat(s.Area),
		pat.Post("/area"): generichttp.SetFloat(s.SetArea),

		pat.Get("/flux"):  generichttp.GetFloat(s.Flux),
		pat.Post("/flux"): generichttp.SetFloat(s.SetFlux),
	}
	if raw, ok := s.inst.(generichttp.RawCommunicator); ok {
		generichttp.InjectRawComm(rt, raw)
	}
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPSession) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Beep chirps the instrument so an operator can find it on the bench
func (h HTTPSession) Beep(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Beep(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetSweepConfig returns the programmed sweep recipe as JSON
func (h HTTPSession) GetSweepConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.Session.Config()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// SetSweepConfig parses a sweep recipe from JSON and programs the
// instrument with it
func (h HTTPSession) SetSweepConfig(w http.ResponseWriter, r *http.Request) {
	var cfg keithley.SweepConfig
	err := json.NewDecoder(r.Body).Decode(&cfg)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Session.Configure(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Sweep runs the blocking sweep and returns the result as JSON.  The
// client's request rides out the full sweep duration; a second sweep
// request in that window receives 423.
func (h HTTPSession) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.Session.Sweep()
	if err != nil {
		if err == ErrSweepInProgress {
			http.Error(w, err.Error(), http.StatusLocked)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Result returns the last sweep result as JSON
func (h HTTPSession) Result(w http.ResponseWriter, r *http.Request) {
	res, err := h.Session.Last()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Metrics returns only the figures of merit of the last sweep
func (h HTTPSession) Metrics(w http.ResponseWriter, r *http.Request) {
	res, err := h.Session.Last()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res.Metrics); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Plot renders the last curve as SVG
func (h HTTPSession) Plot(w http.ResponseWriter, r *http.Request) {
	svg, err := h.Session.PlotSVG()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write([]byte(svg))
}

// Trace serves the station-format trace file as a download
func (h HTTPSession) Trace(w http.ResponseWriter, r *http.Request) {
	t, err := h.Session.Trace()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Disposition", `attachment; filename="trace.txt"`)
	if err := t.Write(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Export saves the trace to a path on the server's filesystem, taken from
// json {'str': path}
func (h HTTPSession) Export(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Str string `json:"str"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Str == "" {
		http.Error(w, "path must not be empty", http.StatusBadRequest)
		return
	}
	if err := h.Session.SaveTo(body.Str); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SetOutput arms or disarms the source output from json {'bool': v}
func (h HTTPSession) SetOutput(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Bool bool `json:"bool"`
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Bool {
		err = h.Session.EnableOutput()
	} else {
		err = h.Session.DisableOutput()
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
