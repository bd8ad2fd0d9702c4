package bench_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/photovolt/ivlab/bench"
	"github.com/photovolt/ivlab/iv"
	"github.com/photovolt/ivlab/keithley"
)

func configuredSession(t *testing.T) *bench.Session {
	t.Helper()
	m := keithley.NewMock("")
	cfg := keithley.SweepConfig{Start: 0, Stop: 1, Points: 51, Terminal: keithley.TerminalFront}
	if err := m.Configure(cfg); err != nil {
		t.Fatal("Configure failed:", err)
	}
	return bench.NewSession(m)
}

func TestSweepProducesResult(t *testing.T) {
	s := configuredSession(t)
	res, err := s.Sweep()
	if err != nil {
		t.Fatal("Sweep failed:", err)
	}
	if res.Curve.Len() != 51 {
		t.Errorf("expected 51 points, got %d", res.Curve.Len())
	}
	if res.Metrics.FillFactor <= 0 || res.Metrics.FillFactor >= 1 {
		t.Errorf("fill factor %v outside (0, 1)", res.Metrics.FillFactor)
	}
	if res.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("result was not assigned an ID")
	}
	last, err := s.Last()
	if err != nil {
		t.Fatal("Last failed after sweep:", err)
	}
	if last.ID != res.ID {
		t.Error("Last does not return the sweep just taken")
	}
}

func TestLastBeforeAnySweep(t *testing.T) {
	s := configuredSession(t)
	if _, err := s.Last(); err != bench.ErrNoResult {
		t.Errorf("expected ErrNoResult, got %v", err)
	}
	if _, err := s.Trace(); err != bench.ErrNoResult {
		t.Errorf("expected ErrNoResult from Trace, got %v", err)
	}
}

func TestSetAreaRederivesEfficiency(t *testing.T) {
	s := configuredSession(t)
	res, err := s.Sweep()
	if err != nil {
		t.Fatal("Sweep failed:", err)
	}
	if err := s.SetArea(2 * bench.DefaultArea); err != nil {
		t.Fatal("SetArea failed:", err)
	}
	last, _ := s.Last()
	ratio := last.Metrics.Efficiency / res.Metrics.Efficiency
	if ratio < 1.999 || ratio > 2.001 {
		t.Errorf("doubling area should double efficiency, ratio = %v", ratio)
	}
	if last.Metrics.FillFactor != res.Metrics.FillFactor {
		t.Error("fill factor must not depend on sample area")
	}
}

func TestParameterValidation(t *testing.T) {
	s := configuredSession(t)
	if err := s.SetArea(0); err == nil {
		t.Error("zero area should be rejected")
	}
	if err := s.SetFlux(-5); err == nil {
		t.Error("negative flux should be rejected")
	}
}

// blockingInstrument parks RunSweep until released, to exercise the
// one-sweep-at-a-time guard.
type blockingInstrument struct {
	*keithley.Mock
	enter   chan struct{}
	release chan struct{}
}

func (b *blockingInstrument) RunSweep() (iv.Curve, error) {
	b.enter <- struct{}{}
	<-b.release
	return b.Mock.RunSweep()
}

func TestConcurrentSweepRejected(t *testing.T) {
	bi := &blockingInstrument{
		Mock:    keithley.NewMock(""),
		enter:   make(chan struct{}),
		release: make(chan struct{}),
	}
	cfg := keithley.SweepConfig{Start: 0, Stop: 1, Points: 11, Terminal: keithley.TerminalFront}
	if err := bi.Configure(cfg); err != nil {
		t.Fatal("Configure failed:", err)
	}
	s := bench.NewSession(bi)
	errc := make(chan error, 1)
	go func() {
		_, err := s.Sweep()
		errc <- err
	}()
	<-bi.enter
	if _, err := s.Sweep(); err != bench.ErrSweepInProgress {
		t.Errorf("expected ErrSweepInProgress, got %v", err)
	}
	close(bi.release)
	if err := <-errc; err != nil {
		t.Fatal("first sweep failed:", err)
	}
}

func serveSession(t *testing.T, s *bench.Session) *httptest.Server {
	t.Helper()
	h := bench.NewHTTPSession(s)
	r := chi.NewRouter()
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSweepAndMetrics(t *testing.T) {
	s := configuredSession(t)
	srv := serveSession(t, s)

	resp, err := http.Post(srv.URL+"/sweep", "application/json", nil)
	if err != nil {
		t.Fatal("sweep request failed:", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sweep returned %d", resp.StatusCode)
	}
	var res bench.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal("decoding sweep response:", err)
	}
	if res.Curve.Len() != 51 {
		t.Errorf("expected 51 points over HTTP, got %d", res.Curve.Len())
	}

	resp2, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal("metrics request failed:", err)
	}
	defer resp2.Body.Close()
	var m iv.Metrics
	if err := json.NewDecoder(resp2.Body).Decode(&m); err != nil {
		t.Fatal("decoding metrics:", err)
	}
	if m.FillFactor != res.Metrics.FillFactor {
		t.Error("metrics route disagrees with sweep result")
	}
}

func TestHTTPResultBeforeSweepIs404(t *testing.T) {
	srv := serveSession(t, configuredSession(t))
	for _, route := range []string{"/result", "/metrics", "/plot", "/trace"} {
		resp, err := http.Get(srv.URL + route)
		if err != nil {
			t.Fatal("request failed:", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s before any sweep returned %d, want 404", route, resp.StatusCode)
		}
	}
}

func TestHTTPSweepConfigRoundTrip(t *testing.T) {
	srv := serveSession(t, configuredSession(t))
	cfg := keithley.SweepConfig{Start: 0, Stop: 2, Points: 25, Terminal: keithley.TerminalRear}
	buf, _ := json.Marshal(cfg)
	resp, err := http.Post(srv.URL+"/sweep-config", "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatal("config post failed:", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("config post returned %d", resp.StatusCode)
	}
	resp2, err := http.Get(srv.URL + "/sweep-config")
	if err != nil {
		t.Fatal("config get failed:", err)
	}
	defer resp2.Body.Close()
	var got keithley.SweepConfig
	if err := json.NewDecoder(resp2.Body).Decode(&got); err != nil {
		t.Fatal("decoding config:", err)
	}
	if got != cfg {
		t.Errorf("config round trip mismatch: %+v != %+v", got, cfg)
	}
}

func TestHTTPBadSweepConfigRejected(t *testing.T) {
	srv := serveSession(t, configuredSession(t))
	cfg := keithley.SweepConfig{Start: 0, Stop: 99, Points: 25, Terminal: keithley.TerminalFront}
	buf, _ := json.Marshal(cfg)
	resp, err := http.Post(srv.URL+"/sweep-config", "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatal("config post failed:", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("out-of-range recipe returned %d, want 400", resp.StatusCode)
	}
}

func TestHTTPTraceDownload(t *testing.T) {
	s := configuredSession(t)
	if _, err := s.Sweep(); err != nil {
		t.Fatal("Sweep failed:", err)
	}
	srv := serveSession(t, s)
	resp, err := http.Get(srv.URL + "/trace")
	if err != nil {
		t.Fatal("trace request failed:", err)
	}
	defer resp.Body.Close()
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("trace should download as attachment, got %q", cd)
	}
	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	text := body.String()
	for _, want := range []string{"# Area = ", "# Flux = ", "# Fill Factor = ", "# Voltage\tCurrent"} {
		if !strings.Contains(text, want) {
			t.Errorf("trace body missing %q", want)
		}
	}
}

func TestHTTPAreaUpdate(t *testing.T) {
	s := configuredSession(t)
	srv := serveSession(t, s)
	resp, err := http.Post(srv.URL+"/area", "application/json", strings.NewReader(`{"f64": 1.5}`))
	if err != nil {
		t.Fatal("area post failed:", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("area post returned %d", resp.StatusCode)
	}
	a, _ := s.Area()
	if a != 1.5 {
		t.Errorf("area = %v, want 1.5", a)
	}
}
