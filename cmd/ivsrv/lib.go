package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/photovolt/ivlab/bench"
	"github.com/photovolt/ivlab/comm"
	"github.com/photovolt/ivlab/generichttp"
	"github.com/photovolt/ivlab/gpib"
	"github.com/photovolt/ivlab/keithley"
	"github.com/photovolt/ivlab/server/middleware/locker"
	"github.com/photovolt/ivlab/usbtmc"
)

// ObjSetup holds the args needed to stand up one instrument node
type ObjSetup struct {
	// Addr holds the network or filesystem address of the remote device,
	// e.g. 192.168.100.123:1394 for a device behind a terminal server,
	// or /dev/ttyUSB0 for a serial cable or Prologix USB adapter
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Endpoint is the URL stem the node's routes are served under,
	// ex. Endpoint="/lab/cell1" produces routes of /lab/cell1/sweep, etc.
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`

	// Transport selects how bytes reach the instrument:
	// tcp, serial, gpib, gpib-serial, or usbtmc
	Transport string `yaml:"Transport" koanf:"Transport"`

	// Type is the kind of instrument, e.g. keithley2401 or mock
	Type string `yaml:"Type" koanf:"Type"`

	// GPIBAddr is the instrument's bus address, used by the gpib transports
	GPIBAddr int `yaml:"GPIBAddr" koanf:"GPIBAddr"`

	// VID and PID identify the USB device, used by the usbtmc transport
	VID uint16 `yaml:"VID" koanf:"VID"`
	PID uint16 `yaml:"PID" koanf:"PID"`
}

// Config holds the initialization parameters for the served instruments.
// It is populated from the yaml config file.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Mock replaces every node with a simulated instrument
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// Nodes is the list of instruments to set up
	Nodes []ObjSetup `yaml:"Nodes" koanf:"Nodes"`
}

// prologix USB adapters enumerate as a 115200 8N1 serial port
func gpibSerialConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 3 * time.Second,
	}
}

// makeInstrument builds the sourcemeter for one node
func makeInstrument(node ObjSetup, mock bool) bench.Instrument {
	typ := strings.ToLower(node.Type)
	if mock || typ == "mock" {
		return keithley.NewMock(node.Addr)
	}
	if typ != "keithley2401" && typ != "2401" {
		log.Fatal("type ", node.Type, " not understood")
	}
	switch strings.ToLower(node.Transport) {
	case "tcp", "":
		return keithley.NewSourceMeter(node.Addr, false)
	case "serial":
		return keithley.NewSourceMeter(node.Addr, true)
	case "gpib":
		underlying := comm.TCPMaker(node.Addr, 3*time.Second)
		return keithley.NewSourceMeterBus(gpib.Maker(underlying, node.GPIBAddr))
	case "gpib-serial":
		underlying := comm.SerialMaker(gpibSerialConf(node.Addr))
		return keithley.NewSourceMeterBus(gpib.Maker(underlying, node.GPIBAddr))
	case "usbtmc":
		return keithley.NewSourceMeterBus(usbtmc.Maker(node.VID, node.PID))
	default:
		log.Fatal("transport ", node.Transport, " not understood")
		return nil
	}
}

// BuildMux stands up a chi router with a submux per configured node.
// The mux serves a special route, /endpoints, which returns a map of
// node stems to their routes as JSON.
func BuildMux(c Config) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	for _, node := range c.Nodes {
		inst := makeInstrument(node, c.Mock)
		session := bench.NewSession(inst)
		httper := bench.NewHTTPSession(session)

		// prepare the URL, "lab/cell1" => "/lab/cell1/*"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)
		supergraph[hndlS] = httper.RT().Endpoints()

		// add a lock interface for this node
		lock := locker.New()
		locker.Inject(httper, lock)

		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
		log.WithFields(log.Fields{
			"endpoint":  hndlS,
			"type":      node.Type,
			"transport": node.Transport,
		}).Info("node configured")
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
