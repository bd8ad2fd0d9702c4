// Command ivsweep runs a single I-V sweep from the command line and writes
// the trace file, for quick checks without standing up the HTTP server.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"

	"github.com/photovolt/ivlab/bench"
	"github.com/photovolt/ivlab/keithley"
)

func main() {
	var (
		addr     = flag.String("addr", "", "instrument address, host:port or serial device file")
		serialC  = flag.Bool("serial", false, "addr is a serial device file")
		mock     = flag.Bool("mock", false, "use the simulated instrument instead of hardware")
		start    = flag.Float64("start", 0, "sweep start voltage, V")
		stop     = flag.Float64("stop", 2, "sweep stop voltage, V")
		points   = flag.Int("points", 100, "number of sweep points")
		terminal = flag.String("terminal", "front", "instrument terminal, front or rear")
		area     = flag.Float64("area", bench.DefaultArea, "sample area, cm^2")
		flux     = flag.Float64("flux", bench.DefaultFlux, "incident flux, mW/cm^2")
		out      = flag.String("o", "trace.txt", "trace output path")
		svg      = flag.String("svg", "", "also render the curve as SVG to this path")
	)
	flag.Parse()

	var inst bench.Instrument
	if *mock {
		inst = keithley.NewMock(*addr)
	} else {
		if *addr == "" {
			fmt.Fprintln(os.Stderr, "an instrument address is required; see -help")
			os.Exit(2)
		}
		inst = keithley.NewSourceMeter(*addr, *serialC)
	}

	session := bench.NewSession(inst)
	if err := session.SetArea(*area); err != nil {
		log.Fatal(err)
	}
	if err := session.SetFlux(*flux); err != nil {
		log.Fatal(err)
	}
	cfg := keithley.SweepConfig{
		Start:    *start,
		Stop:     *stop,
		Points:   *points,
		Terminal: *terminal,
	}
	if err := session.Configure(cfg); err != nil {
		log.Fatal(err)
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[11],
		Suffix:          " sweeping",
		Message:         fmt.Sprintf("%0.2f V to %0.2f V, %d points", *start, *stop, *points),
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
		SuffixAutoColon: true,
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	res, err := session.Sweep()
	if err != nil {
		spinner.StopFail()
		log.Fatal(err)
	}
	spinner.Stop()

	m := res.Metrics
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Figure", "Value"})
	table.Append([]string{"Max current (mA)", fmt.Sprintf("%0.5f", m.MaxCurrent*1000)})
	table.Append([]string{"Max power (mW)", fmt.Sprintf("%0.5f", m.MaxPower*1000)})
	table.Append([]string{"Open circuit V", fmt.Sprintf("%0.5f", m.OpenCircuitV)})
	table.Append([]string{"Fill factor", fmt.Sprintf("%0.3f", m.FillFactor)})
	table.Append([]string{"Efficiency", fmt.Sprintf("%0.3g", m.Efficiency)})
	table.Render()

	if err := session.SaveTo(*out); err != nil {
		log.Fatal(err)
	}
	fmt.Println("trace written to", *out)

	if *svg != "" {
		doc, err := session.PlotSVG()
		if err != nil {
			log.Fatal(err)
		}
		if err := os.WriteFile(*svg, []byte(doc), 0644); err != nil {
			log.Fatal(err)
		}
		fmt.Println("plot written to", *svg)
	}
}
