/*Package export writes sweep traces in the station's plain-text format.

The format is fixed; downstream analysis scripts parse it by line.  A
header block of "#" lines carries the sample geometry and the figures of
merit, then "# Voltage\tCurrent" introduces N tab-separated data rows.
*/
package export

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/photovolt/ivlab/iv"
)

// ErrNoData is returned when an export is requested before any sweep has run
var ErrNoData = errors.New("no sweep data to export")

// Trace bundles everything that lands in one exported file
type Trace struct {
	// Area is the sample area in cm^2
	Area float64

	// Flux is the incident flux power density in mW/cm^2
	Flux float64

	Metrics iv.Metrics
	Curve   iv.Curve
}

// Write emits the trace onto w in the fixed station format
func (t Trace) Write(w io.Writer) error {
	if t.Curve.Len() == 0 {
		return ErrNoData
	}
	// header block; field formats are load-bearing, do not tidy them
	lines := []string{
		fmt.Sprintf("# Area = %0.5f (units?)\n", t.Area),
		fmt.Sprintf("# Flux = %0.5f (units?)\n", t.Flux),
		fmt.Sprintf("# Max Current = %0.5f mA\n", t.Metrics.MaxCurrent),
		fmt.Sprintf("# Max Voltage = %0.5f V\n", t.Metrics.OpenCircuitV),
		fmt.Sprintf("# Fill Factor = %0.3f \n", t.Metrics.FillFactor),
		fmt.Sprintf("# Efficiency = %0.3f\n", t.Metrics.Efficiency),
		"# Voltage\tCurrent\n",
	}
	for _, line := range lines {
		if _, err := io.WriteString(w, line); err != nil {
			return errors.Wrap(err, "writing trace header")
		}
	}
	for j := 0; j < t.Curve.Len(); j++ {
		_, err := fmt.Fprintf(w, "%0.5f\t%0.5g\n", t.Curve.Voltage[j], t.Curve.Current[j])
		if err != nil {
			return errors.Wrapf(err, "writing trace row %d", j)
		}
	}
	return nil
}

// Save writes the trace to a file at path.  Failures (permission, disk
// full) are surfaced for the operator to retry; a partial file is removed.
func (t Trace) Save(path string) error {
	if t.Curve.Len() == 0 {
		return ErrNoData
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating trace file %s", path)
	}
	if err := t.Write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "closing trace file %s", path)
	}
	return nil
}
