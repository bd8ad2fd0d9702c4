/*Package gpib adapts a Prologix-style GPIB controller-in-charge to the
io.ReadWriteCloser shape used by the comm pool.

The controller sits between the host and the instrument: lines beginning
with "++" configure the controller itself, anything else is forwarded to
the addressed instrument on the bus.  With read-after-write disabled (the
safe default), the controller must be told to read back from the bus, so
Read issues "++read eoi" before pulling data.
*/
package gpib

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/photovolt/ivlab/comm"
)

// Controller is a GPIB controller-in-charge addressing a single instrument.
// It implements io.ReadWriteCloser over the underlying serial or TCP link.
type Controller struct {
	rwc  io.ReadWriteCloser
	br   *bufio.Reader
	addr int
	auto bool
	term byte
}

// NewController configures the controller on rwc to address the instrument
// at the given primary address (0-30).  clear additionally sends the
// Selected Device Clear message.
func NewController(rwc io.ReadWriteCloser, addr int, clear bool) (*Controller, error) {
	if addr < 0 || addr > 30 {
		return nil, fmt.Errorf("invalid primary address %d (must be 0-30)", addr)
	}
	c := &Controller{
		rwc:  rwc,
		br:   bufio.NewReader(rwc),
		addr: addr,
		term: '\n',
	}
	cmds := []string{
		fmt.Sprintf("addr %d", addr),
		"mode 1",           // controller-in-charge
		"auto 0",           // no read-after-write, we ask when we want data
		"eoi 1",            // assert EOI with the last character
		"eos 0",            // CR+LF bus termination
		"read_tmo_ms 3000", // bus read timeout
		"eot_char 10",      // append \n when EOI seen
		"eot_enable 1",
	}
	if clear {
		cmds = append(cmds, "clr")
	}
	for _, cmd := range cmds {
		if err := c.command(cmd); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// command sends a "++" command to the controller itself, not the bus
func (c *Controller) command(cmd string) error {
	_, err := fmt.Fprintf(c.rwc, "++%s%c", strings.ToLower(strings.TrimSpace(cmd)), c.term)
	return err
}

// queryController sends a "++" command and reads the controller's reply
func (c *Controller) queryController(cmd string) (string, error) {
	if err := c.command(cmd); err != nil {
		return "", err
	}
	s, err := c.br.ReadString(c.term)
	return strings.TrimRight(s, "\r\n"), err
}

// Write forwards p to the addressed instrument.  The caller's terminator is
// passed through untouched.
func (c *Controller) Write(p []byte) (int, error) {
	return c.rwc.Write(p)
}

// Read pulls instrument data off the bus.  With read-after-write disabled
// the controller must be prompted first.
func (c *Controller) Read(p []byte) (int, error) {
	if !c.auto {
		if _, err := fmt.Fprintf(c.rwc, "++read eoi%c", c.term); err != nil {
			return 0, err
		}
	}
	return c.br.Read(p)
}

// Close returns the instrument to local control and closes the link.
// Both failures are reported if both occur.
func (c *Controller) Close() error {
	err := c.command("loc")
	return multierr.Append(err, c.rwc.Close())
}

// Version returns the controller's firmware version string
func (c *Controller) Version() (string, error) {
	return c.queryController("ver")
}

// InstrumentAddress returns the GPIB address the controller is set to talk to
func (c *Controller) InstrumentAddress() (int, error) {
	s, err := c.queryController("addr")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, fmt.Errorf("controller returned an empty reply to the address query")
	}
	return strconv.Atoi(fields[0])
}

// ServiceRequest reports whether the SRQ line is asserted
func (c *Controller) ServiceRequest() (bool, error) {
	s, err := c.queryController("srq")
	if err != nil {
		return false, err
	}
	return s == "1", nil
}

// ClearDevice sends the Selected Device Clear message to the instrument
func (c *Controller) ClearDevice() error {
	return c.command("clr")
}

// Maker returns a comm.CreationFunc which opens the underlying link and
// stands up a controller addressing addr on it
func Maker(underlying comm.CreationFunc, addr int) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		rwc, err := underlying()
		if err != nil {
			return nil, err
		}
		c, err := NewController(rwc, addr, false)
		if err != nil {
			rwc.Close()
			return nil, err
		}
		return c, nil
	}
}
