// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/photovolt/ivlab/comm"
)

// DefaultTimeout is used when the Timeout field is left zero
const DefaultTimeout = 5 * time.Second

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool

	// Timeout is the deadline applied to each bus transaction.  Sweeping
	// instruments can block a read for tens of seconds, so drivers for
	// them should raise this well above the default.
	Timeout time.Duration
}

func (s *SCPI) timeout() time.Duration {
	if s.Timeout == 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// wrap dresses a leased connection for one transaction.  tx frames writes
// with the transmission terminator; reads go through rx, undressed, so
// ReadUntil sees the receipt terminator.  Links that cannot carry deadlines
// (serial, GPIB bridges) rely on their own read timeouts and are used bare.
func (s *SCPI) wrap(conn io.ReadWriter) (tx io.Writer, rx io.Reader) {
	wrapped, err := comm.NewTimeout(conn, s.timeout())
	if err != nil {
		wrapped = conn
	}
	return comm.NewTerminator(wrapped, '\n'), wrapped
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK.
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	return s.write(s.Handshaking, cmds...)
}

func (s *SCPI) write(handshake bool, cmds ...string) error {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	tx, rx := s.wrap(conn)
	if handshake {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	_, err = io.WriteString(tx, strings.Join(cmds, " "))
	if err != nil {
		return err
	}
	if handshake {
		var resp []byte
		resp, err = comm.ReadUntil(rx, '\n')
		if err != nil {
			return err
		}
		str := string(resp)
		if !strings.HasPrefix(str, "+0") {
			// the device rejected the command; the bus itself is healthy,
			// so err stays nil and the connection is parked for reuse
			return fmt.Errorf(str)
		}
	}
	return nil
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	return s.writeRead(s.Handshaking, cmds...)
}

func (s *SCPI) writeRead(handshake bool, cmds ...string) ([]byte, error) {
	var resp []byte
	conn, err := s.Pool.Get()
	if err != nil {
		return resp, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	tx, rx := s.wrap(conn)
	if handshake {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	_, err = io.WriteString(tx, strings.Join(cmds, " "))
	if err != nil {
		return resp, err
	}
	resp, err = comm.ReadUntil(rx, '\n')
	if err != nil {
		return resp, err
	}
	if handshake {
		idx := strings.LastIndexByte(string(resp), ';')
		if idx == -1 {
			err = fmt.Errorf("handshaking reply lacks error field: %q", resp)
			return resp, err
		}
		errS := string(resp[idx+1:])
		if !strings.HasPrefix(errS, "+0") {
			return resp, fmt.Errorf(errS)
		}
		return resp[:idx], nil
	}
	return resp, nil
}

// ReadString sends a command to the device, then reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	return s.readString(s.Handshaking, cmds...)
}

func (s *SCPI) readString(handshake bool, cmds ...string) (string, error) {
	resp, err := s.writeRead(handshake, cmds...)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(resp), "\r\n"), nil
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(resp)
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(resp)
}

// Raw sends a command to the device and returns a response if it was a
// query, else a blank string.  Handshaking is skipped for the one
// transaction without touching shared state, so concurrent callers using
// the handshaking path are unaffected.
func (s *SCPI) Raw(str string) (string, error) {
	if strings.Contains(str, "?") {
		return s.readString(false, str)
	}
	return "", s.write(false, str)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	str, err := s.readString(false, "SYSTem:ERRor?") // unclear why the case needs to be this way
	if err != nil {
		return err
	}
	if strings.HasPrefix(str, "+0") {
		return nil
	}
	return fmt.Errorf(str)
}

// AllErrors returns all errors from the device as a list
func (s *SCPI) AllErrors() []error {
	var errs []error
	for {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
	}
	return errs
}

// AllErrorsString is equivalent to AllErrors, but joining by newline.
// if there were no errors, the error return value is nil, otherwise
// it is the first error in the list and has no particular meaning
func (s *SCPI) AllErrorsString() (string, error) {
	errs := s.AllErrors()
	if len(errs) == 0 {
		return "", nil
	}
	strs := make([]string, len(errs))
	for i := 0; i < len(errs); i++ {
		strs[i] = errs[i].Error()
	}
	return strings.Join(strs, "\n"), errs[0]
}
