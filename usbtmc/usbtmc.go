// Package usbtmc speaks the bulk transfer mode of the USB Test and
// Measurement Class, enough to carry line-oriented SCPI traffic to a
// bench instrument plugged in over USB instead of RS-232 or ethernet.
//
// Each outbound message is a DEV_DEP_MSG_OUT transfer: a 12 byte header,
// the payload, and zero padding to a four byte boundary.  Each inbound
// read first posts a REQUEST_DEV_DEP_MSG_IN transfer asking the device
// to fill our buffer, then pulls the response off the In endpoint and
// strips its header.  Multi-transfer messages are not supported; the
// payloads here are short command strings and comma separated readings
// that fit in a single transfer.
package usbtmc

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/google/gousb"
	"github.com/pkg/errors"

	"github.com/photovolt/ivlab/comm"
)

const (
	msgDevDepOut       = 0x01
	msgRequestDevDepIn = 0x02

	headerLen = 12
	alignment = 4
	bufSize   = 64 * 1024
)

// tagGen hands out the per-transfer bTag required by the standard.
// Tags increment with each message and skip zero.
type tagGen struct {
	mu  sync.Mutex
	val byte
}

func (t *tagGen) next() byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.val++
	if t.val == 0 {
		t.val = 1
	}
	return t.val
}

// outHeader builds the DEV_DEP_MSG_OUT header (standard, Table 3).
// The EOM bit is always set; we never split a message.
func outHeader(tag byte, payloadLen int) [headerLen]byte {
	var h [headerLen]byte
	h[0] = msgDevDepOut
	h[1] = tag
	h[2] = ^tag
	binary.LittleEndian.PutUint32(h[4:8], uint32(payloadLen))
	h[8] = 0x01
	return h
}

// inHeader builds the REQUEST_DEV_DEP_MSG_IN header (standard, Table 4),
// asking the device to terminate the transfer on term.
func inHeader(tag byte, capacity int, term byte) [headerLen]byte {
	var h [headerLen]byte
	h[0] = msgRequestDevDepIn
	h[1] = tag
	h[2] = ^tag
	binary.LittleEndian.PutUint32(h[4:8], uint32(capacity))
	h[8] = 0x02
	h[9] = term
	return h
}

// Device is a USBTMC instrument exposed as an io.ReadWriteCloser.  Reads
// transparently post the bulk-in request before pulling data, so callers
// can treat the device like any other byte stream.
type Device struct {
	tags   tagGen
	ctx    *gousb.Context
	dev    *gousb.Device
	intf   *gousb.Interface
	done   func()
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	term   byte
	unread []byte
}

var _ io.ReadWriteCloser = (*Device)(nil)

// NewDevice opens the instrument with the given USB vendor and product
// IDs and claims its default interface.
func NewDevice(vid, pid uint16) (*Device, error) {
	d := &Device{ctx: gousb.NewContext(), term: '\n'}
	var err error
	d.dev, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		d.ctx.Close()
		return nil, errors.Wrap(err, "opening USB device")
	}
	if d.dev == nil {
		d.ctx.Close()
		return nil, errors.Errorf("no USB device with VID %04x PID %04x", vid, pid)
	}
	if err = d.dev.SetAutoDetach(true); err != nil {
		d.dev.Close()
		d.ctx.Close()
		return nil, errors.Wrap(err, "detaching kernel driver")
	}
	d.intf, d.done, err = d.dev.DefaultInterface()
	if err != nil {
		d.dev.Close()
		d.ctx.Close()
		return nil, errors.Wrap(err, "claiming default interface")
	}
	d.in, err = d.intf.InEndpoint(2)
	if err == nil {
		d.out, err = d.intf.OutEndpoint(2)
	}
	if err != nil {
		d.done()
		d.dev.Close()
		d.ctx.Close()
		return nil, errors.Wrap(err, "resolving bulk endpoints")
	}
	return d, nil
}

// Write sends one complete message to the device.
func (d *Device) Write(p []byte) (int, error) {
	hdr := outHeader(d.tags.next(), len(p))
	buf := make([]byte, 0, headerLen+len(p)+alignment)
	buf = append(buf, hdr[:]...)
	buf = append(buf, p...)
	if residual := len(buf) % alignment; residual > 0 {
		buf = append(buf, make([]byte, alignment-residual)...)
	}
	if _, err := d.out.Write(buf); err != nil {
		return 0, errors.Wrap(err, "bulk out transfer")
	}
	return len(p), nil
}

// Read returns payload bytes from the device.  A fresh transfer is
// requested only when the previous one has been fully consumed.
func (d *Device) Read(p []byte) (int, error) {
	if len(d.unread) == 0 {
		if err := d.fetch(); err != nil {
			return 0, err
		}
	}
	n := copy(p, d.unread)
	d.unread = d.unread[n:]
	return n, nil
}

func (d *Device) fetch() error {
	hdr := inHeader(d.tags.next(), bufSize, d.term)
	if _, err := d.out.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "posting bulk in request")
	}
	buf := make([]byte, bufSize)
	n, err := d.in.Read(buf)
	if err != nil {
		return errors.Wrap(err, "bulk in transfer")
	}
	if n < headerLen {
		return errors.Errorf("bulk in transfer of %d bytes is shorter than the %d byte header", n, headerLen)
	}
	// the header states how much payload follows; the endpoint may pad
	size := int(binary.LittleEndian.Uint32(buf[4:8]))
	avail := n - headerLen
	if size > avail {
		size = avail
	}
	d.unread = buf[headerLen : headerLen+size]
	return nil
}

// Close releases the interface and USB context.
func (d *Device) Close() error {
	d.done()
	err := d.dev.Close()
	cerr := d.ctx.Close()
	if err != nil {
		return err
	}
	return cerr
}

// Maker adapts NewDevice to the connection pool's factory signature.
func Maker(vid, pid uint16) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return NewDevice(vid, pid)
	}
}
