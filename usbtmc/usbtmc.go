/*Package usbtmc implements bulk transfer framing for USB Test and
Measurement Class instruments, such as the Thorlabs PM100D optical
power meter.

Only single-packet DEV_DEP_MSG transfers are supported; a message must
fit in the remote's buffer, and replies must fit in one bulk-in read.
There is no support for the multi-transfer continuation handshake the
standard allows for larger payloads.

Each transfer carries a 12 byte header with a rolling tag byte and its
bitwise inverse.  Write prepends the header and pads the transmission
to the 4 byte alignment the standard requires; Read first sends a
REQUEST_DEV_DEP_MSG_IN header on the out endpoint and then pulls the
reply from the in endpoint, splitting off the reply header.
*/
package usbtmc

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/gousb"
)

// message IDs from the USBTMC standard, table 2
const (
	devDepMsgOut       = 0x01
	requestDevDepMsgIn = 0x02
	reserved           = 0x00
	headerLen          = 12
	alignment          = 4
	bulkInBufSize      = 1500
	responseTerminator = '\n'
)

// tagGenerator hands out the rolling bTag bytes that pair requests with
// replies.  Tags run 1..255 and wrap back to 1, never 0.
type tagGenerator struct {
	sync.Mutex

	value byte
}

func (t *tagGenerator) next() byte {
	t.Lock()
	defer t.Unlock()
	t.value++
	if t.value == 0 {
		t.value = 1
	}
	return t.value
}

// BulkInResponse is one bulk-in transfer, split into the 12 byte
// header and the datagram that follows it
type BulkInResponse struct {
	Header []byte
	Data   []byte
}

// encBulkOutHeader builds the DEV_DEP_MSG_OUT header from the
// standard's table 3.  datalen counts message bytes only, exclusive of
// the header and alignment padding.  The EOM bit is always set since
// multi-transfer messages are unsupported.
func encBulkOutHeader(tag byte, datalen int) [headerLen]byte {
	out := [headerLen]byte{}
	out[0] = devDepMsgOut
	out[1] = tag
	out[2] = tag ^ 0xff
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // EOM
	return out
}

// encBulkInHeader builds the REQUEST_DEV_DEP_MSG_IN header from the
// standard's table 4.  When terminator is non-nil the TermCharEnabled
// bit is set and the device must end the reply on that byte.
func encBulkInHeader(tag byte, bufsize int, terminator *byte) [headerLen]byte {
	out := [headerLen]byte{}
	out[0] = requestDevDepMsgIn
	out[1] = tag
	out[2] = tag ^ 0xff
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02 // TermCharEnabled
		out[9] = *terminator
	}
	return out
}

// USBDevice is an open USBTMC instrument.  It hides the gousb endpoint
// plumbing behind message-level Read and Write.
type USBDevice struct {
	tagger *tagGenerator
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	device *gousb.Device
	iface  *gousb.Interface
	closer func()
}

// NewUSBDevice opens the first device matching the vendor and product
// ID and claims its default interface
func NewUSBDevice(vid, pid uint16) (*USBDevice, error) {
	out := &USBDevice{tagger: &tagGenerator{}}
	ctx := gousb.NewContext()
	var err error
	out.device, err = ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		return nil, err
	}
	if out.device == nil {
		return nil, fmt.Errorf("no USB device with VID:PID %04x:%04x", vid, pid)
	}
	err = out.device.SetAutoDetach(true)
	if err != nil {
		return nil, err
	}
	out.iface, out.closer, err = out.device.DefaultInterface()
	if err != nil {
		return nil, err
	}
	out.in, err = out.iface.InEndpoint(2)
	if err != nil {
		out.closer()
		return nil, err
	}
	out.out, err = out.iface.OutEndpoint(2)
	if err != nil {
		out.closer()
		return nil, err
	}
	return out, nil
}

// Read requests a reply terminated by a newline and returns it with
// the header split off
func (d *USBDevice) Read() (BulkInResponse, error) {
	var out BulkInResponse
	term := byte(responseTerminator)
	hdr := encBulkInHeader(d.tagger.next(), bulkInBufSize, &term)
	n, err := d.out.Write(hdr[:])
	if err != nil {
		return out, err
	}
	if n < headerLen {
		// retry the tail once before giving up
		n2, err := d.out.Write(hdr[n:])
		if err != nil {
			return out, err
		}
		if n+n2 != headerLen {
			return out, fmt.Errorf("wrote %d of %d read request header bytes", n+n2, headerLen)
		}
	}
	buf := make([]byte, bulkInBufSize)
	n, err = d.in.Read(buf)
	if err != nil {
		return out, err
	}
	if n < headerLen {
		return out, fmt.Errorf("received %d bytes, need at least %d to form a header", n, headerLen)
	}
	buf = buf[:n]
	out.Header = buf[:headerLen]
	out.Data = buf[headerLen:]
	return out, nil
}

// Write sends b as a single DEV_DEP_MSG_OUT transfer, padding the
// total transmission to the required 4 byte alignment
func (d *USBDevice) Write(b []byte) error {
	hdr := encBulkOutHeader(d.tagger.next(), len(b))
	msg := append(hdr[:], b...)
	if residual := len(msg) % alignment; residual > 0 {
		msg = append(msg, make([]byte, alignment-residual)...)
	}
	_, err := d.out.Write(msg)
	return err
}

// Close releases the interface and the device
func (d *USBDevice) Close() error {
	d.closer()
	return d.device.Close()
}
