// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/labhive/instruments/comm"
)

const (
	timeout = 5 * time.Second

	tcpFrameSize = 1500
)

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool

	// Limiter, when non-nil, paces commands to the device.  Several
	// instruments in this repository cap the command rate (e.g. the
	// Lakeshore serial interface allows < 20 commands per second).
	Limiter *rate.Limiter

	// Rx and Tx override the message terminator bytes.  Zero values
	// mean '\n', which nearly every instrument here uses.
	Rx, Tx byte
}

func (s *SCPI) terminators() (rx, tx byte) {
	rx, tx = s.Rx, s.Tx
	if rx == 0 {
		rx = '\n'
	}
	if tx == 0 {
		tx = '\n'
	}
	return rx, tx
}

// pace blocks until the rate limiter permits another command, if there is one
func (s *SCPI) pace() {
	if s.Limiter != nil {
		s.Limiter.Wait(context.Background())
	}
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK.
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	s.pace()
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	rx, tx := s.terminators()
	wrap = comm.NewTerminator(conn, rx, tx)
	wrap, err = comm.NewTimeout(wrap, timeout)
	if err != nil {
		return err
	}
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	str := strings.Join(cmds, " ")
	_, err = io.WriteString(wrap, str)
	if err != nil {
		return err
	}
	if s.Handshaking {
		buf := make([]byte, tcpFrameSize)
		n, err := wrap.Read(buf)
		if err != nil {
			return err
		}
		str := string(buf[:n])
		if str[0:2] != "+0" {
			return errors.New(str)
		}
	}
	return nil
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	s.pace()
	var resp []byte
	conn, err := s.Pool.Get()
	if err != nil {
		return resp, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	rx, tx := s.terminators()
	wrap = comm.NewTerminator(conn, rx, tx)
	wrap, err = comm.NewTimeout(wrap, timeout)
	if err != nil {
		return resp, err
	}
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	str := strings.Join(cmds, " ")
	_, err = io.WriteString(wrap, str)
	if err != nil {
		return resp, err
	}
	buf := make([]byte, tcpFrameSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return resp, err
	}
	resp = buf[:n]
	if s.Handshaking {
		pieces := bytes.Split(resp, []byte{';'})
		errS := string(pieces[len(pieces)-1])
		if errS[:2] != "+0" {
			return resp, errors.New(errS)
		}
		return bytes.Join(pieces[:len(pieces)-1], []byte{}), nil
	}
	return resp, err
}

// ReadString sends a command to the device, then reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	if err == nil && len(resp) > 0 {
		if resp[len(resp)-1] == '\n' {
			resp = resp[:len(resp)-1]
		}
		if len(resp) > 0 && resp[len(resp)-1] == '\r' {
			resp = resp[:len(resp)-1]
		}
	}
	return string(resp), err
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ReadFloats sends a command to the device, then reads the response and
// parses it as a comma separated list of floating point values
func (s *SCPI) ReadFloats(cmds ...string) ([]float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return nil, err
	}
	pieces := strings.Split(resp, ",")
	out := make([]float64, len(pieces))
	for i, piece := range pieces {
		out[i], err = strconv.ParseFloat(strings.TrimSpace(piece), 64)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(resp) {
	case "0", "OFF", "off":
		return false, nil
	case "1", "ON", "on":
		return true, nil
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
	return strconv.Atoi(strings.TrimSpace(resp))
}

// OnOff converts a boolean to the "ON"/"OFF" mnemonic most SCPI devices use
func OnOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// Raw sends a command to the device and returns a response if it was a
// query, else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	str, err := s.ReadString("SYSTem:ERRor?")
	if err != nil {
		return err
	}
	if len(str) >= 2 && str[0:2] == "+0" {
		return nil
	}
	return errors.New(str)
}

// AllErrors returns all errors from the device as a list
func (s *SCPI) AllErrors() []error {
	var errs []error
	var err error
	for {
		err = s.PopError()
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
