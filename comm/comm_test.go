package comm_test

import (
	"bytes"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/labhive/instruments/comm"
)

func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal("could not listen, test aborted")
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }()
		}
	}()
	return ln.Addr().String()
}

func TestPoolFillsToCapacity(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(3, time.Second, maker)
	for i := 0; i < 3; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		if conn == nil {
			t.Fatal("nil connection from pool")
		}
	}
	if pool.Active() != 3 {
		t.Errorf("expected 3 active connections, got %d", pool.Active())
	}
}

func TestPoolReusesReleasedConns(t *testing.T) {
	addr := tcpEchoServer(t)
	made := 0
	maker := func() (io.ReadWriteCloser, error) {
		made++
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(3, time.Hour, maker)
	for i := 0; i < 3; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		pool.Put(conn)
	}
	if made != 1 {
		t.Errorf("expected a single dial for serialized get/put, got %d", made)
	}
}

func TestPoolMaintainsSize(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(2, time.Second, maker)
	held := []io.ReadWriter{}
	for i := 0; i < 2; i++ {
		rw, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		held = append(held, rw)
	}
	newConn := make(chan io.ReadWriter, 1)
	// now that they are all taken out, try to get a new one
	go func() {
		rw, _ := pool.Get()
		newConn <- rw
	}()
	select {
	case <-newConn:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(100 * time.Millisecond):
		log.Println("succeeded in maintaining pool size")
	}
	pool.Put(held[0])
	select {
	case <-newConn:
	case <-time.After(time.Second):
		t.Fatal("blocked Get did not receive the returned connection")
	}
}

func TestPoolReturnWithErrorDiscardsBadConns(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(1, time.Hour, maker)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.ReturnWithError(conn, io.ErrUnexpectedEOF)
	if pool.Size() != 0 {
		t.Errorf("expected errored connection to be destroyed, size=%d", pool.Size())
	}
	pool.ReturnWithError(nil, nil) // must not panic
}

type notifyCloser struct {
	io.ReadWriteCloser
	closed chan struct{}
}

func (n notifyCloser) Close() error {
	n.closed <- struct{}{}
	return n.ReadWriteCloser.Close()
}

func TestPoolReclaimsIdleConns(t *testing.T) {
	addr := tcpEchoServer(t)
	closed := make(chan struct{}, 4)
	maker := func() (io.ReadWriteCloser, error) {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, err
		}
		return notifyCloser{ReadWriteCloser: c, closed: closed}, nil
	}
	pool := comm.NewPool(1, 50*time.Millisecond, maker)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("idle connection was not reclaimed")
	}
	if pool.Size() != 0 {
		t.Errorf("expected empty pool after reclaim, size=%d", pool.Size())
	}
}

func TestPoolReclaimSurvivesInterveningGet(t *testing.T) {
	addr := tcpEchoServer(t)
	closed := make(chan struct{}, 4)
	maker := func() (io.ReadWriteCloser, error) {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, err
		}
		return notifyCloser{ReadWriteCloser: c, closed: closed}, nil
	}
	pool := comm.NewPool(1, 50*time.Millisecond, maker)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn)
	// a Get during the idle period must not wedge the reclaimer
	conn, err = pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("idle connection was not reclaimed after an intervening Get")
	}
	if pool.Size() != 0 {
		t.Errorf("expected empty pool after reclaim, size=%d", pool.Size())
	}
}

type rwBuffer struct {
	in  *bytes.Buffer
	out *bytes.Buffer
}

func (rw rwBuffer) Read(p []byte) (int, error)  { return rw.in.Read(p) }
func (rw rwBuffer) Write(p []byte) (int, error) { return rw.out.Write(p) }

func TestTerminatorFramesBothDirections(t *testing.T) {
	rw := rwBuffer{in: bytes.NewBuffer([]byte("PONG\r\nextra")), out: &bytes.Buffer{}}
	term := comm.NewTerminator(rw, '\r', '\n')
	_, err := term.Write([]byte("PING"))
	if err != nil {
		t.Fatal(err)
	}
	if got := rw.out.String(); got != "PING\n" {
		t.Errorf("expected Tx terminator appended, got %q", got)
	}
	buf := make([]byte, 64)
	n, err := term.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "PONG" {
		t.Errorf("expected Rx terminator stripped, got %q", string(buf[:n]))
	}
}
