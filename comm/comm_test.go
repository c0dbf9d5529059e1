package comm_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/monocle-imaging/monocle/comm"
)

func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }() // use goroutines to handle multiple connections
		}
	}()
	return ln.Addr().String()
}

// nopConn counts Close calls
type nopConn struct {
	bytes.Buffer
	closed int
}

func (n *nopConn) Close() error {
	n.closed++
	return nil
}

func TestSendRecvEcho(t *testing.T) {
	addr := tcpEchoServer(t)
	dev := comm.NewRemoteDevice(addr, false, nil, comm.Terminators{Tx: '#', Rx: '#'})
	defer dev.Close()
	for _, msg := range []string{"z", "b12AB0000,40000000"} {
		resp, err := dev.SendRecv([]byte(msg))
		if err != nil {
			t.Fatal(err)
		}
		if string(resp) != msg {
			t.Errorf("expected echo %q, got %q", msg, resp)
		}
	}
}

func TestRecvMissingTerminator(t *testing.T) {
	_, err := comm.Recv(strings.NewReader("abc"), '#')
	if !errors.Is(err, comm.ErrTerminatorNotFound) {
		t.Errorf("expected ErrTerminatorNotFound, got %v", err)
	}
}

func TestRecvStripsTerminator(t *testing.T) {
	resp, err := comm.Recv(strings.NewReader("12,34#"), '#')
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "12,34" {
		t.Errorf("expected 12,34, got %q", resp)
	}
}

func TestSendNil(t *testing.T) {
	if err := comm.Send(nil, []byte("x"), '\r'); !errors.Is(err, comm.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestSerialWithoutConfig(t *testing.T) {
	dev := comm.NewRemoteDevice("/dev/ttyUSB0", true, nil, comm.DefaultTerminators)
	_, err := dev.Open()
	if !errors.Is(err, comm.ErrNoSerialConf) {
		t.Errorf("expected ErrNoSerialConf, got %v", err)
	}
}

func TestPoolReusesConnections(t *testing.T) {
	made := 0
	pool := comm.NewPool(1, time.Hour, func() (io.ReadWriteCloser, error) {
		made++
		return &nopConn{}, nil
	})
	for i := 0; i < 3; i++ {
		c, err := pool.Get()
		if err != nil {
			t.Fatal(err)
		}
		pool.Put(c)
	}
	if made != 1 {
		t.Errorf("expected one connection to be made, got %d", made)
	}
	if pool.Size() != 1 || pool.Active() != 0 {
		t.Errorf("expected one idle connection, got size %d active %d", pool.Size(), pool.Active())
	}
}

func TestPoolMaintainsSize(t *testing.T) {
	pool := comm.NewPool(2, time.Hour, func() (io.ReadWriteCloser, error) {
		return &nopConn{}, nil
	})
	held := []io.ReadWriteCloser{}
	for i := 0; i < 2; i++ {
		c, err := pool.Get()
		if err != nil {
			t.Fatal(err)
		}
		held = append(held, c)
	}
	got := make(chan io.ReadWriteCloser, 1)
	go func() {
		c, _ := pool.Get()
		got <- c
	}()
	select {
	case <-got:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(50 * time.Millisecond):
	}
	pool.Put(held[0])
	select {
	case c := <-got:
		if c != held[0] {
			t.Error("expected the returned connection to be handed out again")
		}
	case <-time.After(time.Second):
		t.Fatal("waiting Get was not released by Put")
	}
}

func TestPoolReclaimsIdle(t *testing.T) {
	conn := &nopConn{}
	pool := comm.NewPool(1, 10*time.Millisecond, func() (io.ReadWriteCloser, error) {
		return conn, nil
	})
	c, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.Put(c)
	deadline := time.Now().Add(time.Second)
	for pool.Size() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pool.Size() != 0 || conn.closed != 1 {
		t.Errorf("expected the idle connection to be closed once, size %d closed %d", pool.Size(), conn.closed)
	}
}

func TestPoolDestroy(t *testing.T) {
	conn := &nopConn{}
	pool := comm.NewPool(1, time.Hour, func() (io.ReadWriteCloser, error) {
		return conn, nil
	})
	c, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.Destroy(c)
	if conn.closed != 1 || pool.Size() != 0 {
		t.Errorf("destroyed connection should be closed and forgotten, closed %d size %d", conn.closed, pool.Size())
	}
}

func TestPoolMakerError(t *testing.T) {
	boom := errors.New("boom")
	pool := comm.NewPool(1, time.Hour, func() (io.ReadWriteCloser, error) {
		return nil, boom
	})
	for i := 0; i < 2; i++ {
		if _, err := pool.Get(); !errors.Is(err, boom) {
			t.Fatalf("expected maker error, got %v", err)
		}
	}
	if pool.Active() != 0 {
		t.Errorf("failed Get should not hold a lease, got %d", pool.Active())
	}
}
