package mount

import (
	"errors"
	"fmt"
	"math"
	"net"
	"testing"
)

func near(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func ExampleEncodePrecise() {
	fmt.Println(EncodePrecise(90, 45))
	// Output: 3FFFFFFF,1FFFFFFF
}

func TestRoundTrip(t *testing.T) {
	for az := 10.; az < 80; az++ {
		for alt := 10.; alt < 80; alt++ {
			x, y, err := DecodePrecise(EncodePrecise(az, alt))
			if err != nil {
				t.Fatal(err)
			}
			if !near(x, az, 1e-4) || !near(y, alt, 1e-4) {
				t.Errorf("precise round trip of (%g, %g) gave (%g, %g)", az, alt, x, y)
			}
			x, y, err = DecodeImprecise(EncodeImprecise(az, alt))
			if err != nil {
				t.Fatal(err)
			}
			if !near(x, az, 1e-2) || !near(y, alt, 1e-2) {
				t.Errorf("imprecise round trip of (%g, %g) gave (%g, %g)", az, alt, x, y)
			}
		}
	}
}

func TestAltitudeFolds(t *testing.T) {
	_, alt, err := DecodePrecise(EncodePrecise(0, -30))
	if err != nil {
		t.Fatal(err)
	}
	if !near(alt, -30, 1e-4) {
		t.Errorf("expected -30 to survive the round trip, got %g", alt)
	}
	_, alt, _ = DecodeImprecise("4000,4000")
	if alt != 90 {
		t.Errorf("quarter turn should read as +90, got %g", alt)
	}
}

func TestAzimuthWraps(t *testing.T) {
	if EncodePrecise(370, 0) != EncodePrecise(10, 0) {
		t.Error("370 degrees should encode as 10")
	}
	if EncodeImprecise(-90, 0) != EncodeImprecise(270, 0) {
		t.Error("-90 degrees should encode as 270")
	}
}

func TestDecodeBadReply(t *testing.T) {
	for _, s := range []string{"", "1234", "XYZ,0000", "1,2,3"} {
		if _, _, err := DecodePrecise(s); !errors.Is(err, ErrBadReply) {
			t.Errorf("%q should be a bad reply, got %v", s, err)
		}
	}
}

func TestMock(t *testing.T) {
	var m Mount = NewMock()
	if err := m.Goto(123.5, -12); err != nil {
		t.Fatal(err)
	}
	az, alt, err := m.Position()
	if err != nil {
		t.Fatal(err)
	}
	if !near(az, 123.5, 1e-4) || !near(alt, -12, 1e-4) {
		t.Errorf("expected (123.5, -12), got (%g, %g)", az, alt)
	}
}

// fakeController answers z with a fixed position and acknowledges b
func fakeController(t *testing.T, pos string, got chan<- string) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			cmd := string(buf[:n])
			got <- cmd
			if cmd == "z" {
				conn.Write([]byte(pos + "#"))
			} else {
				conn.Write([]byte("#"))
			}
		}
	}()
	return ln.Addr().String()
}

func TestNexStarOverTCP(t *testing.T) {
	got := make(chan string, 4)
	addr := fakeController(t, EncodePrecise(45, 30), got)
	n := NewNexStar(addr, false, 0)
	defer n.Close()

	if err := n.Goto(90, 45); err != nil {
		t.Fatal(err)
	}
	if cmd := <-got; cmd != "b3FFFFFFF,1FFFFFFF" {
		t.Errorf("unexpected goto command %q", cmd)
	}

	az, alt, err := n.Position()
	if err != nil {
		t.Fatal(err)
	}
	if cmd := <-got; cmd != "z" {
		t.Errorf("unexpected position command %q", cmd)
	}
	if !near(az, 45, 1e-4) || !near(alt, 30, 1e-4) {
		t.Errorf("expected (45, 30), got (%g, %g)", az, alt)
	}
}
