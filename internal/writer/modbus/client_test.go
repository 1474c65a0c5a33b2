// internal/writer/modbus/client_test.go
package modbus

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

// serveWrites answers Modbus TCP write-multiple-registers requests and
// reports each request's unit id, address and payload.
func serveWrites(ln net.Listener, got chan<- []byte) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		hdr := make([]byte, 7)
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}
		pdu := make([]byte, int(binary.BigEndian.Uint16(hdr[4:6]))-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}
		got <- append([]byte{hdr[6]}, pdu...)

		resp := make([]byte, 0, 12)
		resp = append(resp, hdr[0:4]...)
		resp = binary.BigEndian.AppendUint16(resp, 6)
		resp = append(resp, hdr[6])
		resp = append(resp, pdu[0:5]...)
		if _, err := conn.Write(resp); err != nil {
			return
		}
	}
}

func TestEndpointClient_WriteRegisters(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	got := make(chan []byte, 4)
	go serveWrites(ln, got)

	c, err := NewEndpointClient(Config{Endpoint: ln.Addr().String(), Timeout: time.Second})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if err := c.WriteRegisters(7, 48, []uint16{0x0102, 0xA0B0}); err != nil {
		t.Fatalf("write: %v", err)
	}

	req := <-got
	// unit, fc, addr, qty, byte count, payload
	want := []byte{7, 0x10, 0x00, 48, 0x00, 0x02, 4, 0x01, 0x02, 0xA0, 0xB0}
	if string(req) != string(want) {
		t.Fatalf("request % x, want % x", req, want)
	}
}

func TestNewEndpointClient_RequiresEndpoint(t *testing.T) {
	if _, err := NewEndpointClient(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPackRegisters(t *testing.T) {
	out := packRegisters([]uint16{0x1234, 0x00FF})
	if string(out) != string([]byte{0x12, 0x34, 0x00, 0xFF}) {
		t.Fatalf("packed % x", out)
	}
}
