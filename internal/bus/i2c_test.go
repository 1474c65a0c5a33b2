// internal/bus/i2c_test.go
package bus

import (
	"bytes"
	"testing"

	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestI2CLinkAddressPhase(t *testing.T) {
	rec := &i2ctest.Record{}
	l := NewI2CLink(rec, 0x1A)

	if err := l.Write(0x3030, 0x4C); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.WriteBurst(0x3034, []byte{0x26, 0x02}); err != nil {
		t.Fatalf("burst: %v", err)
	}
	if err := l.WriteBurst(0x3040, nil); err != nil {
		t.Fatalf("empty burst: %v", err)
	}

	if len(rec.Ops) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(rec.Ops))
	}
	for _, op := range rec.Ops {
		if op.Addr != 0x1A {
			t.Fatalf("device address 0x%x", op.Addr)
		}
	}
	if !bytes.Equal(rec.Ops[0].W, []byte{0x30, 0x30, 0x4C}) {
		t.Fatalf("write frame % x", rec.Ops[0].W)
	}
	if !bytes.Equal(rec.Ops[1].W, []byte{0x30, 0x34, 0x26, 0x02}) {
		t.Fatalf("burst frame % x", rec.Ops[1].W)
	}
}

func TestI2CLinkSharesBus(t *testing.T) {
	rec := &i2ctest.Record{}
	a := NewI2CLink(rec, 0x1A)
	b := NewI2CLink(rec, 0x10)

	if err := a.Write(0x3001, 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Write(0x3001, 1); err != nil {
		t.Fatal(err)
	}
	if rec.Ops[0].Addr != 0x1A || rec.Ops[1].Addr != 0x10 {
		t.Fatalf("unexpected addresses %+v", rec.Ops)
	}
}
