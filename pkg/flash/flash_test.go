package flash

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func testGeometry() Geometry {
	return Geometry{PageSize: 256, PagesPerBlock: 4, TotalPages: 64}
}

func TestMemMedium_ProgramAndRead(t *testing.T) {
	m := NewMemMedium(testGeometry())

	data := bytes.Repeat([]byte{0xA5}, 256)
	if err := m.ProgramPage(3, data); err != nil {
		t.Fatalf("ProgramPage: %v", err)
	}

	got, err := m.ReadPage(3)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("read back != programmed data")
	}

	// Unprogrammed page reads as erased.
	blank, err := m.ReadPage(4)
	if err != nil {
		t.Fatalf("ReadPage blank: %v", err)
	}
	for i, b := range blank {
		if b != ErasedByte {
			t.Fatalf("blank[%d] = %#x, want erased", i, b)
		}
	}
}

func TestMemMedium_ProgramConflict(t *testing.T) {
	m := NewMemMedium(testGeometry())

	data := bytes.Repeat([]byte{0x00}, 256)
	if err := m.ProgramPage(0, data); err != nil {
		t.Fatalf("ProgramPage: %v", err)
	}
	if err := m.ProgramPage(0, data); !errors.Is(err, ErrProgramConflict) {
		t.Fatalf("reprogram err = %v, want ErrProgramConflict", err)
	}

	// Erase clears the conflict.
	if err := m.EraseBlock(0); err != nil {
		t.Fatalf("EraseBlock: %v", err)
	}
	if err := m.ProgramPage(0, data); err != nil {
		t.Fatalf("program after erase: %v", err)
	}
}

func TestMemMedium_OutOfRange(t *testing.T) {
	m := NewMemMedium(testGeometry())

	if _, err := m.ReadPage(64); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("ReadPage err = %v, want ErrOutOfRange", err)
	}
	if err := m.ProgramPage(100, make([]byte, 256)); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("ProgramPage err = %v, want ErrOutOfRange", err)
	}
	if err := m.EraseBlock(16); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("EraseBlock err = %v, want ErrOutOfRange", err)
	}
}

func TestMemMedium_PowerLossTruncatesProgram(t *testing.T) {
	m := NewMemMedium(testGeometry())

	data := bytes.Repeat([]byte{0x42}, 256)
	m.FailProgramsAfter(100)

	err := m.ProgramPage(7, data)
	if !errors.Is(err, ErrPowerLoss) {
		t.Fatalf("ProgramPage err = %v, want ErrPowerLoss", err)
	}

	got, err := m.ReadPage(7)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	for i := 0; i < 100; i++ {
		if got[i] != 0x42 {
			t.Fatalf("byte %d = %#x, want committed prefix", i, got[i])
		}
	}
	for i := 100; i < 256; i++ {
		if got[i] != ErasedByte {
			t.Fatalf("byte %d = %#x, want erased tail", i, got[i])
		}
	}

	// The injection is one-shot; the next program succeeds after erase.
	if err := m.EraseBlock(m.Geometry().BlockOf(7)); err != nil {
		t.Fatalf("EraseBlock: %v", err)
	}
	if err := m.ProgramPage(7, data); err != nil {
		t.Fatalf("program after power loss: %v", err)
	}
}

func TestRewritePage_PreservesSiblings(t *testing.T) {
	m := NewMemMedium(testGeometry())

	a := bytes.Repeat([]byte{0x11}, 256)
	b := bytes.Repeat([]byte{0x22}, 256)
	if err := m.ProgramPage(0, a); err != nil {
		t.Fatalf("ProgramPage 0: %v", err)
	}
	if err := m.ProgramPage(1, b); err != nil {
		t.Fatalf("ProgramPage 1: %v", err)
	}

	fresh := bytes.Repeat([]byte{0x33}, 256)
	if err := RewritePage(m, 0, fresh); err != nil {
		t.Fatalf("RewritePage: %v", err)
	}

	got0, _ := m.ReadPage(0)
	if !bytes.Equal(got0, fresh) {
		t.Fatal("rewritten page not updated")
	}
	got1, _ := m.ReadPage(1)
	if !bytes.Equal(got1, b) {
		t.Fatal("sibling page lost by rewrite")
	}
}

func TestFileMedium_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.pv")
	geo := Geometry{PageSize: 256, PagesPerBlock: 1, TotalPages: 16}

	m, err := OpenFileMedium(path, geo, false)
	if err != nil {
		t.Fatalf("OpenFileMedium: %v", err)
	}

	data := bytes.Repeat([]byte{0x0F}, 256)
	if err := m.ProgramPage(5, data); err != nil {
		t.Fatalf("ProgramPage: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and verify persistence.
	m2, err := OpenFileMedium(path, geo, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()

	got, err := m2.ReadPage(5)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("page contents not persisted")
	}

	// NOR semantics hold for the file image as well.
	raised := bytes.Repeat([]byte{0xF0}, 256)
	if err := m2.ProgramPage(5, raised); !errors.Is(err, ErrProgramConflict) {
		t.Fatalf("conflicting program err = %v, want ErrProgramConflict", err)
	}
}
