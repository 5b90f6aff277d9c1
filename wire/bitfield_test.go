package wire

import "testing"

func TestBitfieldMSBFirst(t *testing.T) {
	bf := NewBitfield(10)
	bf.SetPiece(0)
	bf.SetPiece(9)

	if bf[0] != 0b10000000 {
		t.Errorf("expected bit 0 to be MSB of byte 0, got %08b", bf[0])
	}
	if !bf.HasPiece(0) || !bf.HasPiece(9) {
		t.Error("expected pieces 0 and 9 to be set")
	}
	for i := 1; i < 9; i++ {
		if bf.HasPiece(i) {
			t.Errorf("piece %d should not be set", i)
		}
	}
}

func TestBitfieldOutOfRange(t *testing.T) {
	bf := NewBitfield(4)
	if bf.HasPiece(-1) || bf.HasPiece(1000) {
		t.Error("out-of-range indices must report false")
	}
	bf.SetPiece(1000) // must not panic
}
