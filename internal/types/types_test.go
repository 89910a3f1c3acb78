package types

import (
	"encoding/json"
	"testing"
)

func TestProgramIDRoundTrip(t *testing.T) {
	id := ComputeProgramID([]byte{1, 10, 16})

	if id.IsZero() {
		t.Fatal("ComputeProgramID returned zero id")
	}

	parsed, err := ProgramIDFromBase58(id.String())
	if err != nil {
		t.Fatalf("ProgramIDFromBase58() failed: %v", err)
	}
	if parsed != id {
		t.Errorf("ProgramIDFromBase58(String()) = %s, want %s", parsed, id)
	}

	fromHex, err := ProgramIDFromHex(id.Hex())
	if err != nil || fromHex != id {
		t.Errorf("ProgramIDFromHex(Hex()) = %s, %v", fromHex, err)
	}

	if len(id.Short()) != 8 {
		t.Errorf("Short() = %q, want 8 chars", id.Short())
	}
}

func TestProgramIDDeterministic(t *testing.T) {
	a := ComputeProgramID([]byte("abc"))
	b := ComputeProgramID([]byte("abc"))
	c := ComputeProgramID([]byte("abd"))

	if a != b {
		t.Error("same code produced different ids")
	}
	if a == c {
		t.Error("different code produced the same id")
	}
}

func TestProgramIDInvalid(t *testing.T) {
	if _, err := ProgramIDFromBytes(make([]byte, 31)); err != ErrInvalidProgramID {
		t.Errorf("ProgramIDFromBytes(31) = %v, want ErrInvalidProgramID", err)
	}
	if _, err := ProgramIDFromBase58("0OIl"); err == nil {
		t.Error("ProgramIDFromBase58 accepted invalid alphabet")
	}
	if _, err := ProgramIDFromBase58("2g"); err != ErrInvalidProgramID {
		t.Errorf("ProgramIDFromBase58(short) = %v, want ErrInvalidProgramID", err)
	}
}

func TestProgramIDJSON(t *testing.T) {
	id := ComputeProgramID([]byte{16})

	data, err := json.Marshal(struct {
		ID ProgramID `json:"id"`
	}{id})
	if err != nil {
		t.Fatalf("json.Marshal failed: %v", err)
	}

	var out struct {
		ID ProgramID `json:"id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("json.Unmarshal failed: %v", err)
	}
	if out.ID != id {
		t.Errorf("round trip = %s, want %s", out.ID, id)
	}
}
