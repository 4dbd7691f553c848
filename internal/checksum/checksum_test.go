package checksum

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSumKnownVector(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Sum([]byte("abc")); got != want {
		t.Errorf("Sum = %s", got)
	}
	got, n, err := SumReader(strings.NewReader("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if got != want || n != 3 {
		t.Errorf("SumReader = %s, %d", got, n)
	}
}

func TestSumFileLargerThanBuffer(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), BufferSize/5)
	p := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := SumFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if got != Sum(data) {
		t.Error("streaming hash differs from in-memory hash")
	}
}

func TestSumFileMissing(t *testing.T) {
	if _, err := SumFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error")
	}
}

func TestEqual(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	big := bytes.Repeat([]byte("x"), BufferSize+10)
	a := write("a", big)
	b := write("b", big)
	c := write("c", append(bytes.Repeat([]byte("x"), BufferSize+9), 'y'))
	d := write("d", big[:BufferSize])

	if eq, err := Equal(a, b); err != nil || !eq {
		t.Errorf("a == b: %v %v", eq, err)
	}
	if eq, _ := Equal(a, c); eq {
		t.Error("a != c expected")
	}
	if eq, _ := Equal(a, d); eq {
		t.Error("a != d expected (length differs)")
	}
}
