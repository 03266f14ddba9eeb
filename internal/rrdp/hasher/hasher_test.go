package hasher

import (
	"strings"
	"testing"
)

func TestSumIsLowercaseHex(t *testing.T) {
	got := Sum([]byte("hello"))
	if len(got) != 64 {
		t.Fatalf("Sum length = %d, want 64", len(got))
	}
	if got != strings.ToLower(got) {
		t.Fatalf("Sum %q is not lowercase", got)
	}
}

func TestSumReaderMatchesSum(t *testing.T) {
	data := []byte("repository object bytes")
	fromBytes := Sum(data)
	fromReader, err := SumReader(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("SumReader: %v", err)
	}
	if fromBytes != fromReader {
		t.Fatalf("Sum %q != SumReader %q", fromBytes, fromReader)
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"correct length lowercase", Sum([]byte("x")), true},
		{"uppercase", strings.ToUpper(Sum([]byte("x"))), false},
		{"too short", "abcd", false},
		{"non-hex", strings.Repeat("z", 64), false},
		{"empty", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Valid(c.in); got != c.want {
				t.Errorf("Valid(%q) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}
