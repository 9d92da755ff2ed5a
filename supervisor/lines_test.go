package supervisor

import (
	"bufio"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

func scanAll(t *testing.T, r io.Reader) []string {
	t.Helper()
	sc := bufio.NewScanner(r)
	sc.Split(splitLines)
	var out []string
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan error: %v", err)
	}
	return out
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"newline", "a\nb\n", []string{"a", "b"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"bare carriage return", "10%\r20%\r30%\n", []string{"10%", "20%", "30%"}},
		{"no trailing terminator", "a\nlast", []string{"a", "last"}},
		{"trailing carriage return", "a\r", []string{"a"}},
		{"empty lines kept", "a\n\nb\n", []string{"a", "", "b"}},
		{"empty input", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scanAll(t, strings.NewReader(tt.input))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("lines = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitLines_CRLFAcrossReads(t *testing.T) {
	got := scanAll(t, iotest.OneByteReader(strings.NewReader("x\r\ny\r\n")))
	want := []string{"x", "y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %q, want %q", got, want)
	}
}

func TestLineReader_DeliversInOrder(t *testing.T) {
	lr := startLineReader(strings.NewReader("1\n2\n3\n"))
	defer lr.Close()

	var got []string
	for line := range lr.lines {
		got = append(got, line)
	}
	if !reflect.DeepEqual(got, []string{"1", "2", "3"}) {
		t.Errorf("lines = %q", got)
	}
	if lr.err != nil {
		t.Errorf("err = %v, want nil at EOF", lr.err)
	}
}

func TestLineReader_ReportsReadError(t *testing.T) {
	boom := errors.New("boom")
	lr := startLineReader(io.MultiReader(strings.NewReader("ok\n"), iotest.ErrReader(boom)))
	defer lr.Close()

	for range lr.lines {
	}
	if !errors.Is(lr.err, boom) {
		t.Errorf("err = %v, want %v", lr.err, boom)
	}
}

func TestLineReader_CloseReleasesBlockedSend(t *testing.T) {
	input := strings.Repeat("line\n", 1000)
	lr := startLineReader(strings.NewReader(input))
	lr.Close()
	lr.Close()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-lr.lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("reader goroutine did not exit after Close")
		}
	}
}
