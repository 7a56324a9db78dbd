// Package golden compares test output with golden files.
package golden

import (
	"bytes"
	"fmt"
	"os"
)

// Compare compares got with the contents of the golden file at path,
// or replaces the file when update is set.
func Compare(path string, update bool, got []byte) error {
	if update {
		return os.WriteFile(path, got, 0o640)
	}
	want, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if bytes.Equal(got, want) {
		return nil
	}
	gotLines := bytes.Split(got, []byte("\n"))
	wantLines := bytes.Split(want, []byte("\n"))
	mismatches, first := 0, -1
	for i := range min(len(gotLines), len(wantLines)) {
		if !bytes.Equal(gotLines[i], wantLines[i]) {
			if first == -1 {
				first = i
			}
			mismatches++
		}
	}
	if first == -1 {
		first = min(len(gotLines), len(wantLines))
	}
	line := func(lines [][]byte) string {
		if first < len(lines) {
			return string(lines[first])
		}
		return "<EOF>"
	}
	return fmt.Errorf("%s: line counts %d, %d, with %d/%d line mismatches; line %d: got %q, want %q",
		path, len(gotLines), len(wantLines), mismatches, len(wantLines), first+1, line(gotLines), line(wantLines))
}
