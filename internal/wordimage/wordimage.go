// Package wordimage loads the word-per-line image text format used by
// the development tooling: one 32-bit word per line, hexadecimal with
// a leading 0x prefix, with an optional #-comment after the number.
// Words are placed at consecutive word addresses starting from zero,
// which is also the entry point.
//
// This is the development stand-in for the ELF loader: it builds a
// memory.MemoryImage the executor can run, without any binary-format
// parsing.
package wordimage

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/basso-zkrv/zkrv-exec/pkg/memory"
)

// Entry is the program counter a loaded image starts at.
const Entry uint32 = 0

// Load reads image text from r and returns the populated image and
// its entry point. Blank lines and comment-only lines are skipped.
func Load(r io.Reader) (*memory.MemoryImage, uint32, error) {
	image := memory.NewDefaultImage()
	scanner := bufio.NewScanner(r)
	var addr uint32
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if index := strings.Index(line, "#"); index >= 0 {
			line = line[:index]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		value, err := strconv.ParseUint(line, 0, 32)
		if err != nil {
			return nil, 0, fmt.Errorf("wordimage: line %d: %w", lineno, err)
		}
		if err := image.SeedWord(addr, uint32(value)); err != nil {
			return nil, 0, fmt.Errorf("wordimage: line %d: %w", lineno, err)
		}
		addr += memory.WordSize
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}
	return image, Entry, nil
}

// Dump writes image text for the given words to w, one per line, in
// the format Load accepts.
func Dump(w io.Writer, words []uint32) error {
	for i, word := range words {
		if _, err := fmt.Fprintf(w, "0x%08x\t# %04d\n", word, i); err != nil {
			return err
		}
	}
	return nil
}
