// Package asm contains a small RV32IM assembler.
//
// It accepts one statement per line: an optional "label:" prefix, then
// either an instruction mnemonic with its operands or a ".word"
// directive, with an optional #-comment. Every statement assembles to
// exactly one 32-bit word, so labels resolve to word addresses in a
// simple first pass. The output format is the word-per-line image
// text loaded by internal/wordimage.
package asm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// InstructionOrError contains either an assembled instruction
// or an error that occurred during the assemblation.
type InstructionOrError struct {
	Instruction uint32
	Error       error
	Lineno      int
}

// Encode encodes the current instruction or returns an error.
func (ioe InstructionOrError) Encode() (string, error) {
	if ioe.Error != nil {
		return "", ioe.Error
	}
	return fmt.Sprintf(
		"0x%08x\t# 0b%032b - line: %d\n", ioe.Instruction, ioe.Instruction, ioe.Lineno,
	), nil
}

// StartAssembler starts the assembler in a background goroutine and
// returns a sequence of InstructionOrError.
func StartAssembler(r io.Reader) <-chan InstructionOrError {
	out := make(chan InstructionOrError)
	go AssemblerAsync(r, out)
	return out
}

// AssemblerAsync runs the assembler. It reads from the input reader
// and it writes InstructionOrError on the output channel.
func AssemblerAsync(r io.Reader, out chan<- InstructionOrError) {
	defer close(out)
	statements, labels, err := parse(r)
	if err != nil {
		out <- InstructionOrError{Error: err}
		return
	}
	for _, stmt := range statements {
		word, err := stmt.encode(labels)
		if err != nil {
			out <- InstructionOrError{Error: err, Lineno: stmt.lineno}
			return
		}
		out <- InstructionOrError{Instruction: word, Lineno: stmt.lineno}
	}
}

// Assemble runs the assembler to completion and returns the program
// words, failing on the first error.
func Assemble(r io.Reader) ([]uint32, error) {
	var words []uint32
	for ioe := range StartAssembler(r) {
		if ioe.Error != nil {
			return nil, ioe.Error
		}
		words = append(words, ioe.Instruction)
	}
	return words, nil
}

// parse runs the first pass: it splits the input into statements,
// assigns each its address, and collects label definitions.
func parse(r io.Reader) ([]statement, map[string]uint32, error) {
	scanner := bufio.NewScanner(r)
	labels := make(map[string]uint32)
	var statements []statement
	var addr uint32
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if index := strings.Index(line, "#"); index >= 0 {
			line = line[:index]
		}
		line = strings.TrimSpace(line)
		for {
			colon := strings.Index(line, ":")
			if colon < 0 {
				break
			}
			name := strings.TrimSpace(line[:colon])
			if !isIdentifier(name) {
				return nil, nil, fmt.Errorf("asm: line %d: bad label %q", lineno, name)
			}
			if _, dup := labels[name]; dup {
				return nil, nil, fmt.Errorf("asm: line %d: duplicate label %q", lineno, name)
			}
			labels[name] = addr
			line = strings.TrimSpace(line[colon+1:])
		}
		if line == "" {
			continue
		}
		stmt, err := parseStatement(line, addr, lineno)
		if err != nil {
			return nil, nil, err
		}
		statements = append(statements, stmt)
		addr += 4
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return statements, labels, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == '.':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
