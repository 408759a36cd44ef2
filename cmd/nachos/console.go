package main

import (
	"bufio"
	"os"
)

// stdioConsole is the minimal Console the CLI wires into a Process
// for -x: host stdin/stdout, one byte at a time, matching the raw
// console device spec.md §1 treats as external.
type stdioConsole struct{}

var stdin = bufio.NewReader(os.Stdin)

func (stdioConsole) GetChar() (byte, error) {
	return stdin.ReadByte()
}

func (stdioConsole) PutChar(b byte) error {
	_, err := os.Stdout.Write([]byte{b})
	return err
}
