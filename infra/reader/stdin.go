// Package reader provides the transports feeding the identifier reader:
// a serial device file, console input for keyboard-simulated tags, and an
// MQTT bridge for networked readers.
package reader

import (
	"bufio"
	"io"
	"os"

	"github.com/carebridge/dispenser/core/reader"
)

// StdinTransport reads identifier lines typed on the console. Used in
// simulation mode where a keyboard stands in for the tag reader.
type StdinTransport struct {
	lines chan string
	done  chan struct{}
}

var _ reader.Transport = (*StdinTransport)(nil)

// NewStdinTransport starts scanning standard input.
func NewStdinTransport() *StdinTransport {
	return newLineTransport(os.Stdin)
}

func newLineTransport(r io.Reader) *StdinTransport {
	t := &StdinTransport{
		lines: make(chan string, 8),
		done:  make(chan struct{}),
	}
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case t.lines <- sc.Text():
			case <-t.done:
				return
			}
		}
	}()
	return t
}

// ReadLine returns a pending line, or ErrNoData when nothing was typed.
func (t *StdinTransport) ReadLine() (string, error) {
	select {
	case line := <-t.lines:
		return line, nil
	default:
		return "", reader.ErrNoData
	}
}

// Close stops the scanning goroutine. Standard input itself stays open.
func (t *StdinTransport) Close() error {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	return nil
}
