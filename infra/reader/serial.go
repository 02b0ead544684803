package reader

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/carebridge/dispenser/core/logger"
	"github.com/carebridge/dispenser/core/reader"
)

// SerialTransport reads identifier lines from a tag reader exposed as a
// device file. A dropped device is reopened with capped exponential backoff;
// the poll loop sees ErrNoData in the meantime.
type SerialTransport struct {
	path string
	log  logger.Logger

	mu     sync.Mutex
	lines  chan string
	done   chan struct{}
	closed bool
}

var _ reader.Transport = (*SerialTransport)(nil)

// NewSerialTransport starts reading from the device file at path.
func NewSerialTransport(path string, log logger.Logger) *SerialTransport {
	t := &SerialTransport{
		path:  path,
		log:   log,
		lines: make(chan string, 8),
		done:  make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *SerialTransport) loop() {
	backoff := time.Second
	for {
		select {
		case <-t.done:
			return
		default:
		}
		f, err := os.Open(t.path)
		if err != nil {
			t.log.Warnf("open %s: %v, retrying in %s", t.path, err, backoff)
			select {
			case <-t.done:
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		t.log.Infof("reading tags from %s", t.path)
		t.scan(f)
		_ = f.Close()
		// A reader that hits EOF instead of blocking would otherwise
		// spin through reopen.
		select {
		case <-t.done:
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// scan forwards lines until the device errors out or the transport closes.
func (t *SerialTransport) scan(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		select {
		case t.lines <- sc.Text():
		case <-t.done:
			return
		}
	}
	if err := sc.Err(); err != nil {
		t.log.Warnf("device %s dropped: %v", t.path, err)
	}
}

// ReadLine returns a pending line, or ErrNoData.
func (t *SerialTransport) ReadLine() (string, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return "", fmt.Errorf("transport closed")
	}
	select {
	case line := <-t.lines:
		return line, nil
	default:
		return "", reader.ErrNoData
	}
}

// Close stops the reconnect loop.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}
