package server

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
)

const defaultChunkSize = 4096

type peerStream interface {
	io.ReadWriteCloser
	SetDeadline(time.Time) error
}

// deadlineAdjuster moves the stream deadline forward while data is flowing.
// Reads and writes are split into chunks, the deadline is set to timeout after the
// start of each chunk but never past the hard deadline of the whole exchange.
type deadlineAdjuster struct {
	peerStream
	desc        string
	timeout     time.Duration
	hardTimeout time.Duration
	clock       clockwork.Clock
	chunkSize   int

	hardDeadline time.Time
	deadline     time.Time
	read         int
	written      int
}

func newDeadlineAdjuster(stream peerStream, desc string, timeout, hardTimeout time.Duration) *deadlineAdjuster {
	return &deadlineAdjuster{
		peerStream:  stream,
		desc:        desc,
		timeout:     timeout,
		hardTimeout: hardTimeout,
		clock:       clockwork.NewRealClock(),
		chunkSize:   defaultChunkSize,
	}
}

func (dadj *deadlineAdjuster) augmentError(what string, err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	return fmt.Errorf("%s %s: %d bytes read, %d bytes written, timeout %v, hard timeout %v: %w",
		what, dadj.desc, dadj.read, dadj.written, dadj.timeout, dadj.hardTimeout, err)
}

func (dadj *deadlineAdjuster) adjust() error {
	now := dadj.clock.Now()
	if dadj.hardDeadline.IsZero() {
		dadj.hardDeadline = now.Add(dadj.hardTimeout)
	}
	deadline := now.Add(dadj.timeout)
	if deadline.After(dadj.hardDeadline) {
		deadline = dadj.hardDeadline
	}
	if deadline.Equal(dadj.deadline) {
		return nil
	}
	if err := dadj.SetDeadline(deadline); err != nil {
		return dadj.augmentError("set deadline", err)
	}
	dadj.deadline = deadline
	return nil
}

// Read fills b chunk by chunk and stops early on a short read.
func (dadj *deadlineAdjuster) Read(b []byte) (int, error) {
	var total int
	for total < len(b) {
		if err := dadj.adjust(); err != nil {
			return total, err
		}
		end := min(len(b), total+dadj.chunkSize)
		n, err := dadj.peerStream.Read(b[total:end])
		total += n
		dadj.read += n
		if err != nil {
			return total, dadj.augmentError("read", err)
		}
		if total < end {
			break
		}
	}
	return total, nil
}

// Write writes b chunk by chunk.
func (dadj *deadlineAdjuster) Write(b []byte) (int, error) {
	var total int
	for total < len(b) {
		if err := dadj.adjust(); err != nil {
			return total, err
		}
		end := min(len(b), total+dadj.chunkSize)
		n, err := dadj.peerStream.Write(b[total:end])
		total += n
		dadj.written += n
		if err != nil {
			return total, dadj.augmentError("write", err)
		}
	}
	return total, nil
}
