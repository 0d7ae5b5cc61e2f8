// Package pipe provides the single-use pipe channels used to exchange data
// with a child process. Capture accumulates a bounded amount of child output
// and discards the rest, Feed delivers a fixed payload to the child and then
// signals end of input.
//
// Both channels follow the same contract: the child-end file is detached
// exactly once and handed to the process start call, and the parent-side I/O
// task is obtained exactly once. Violating the contract is a programming
// error and panics.
package pipe

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// drainBlockSize is the scratch block used to discard output beyond the
// capture capacity so the child never blocks on a full pipe.
const drainBlockSize = 1024

// Capture is the accumulating read side of a child output stream. It stores
// up to capacity bytes; any further output is read and discarded until the
// child closes its end.
type Capture struct {
	capacity int

	mu        sync.Mutex
	readEnd   *os.File
	writeEnd  *os.File
	taskTaken bool
	endTaken  bool
	done      bool
	data      []byte
}

// NewCapture creates a capture channel for up to capacity bytes. A capacity
// of zero creates no OS pipe; the read task then completes immediately with
// an empty result and the child end must not be requested.
func NewCapture(capacity int) (*Capture, error) {
	if capacity <= 0 {
		return &Capture{}, nil
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	return &Capture{capacity: capacity, readEnd: r, writeEnd: w}, nil
}

// WriteEnd detaches the file the child writes into. The caller owns the
// returned file and must close it once the child holds its own copy, so
// that the read task observes EOF when the child exits.
//
// Panics when the capacity is zero or when called more than once.
func (c *Capture) WriteEnd() *os.File {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity == 0 {
		panic("pipe: WriteEnd called on a Capture with zero capacity")
	}
	if c.endTaken {
		panic("pipe: WriteEnd must be called exactly once")
	}
	c.endTaken = true
	w := c.writeEnd
	c.writeEnd = nil
	return w
}

// ReadTask detaches the parent read side and returns the task that
// accumulates the child's output. The task owns the read end and closes it
// when it returns. After the task has completed without error, Bytes
// returns the accumulated data.
//
// Panics when called more than once.
func (c *Capture) ReadTask() func() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.taskTaken {
		panic("pipe: ReadTask must be called exactly once")
	}
	c.taskTaken = true
	if c.capacity == 0 {
		return func() error {
			c.publish([]byte{})
			return nil
		}
	}
	r := c.readEnd
	c.readEnd = nil
	capacity := c.capacity
	return func() error {
		defer r.Close()
		buf := make([]byte, capacity)
		total := 0
		for total < capacity {
			n, err := r.Read(buf[total:])
			total += n
			if err == io.EOF {
				c.publish(buf[:total])
				return nil
			}
			if err != nil {
				return fmt.Errorf("pipe: read: %w", err)
			}
		}
		// Capacity reached: keep reading so the writer never stalls,
		// discarding everything past the limit.
		scratch := make([]byte, drainBlockSize)
		for {
			_, err := r.Read(scratch)
			if err == io.EOF {
				c.publish(buf)
				return nil
			}
			if err != nil {
				return fmt.Errorf("pipe: drain: %w", err)
			}
		}
	}
}

// Bytes returns the accumulated output. It returns nil until the read task
// has completed successfully; afterwards the caller takes ownership of the
// returned slice.
func (c *Capture) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		return nil
	}
	return c.data
}

func (c *Capture) publish(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.done = true
}

// Close releases any descriptors that have not been detached yet. It is
// used on error paths where the channel never became active and is safe to
// call multiple times.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	if c.readEnd != nil {
		firstErr = c.readEnd.Close()
		c.readEnd = nil
	}
	if c.writeEnd != nil {
		if err := c.writeEnd.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.writeEnd = nil
	}
	return firstErr
}

// Feed is the pre-filled write side of a child input stream. The payload is
// copied at construction; the write task delivers it and then closes the
// pipe so the child sees end of input.
type Feed struct {
	payload []byte

	mu        sync.Mutex
	readEnd   *os.File
	writeEnd  *os.File
	taskTaken bool
	endTaken  bool
}

// NewFeed creates a feed channel for the given payload. An empty payload
// creates no OS pipe; the write task then completes immediately and the
// child end must not be requested.
func NewFeed(payload []byte) (*Feed, error) {
	if len(payload) == 0 {
		return &Feed{}, nil
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	copied := make([]byte, len(payload))
	copy(copied, payload)
	return &Feed{payload: copied, readEnd: r, writeEnd: w}, nil
}

// ReadEnd detaches the file the child reads from. The caller owns the
// returned file and must close it once the child holds its own copy.
//
// Panics when the payload is empty or when called more than once.
func (f *Feed) ReadEnd() *os.File {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payload) == 0 {
		panic("pipe: ReadEnd called on a Feed with an empty payload")
	}
	if f.endTaken {
		panic("pipe: ReadEnd must be called exactly once")
	}
	f.endTaken = true
	r := f.readEnd
	f.readEnd = nil
	return r
}

// WriteTask detaches the parent write side and returns the task that
// delivers the payload. The task owns the write end and closes it when it
// returns, which signals end of input to the child.
//
// Panics when called more than once.
func (f *Feed) WriteTask() func() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taskTaken {
		panic("pipe: WriteTask must be called exactly once")
	}
	f.taskTaken = true
	if len(f.payload) == 0 {
		return func() error { return nil }
	}
	w := f.writeEnd
	f.writeEnd = nil
	payload := f.payload
	return func() error {
		defer w.Close()
		total := 0
		for total < len(payload) {
			n, err := w.Write(payload[total:])
			total += n
			if err != nil {
				return fmt.Errorf("pipe: write: %w", err)
			}
		}
		return nil
	}
}

// Close releases any descriptors that have not been detached yet. It is
// used on error paths where the channel never became active and is safe to
// call multiple times.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	if f.readEnd != nil {
		firstErr = f.readEnd.Close()
		f.readEnd = nil
	}
	if f.writeEnd != nil {
		if err := f.writeEnd.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.writeEnd = nil
	}
	return firstErr
}
