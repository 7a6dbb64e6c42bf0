package utils

import (
	"io"
	"sync/atomic"
	"time"
)

// ThroughputWriter wraps a writer and tracks the byte count and the time of
// the first byte. Download workers compare Bytes against the declared
// content length to verify a transfer completed.
type ThroughputWriter struct {
	W           io.Writer
	firstByteNs int64
	bytes       int64
}

func NewThroughputWriter(w io.Writer) *ThroughputWriter { return &ThroughputWriter{W: w} }

func (t *ThroughputWriter) Write(p []byte) (int, error) {
	// first byte timestamp
	if atomic.LoadInt64(&t.firstByteNs) == 0 {
		now := time.Now().UnixNano()
		atomic.CompareAndSwapInt64(&t.firstByteNs, 0, now)
	}
	n, err := t.W.Write(p)
	atomic.AddInt64(&t.bytes, int64(n))
	return n, err
}

func (t *ThroughputWriter) FirstByteAt() time.Time {
	ns := atomic.LoadInt64(&t.firstByteNs)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (t *ThroughputWriter) Bytes() int64 { return atomic.LoadInt64(&t.bytes) }
