package util

import "sync"

// DefaultBufSize is the copy buffer size for forwarded streams.
const DefaultBufSize = 32 << 10

// bufPool holds copy buffers for tunnel streams; a session through a
// flaky gateway reconnects often.
var bufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return bufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	bufPool.Put(buf)
}
