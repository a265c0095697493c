package archive

import (
	"io"
	"sync"
)

const copyBufferSize = 32 * 1024

// bufferPool holds the chunk buffers file contents are streamed through,
// so no file is ever held in memory whole.
//
//nolint:gochecknoglobals
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, copyBufferSize)

		return &buf
	},
}

func copyChunked(dst io.Writer, src io.Reader) (int64, error) {
	bufp, _ := bufferPool.Get().(*[]byte) //nolint:errcheck // type is guaranteed by New
	defer bufferPool.Put(bufp)

	return io.CopyBuffer(dst, src, *bufp)
}
