package server

import (
	"bufio"
	"io"
	"sync"

	"github.com/brodyxchen/swmailbox/constant"
)

// peer connections come and go; their readers are recycled
var bufReaderPool = sync.Pool{
	New: func() interface{} {
		return bufio.NewReaderSize(nil, constant.MaxReadBufferSize)
	},
}

func getBufReader(r io.Reader) *bufio.Reader {
	br := bufReaderPool.Get().(*bufio.Reader)
	br.Reset(r)
	return br
}

func putBufReader(br *bufio.Reader) {
	br.Reset(nil)
	bufReaderPool.Put(br)
}
