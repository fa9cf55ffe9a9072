package storage

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// FillState 是一次本地回填的状态：idle → streaming → {done, aborted}。
type FillState int32

const (
	FillIdle FillState = iota
	FillStreaming
	FillDone
	FillAborted
)

func (s FillState) String() string {
	switch s {
	case FillIdle:
		return "idle"
	case FillStreaming:
		return "streaming"
	case FillDone:
		return "done"
	case FillAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

var (
	errReadInterrupted = errors.New("tarball read closed before EOF")
	errFillFinished    = errors.New("cache fill finished")
)

// Fill 观察一次远端 tarball 回填到本地的过程，Wait 返回最终结果。
type Fill struct {
	file  string
	state atomic.Int32
	done  chan struct{}
	err   error
}

func newFill(file string) *Fill {
	return &Fill{file: file, done: make(chan struct{})}
}

// File 返回回填的文件名。
func (f *Fill) File() string {
	return f.file
}

// State 返回当前状态。
func (f *Fill) State() FillState {
	return FillState(f.state.Load())
}

// Done 在回填结束（完成或放弃）后关闭。
func (f *Fill) Done() <-chan struct{} {
	return f.done
}

// Wait 阻塞到回填结束。完成时返回 nil，放弃时返回原因。
func (f *Fill) Wait() error {
	<-f.done
	return f.err
}

func (f *Fill) start() bool {
	return f.state.CompareAndSwap(int32(FillIdle), int32(FillStreaming))
}

func (f *Fill) finish(err error) {
	next := FillDone
	if err != nil {
		next = FillAborted
	}
	if !f.state.CompareAndSwap(int32(FillStreaming), int32(next)) {
		return
	}
	f.err = err
	close(f.done)
}

// Tarball 是一次 tarball 读取的结果。从远端读取并回填本地时 Fill 不为 nil。
type Tarball struct {
	// Tier 表示字节来自哪个存储层。
	Tier string
	// Size 为对象大小，未知时为 -1。
	Size int64

	reader io.ReadCloser
	fill   *Fill
}

func (t *Tarball) Read(p []byte) (int, error) {
	return t.reader.Read(p)
}

func (t *Tarball) Close() error {
	return t.reader.Close()
}

// Fill 返回本地回填句柄，没有回填时为 nil。
func (t *Tarball) Fill() *Fill {
	return t.fill
}

// teeReader 把读到的字节同时写入回填管道。管道写失败只会停止回填，不影响调用方读取。
type teeReader struct {
	src  io.ReadCloser
	sink *io.PipeWriter

	sinkBroken bool
	closeOnce  sync.Once
}

func (r *teeReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 && !r.sinkBroken {
		if _, werr := r.sink.Write(p[:n]); werr != nil {
			r.sinkBroken = true
		}
	}
	switch {
	case errors.Is(err, io.EOF):
		r.closeSink(nil)
	case err != nil:
		r.closeSink(err)
	}
	return n, err
}

// Close 在读完之前关闭时放弃回填，避免把不完整的文件写入本地。
func (r *teeReader) Close() error {
	r.closeSink(errReadInterrupted)
	return r.src.Close()
}

func (r *teeReader) closeSink(err error) {
	r.closeOnce.Do(func() {
		if err == nil {
			r.sink.Close()
			return
		}
		r.sink.CloseWithError(err)
	})
}
