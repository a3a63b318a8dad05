// Package jsonl 实现异步 JSONL 行情快照记录。
// 使用带缓冲的 channel 实现热路径的非阻塞投递，
// JSON 编码与文件 I/O 在后台 goroutine 完成。
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

type opType int

const (
	opAppend opType = iota
	opFlush
	opClose
)

type op struct {
	typ  opType
	val  any
	done chan error
}

// Recorder 异步 JSONL 记录器
// Append 只负责投递，实际写入在后台 goroutine 完成。
type Recorder struct {
	// path 输出文件路径
	path string
	// ch 操作通道
	ch chan op

	closeOnce sync.Once
	closeErr  error
	closed    int32

	sendMu sync.Mutex

	wg sync.WaitGroup
}

// NewRecorder 创建 JSONL 记录器
// 参数 path: 输出文件路径（目录不存在时自动创建）
// 参数 bufferSize: 投递缓冲区大小（channel capacity）
func NewRecorder(path string, bufferSize int) (*Recorder, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	r := &Recorder{
		path: path,
		ch:   make(chan op, bufferSize),
	}

	r.wg.Add(1)
	go r.loop(f)

	return r, nil
}

// Append 异步写入一条 JSONL 记录
func (r *Recorder) Append(v any) error {
	if r == nil {
		return fmt.Errorf("recorder 为空")
	}
	if atomic.LoadInt32(&r.closed) == 1 {
		return fmt.Errorf("recorder 已关闭")
	}
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if atomic.LoadInt32(&r.closed) == 1 {
		return fmt.Errorf("recorder 已关闭")
	}
	r.ch <- op{typ: opAppend, val: v}
	return nil
}

// Flush 强制 flush 文件缓冲区
func (r *Recorder) Flush() error {
	if r == nil {
		return nil
	}
	if atomic.LoadInt32(&r.closed) == 1 {
		return nil
	}
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if atomic.LoadInt32(&r.closed) == 1 {
		return nil
	}
	done := make(chan error, 1)
	r.ch <- op{typ: opFlush, done: done}
	return <-done
}

// Close 关闭记录器（会先 flush）
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		atomic.StoreInt32(&r.closed, 1)
		r.sendMu.Lock()
		defer r.sendMu.Unlock()
		done := make(chan error, 1)
		r.ch <- op{typ: opClose, done: done}
		r.closeErr = <-done
		close(r.ch)
	})
	r.wg.Wait()
	return r.closeErr
}

func (r *Recorder) loop(f *os.File) {
	defer r.wg.Done()
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20) // 1MB buffer
	reply := func(err error, done chan error) {
		if done != nil {
			done <- err
		}
	}

	for req := range r.ch {
		switch req.typ {
		case opAppend:
			b, err := json.Marshal(req.val)
			if err != nil {
				continue
			}
			if _, err := bw.Write(b); err != nil {
				continue
			}
			if err := bw.WriteByte('\n'); err != nil {
				continue
			}
		case opFlush:
			reply(bw.Flush(), req.done)
		case opClose:
			reply(bw.Flush(), req.done)
			return
		}
	}
}
