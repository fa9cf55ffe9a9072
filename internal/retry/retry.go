// Package retry 提供固定间隔的重试执行器，供上游请求等可能瞬时失败的操作复用。
package retry

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Infinite 表示无限重试，直到成功或进程退出。
const Infinite = -1

const (
	defaultDelay   = 100 * time.Millisecond
	defaultRetries = 10
)

// Config 控制重试次数与间隔。Retries 为 0 时只执行一次；负数视为无限重试。
type Config struct {
	Delay   time.Duration
	Retries int
	Log     func(msg string)
}

// DefaultConfig 返回 100ms 间隔、10 次重试的默认配置。
func DefaultConfig() Config {
	return Config{Delay: defaultDelay, Retries: defaultRetries}
}

// Executor 按 Config 执行操作。执行开始后不可取消，调用方需自行控制整体超时。
type Executor struct {
	delay     time.Duration
	retries   int
	unbounded bool
	log       func(msg string)
	sleep     func(time.Duration)
}

// New 基于 cfg 构造执行器；未设置 Log 时丢弃重试日志。
func New(cfg Config) *Executor {
	e := &Executor{
		delay:   cfg.Delay,
		retries: cfg.Retries,
		log:     cfg.Log,
		sleep:   time.Sleep,
	}
	if cfg.Retries < 0 {
		e.unbounded = true
		e.retries = math.MaxInt
	}
	if e.log == nil {
		e.log = func(string) {}
	}
	return e
}

// Attempts 返回最多执行的次数；无限重试时返回 -1。
func (e *Executor) Attempts() int {
	if e.unbounded {
		return Infinite
	}
	return e.retries + 1
}

type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }

func (e *abortError) Unwrap() error { return e.err }

// Abort 包装 err，Do 遇到后立即返回 err 本身，不再重试。
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

func unwrapAbort(err error) (error, bool) {
	var abort *abortError
	if errors.As(err, &abort) {
		return abort.err, true
	}
	return err, false
}

// Do 执行 op，返回首次成功的结果；全部失败后返回最后一次的错误。
// 两次尝试之间固定等待 delay，最后一次失败后不再等待。
func Do[T any](e *Executor, op func() (T, error)) (T, error) {
	if e.retries == 0 {
		value, err := op()
		err, _ = unwrapAbort(err)
		return value, err
	}

	var lastErr error
	for attempt := 0; attempt <= e.retries; attempt++ {
		value, err := op()
		if err == nil {
			return value, nil
		}
		if cause, aborted := unwrapAbort(err); aborted {
			var zero T
			return zero, cause
		}
		lastErr = err
		e.log(fmt.Sprintf("retry %d failed: %v", attempt, err))

		if attempt < e.retries {
			e.wait()
		}
	}

	var zero T
	return zero, lastErr
}

// Run 是 Do 的无返回值版本。
func Run(e *Executor, op func() error) error {
	_, err := Do(e, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

func (e *Executor) wait() {
	if e.delay <= 0 {
		return
	}
	e.sleep(e.delay)
}
