package uplink

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

const (
	msgNotFound        = "file doesn't exist on uplink"
	msgContentMismatch = "content length mismatch"
)

func invalidArgument(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
}

func notFound(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(msg)
}

func internal(msg string, cause error) error {
	b := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(msg)
	if cause != nil {
		b = b.WithCause(cause)
	}
	return b
}

func badStatus(status int) error {
	return internal(fmt.Sprintf("bad uplink status code: %d", status), nil)
}

func contentMismatch(cause error) error {
	return internal(msgContentMismatch, cause)
}

// IsContentMismatch 判断 err 是否为 tarball 长度不符或传输中断，调用方可据此重试。
func IsContentMismatch(err error) bool {
	return errbuilder.CodeOf(err) == errbuilder.CodeInternal && Message(err) == msgContentMismatch
}

// Message 返回适合展示给调用方的错误信息：errbuilder 错误取其 Msg，其它错误取 Error()。
func Message(err error) string {
	if err == nil {
		return ""
	}
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}
