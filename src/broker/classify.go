package broker

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/twmb/franz-go/pkg/kerr"
)

// ErrorClass decides what the Connector does with a failed attempt.
type ErrorClass int

const (
	// ClassFatal stops the retry loop.
	ClassFatal ErrorClass = iota
	// ClassTransient means the broker is temporarily unreachable.
	ClassTransient
	// ClassExhausted means the client library gave up within one attempt.
	// It is logged as a warning and retried like a transient error.
	ClassExhausted
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassExhausted:
		return "exhausted"
	default:
		return "fatal"
	}
}

// Classifier maps a dial error to its ErrorClass.
type Classifier func(err error) ErrorClass

// DefaultClassifier understands franz-go and network errors. Anything it
// does not recognise is fatal.
func DefaultClassifier(err error) ErrorClass {
	// context.DeadlineExceeded satisfies net.Error, so it is checked first.
	if errors.Is(err, ErrRetriesExhausted) || errors.Is(err, context.DeadlineExceeded) {
		return ClassExhausted
	}
	if errors.Is(err, ErrInvalidDialSpec) {
		return ClassFatal
	}

	var kafkaErr *kerr.Error
	if errors.As(err, &kafkaErr) {
		if kerr.IsRetriable(kafkaErr) {
			return ClassTransient
		}
		return ClassFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return ClassTransient
	}
	return ClassFatal
}
