package broker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConnectionFatal  = errors.New("fatal broker connection error")
	ErrRetriesExhausted = errors.New("broker connection retries exhausted")
	ErrInvalidDialSpec  = errors.New("invalid connection settings")
	ErrProvisioning     = errors.New("topic provisioning failed")
	ErrTopicExists      = errors.New("topic already exists")
	ErrPublish          = errors.New("publish failed")
	ErrNotConnected     = errors.New("not connected")
	ErrClosed           = errors.New("connection closed")
)

// ConnectError is returned by Connector.Connect when no connection could be
// established. Fatal errors match ErrConnectionFatal; a configured retry
// ceiling matches ErrRetriesExhausted.
type ConnectError struct {
	Role      Role
	Attempts  int
	Fatal     bool
	Exhausted bool
	Err       error
}

func (e *ConnectError) Error() string {
	var kind string
	switch {
	case e.Fatal:
		kind = "fatal error"
	case e.Exhausted:
		kind = "retries exhausted"
	default:
		kind = "aborted"
	}
	return fmt.Sprintf("connect %s: %s after %d attempt(s): %v", e.Role, kind, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func (e *ConnectError) Is(target error) bool {
	switch target {
	case ErrConnectionFatal:
		return e.Fatal
	case ErrRetriesExhausted:
		return e.Exhausted
	}
	return false
}

// ProvisioningError reports topics that could not be created for a reason
// other than already existing.
type ProvisioningError struct {
	Topics []string
	Err    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision topics [%s]: %v", strings.Join(e.Topics, ", "), e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

func (e *ProvisioningError) Is(target error) bool {
	return target == ErrProvisioning
}

// PublishError wraps a failed publish on a topic.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("publish: %v", e.Err)
	}
	return fmt.Sprintf("publish to %q: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func (e *PublishError) Is(target error) bool {
	return target == ErrPublish
}

// MessageDecodeError marks a consumed message whose body is not valid JSON.
// Subscribers log and drop these.
type MessageDecodeError struct {
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

func (e *MessageDecodeError) Error() string {
	return fmt.Sprintf("decode %s[%d]@%d: %v", e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *MessageDecodeError) Unwrap() error {
	return e.Err
}
