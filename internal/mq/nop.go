package mq

import (
	"context"
	"errors"
)

// ErrNoBroker is returned when subscribing without a configured broker.
var ErrNoBroker = errors.New("no message broker configured")

// NopBackend discards published messages.
type NopBackend struct{}

func (NopBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return "", nil
}

func (NopBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return ErrNoBroker
}

func (NopBackend) Close() error {
	return nil
}
