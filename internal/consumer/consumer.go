// Package consumer runs the pipeline's domain consumers on top of broker
// subscriptions: lifecycle, per-message failure isolation, timing metrics and
// error reporting live in the Runner, domain logic in each Consumer.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidPayload marks messages that decode or validate badly. They are
// reported but never retried.
var ErrInvalidPayload = errors.New("invalid payload")

// Consumer is one domain consumer. Handle receives the raw JSON payload of a
// message published on one of Channels.
type Consumer interface {
	Name() string
	Channels() []string
	// MetricNamespace prefixes the consumer's processed, processing time and
	// error counters.
	MetricNamespace() string
	Handle(ctx context.Context, channel string, payload []byte) error
}

type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

var validate = validator.New()

// Decode unmarshals payload into dst and validates its struct tags.
func Decode(payload []byte, dst any) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
