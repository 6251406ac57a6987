package service

import (
	"context"
	"errors"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/engine"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps an engine error to a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, engine.ErrKeyNotFound):
		code = codes.NotFound
	case errors.Is(err, engine.ErrInvalidKey),
		errors.Is(err, engine.ErrInvalidValue),
		errors.Is(err, engine.ErrInvalidRange),
		errors.Is(err, block.ErrCorruptEntry):
		code = codes.InvalidArgument
	case errors.Is(err, engine.ErrLobTooLarge):
		code = codes.ResourceExhausted
	case errors.Is(err, engine.ErrEngineClosed):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// fromStatus maps the codes toStatus produces back to the engine sentinels
// callers compare against. Other errors are returned unchanged.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return engine.ErrKeyNotFound
	case codes.ResourceExhausted:
		return &statusError{st: st, sentinel: engine.ErrLobTooLarge}
	case codes.FailedPrecondition:
		return &statusError{st: st, sentinel: engine.ErrEngineClosed}
	}
	return err
}

// statusError keeps the status of a remote error while matching an engine
// sentinel with errors.Is.
type statusError struct {
	st       *status.Status
	sentinel error
}

func (e *statusError) Error() string              { return e.st.Message() }
func (e *statusError) Unwrap() error              { return e.sentinel }
func (e *statusError) GRPCStatus() *status.Status { return e.st }
