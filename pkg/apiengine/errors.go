package apiengine

import (
	"fmt"

	"github.com/rocm/gpuagent/pkg/smi"
)

// StatusCode is the closed RPC status taxonomy (§6.1) every engine
// operation resolves to; pkg/rpcfront maps it to a gRPC status code.
type StatusCode string

const (
	StatusOK            StatusCode = "OK"
	StatusErr           StatusCode = "ERR"
	StatusInvalidArg    StatusCode = "INVALID_ARG"
	StatusExists        StatusCode = "EXISTS"
	StatusOOM           StatusCode = "OOM"
	StatusNotFound      StatusCode = "NOT_FOUND"
	StatusNotAllowed    StatusCode = "NOT_ALLOWED"
	StatusNotSupported  StatusCode = "NOT_SUPPORTED"
	StatusInUse         StatusCode = "IN_USE"
)

// DetailCode is the closed, disjoint taxonomy of failure details a
// GpuUpdate/GpuReset call can report alongside its StatusCode (§6.1).
type DetailCode string

const (
	DetailNone                              DetailCode = ""
	DetailClockFreqRangeInvalid             DetailCode = "clock-frequency-range-invalid"
	DetailOverdriveOutOfRange               DetailCode = "overdrive-out-of-range"
	DetailNumClockFreqRangeExceeded         DetailCode = "num-clock-freq-range-exceeded"
	DetailDuplicateClockFreqRange           DetailCode = "duplicate-clock-freq-range"
	DetailClockTypeFreqRangeUpdateNotSupported DetailCode = "clock-type-freq-range-update-not-supported"
	DetailGpuPowerCapOutOfRange             DetailCode = "gpu-power-cap-out-of-range"
	DetailUnknown                           DetailCode = "unknown"
)

// EngineError is the error type every apiengine handler returns in its
// reply's Err field. Status and Detail are the two fields pkg/rpcfront
// needs to pick a gRPC status code without parsing error text.
type EngineError struct {
	Status  StatusCode
	Detail  DetailCode
	Message string
}

func (e *EngineError) Error() string { return e.Message }

func notFoundErr(format string, args ...any) *EngineError {
	return &EngineError{Status: StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

func inUseErr(format string, args ...any) *EngineError {
	return &EngineError{Status: StatusInUse, Message: fmt.Sprintf(format, args...)}
}

func invalidArgErr(detail DetailCode, format string, args ...any) *EngineError {
	return &EngineError{Status: StatusInvalidArg, Detail: detail, Message: fmt.Sprintf(format, args...)}
}

func notAllowedErr(format string, args ...any) *EngineError {
	return &EngineError{Status: StatusNotAllowed, Message: fmt.Sprintf(format, args...)}
}

func errEngine(format string, args ...any) *EngineError {
	return &EngineError{Status: StatusErr, Message: fmt.Sprintf(format, args...)}
}

// smiUpdateDetail maps one of smi.Update's sentinel validation errors to
// its §6.1 detail code. Any other error (an unknown GPU, a backend
// failure) gets DetailUnknown.
func smiUpdateDetail(err error) DetailCode {
	switch {
	case smi.ErrOverdriveRange(err):
		return DetailOverdriveOutOfRange
	case smi.ErrPowerCapRange(err):
		return DetailGpuPowerCapOutOfRange
	case smi.ErrClockRangeInvalid(err):
		return DetailClockFreqRangeInvalid
	case smi.ErrTooManyClockRanges(err):
		return DetailNumClockFreqRangeExceeded
	default:
		return DetailUnknown
	}
}
