package engine

import "errors"

// ErrNotFound marks an unknown flow, menu, option, or keyword. Callers log
// it and degrade to a no-op or a generic fallback; it is never fatal.
var ErrNotFound = errors.New("not found")

// ErrFlowMisconfigured is returned when step advancement exceeds the flow's
// own step count, which only a broken catalog can cause.
var ErrFlowMisconfigured = errors.New("flow misconfigured")
