package worldmodel

import "errors"

// ErrNilInsightsEvent indicates a nil insights event payload was provided to a sink.
var ErrNilInsightsEvent = errors.New("nil insights event")
