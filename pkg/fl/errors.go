package fl

import "errors"

var (
	ErrClientTraining     = errors.New("client training failed")
	ErrAllClientsExcluded = errors.New("all clients excluded")
	ErrNoReportsReceived  = errors.New("no reports received")
	ErrCorruptUpdate      = errors.New("corrupt client update")
	ErrCorruptAggregate   = errors.New("corrupt aggregate")
	ErrShapeMismatch      = errors.New("parameter layout mismatch")
	ErrUnknownMethod      = errors.New("unknown method")
)
