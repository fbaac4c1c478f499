package scheduler

import (
	"errors"
	"fmt"

	"github.com/absmach/fedguard/node"
)

const (
	SelectAll        = "all"
	SelectRoundRobin = "roundrobin"
)

var (
	ErrNoParticipants   = errors.New("no participants were provided")
	ErrUnknownSelector  = errors.New("unknown selector")
	ErrInvalidSelection = errors.New("invalid selection size")
)

// Selector picks the nodes that train in a round. The returned slice must not
// be modified by the caller.
type Selector interface {
	Select(round uint64, nodes []*node.Node) ([]*node.Node, error)
}

// New returns the selector registered under name. perRound only applies to
// round-robin sampling.
func New(name string, perRound int) (Selector, error) {
	switch name {
	case SelectAll, "":
		return NewAll(), nil
	case SelectRoundRobin:
		if perRound <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidSelection, perRound)
		}

		return NewRoundRobin(perRound), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSelector, name)
	}
}

type all struct{}

func NewAll() Selector {
	return all{}
}

func (all) Select(_ uint64, nodes []*node.Node) ([]*node.Node, error) {
	if len(nodes) == 0 {
		return nil, ErrNoParticipants
	}

	return nodes, nil
}
