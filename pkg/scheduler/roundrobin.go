package scheduler

import (
	"github.com/absmach/fedguard/node"
)

type roundRobin struct {
	perRound int
}

// NewRoundRobin walks the node list perRound nodes at a time, wrapping
// around, so round r starts where round r-1 stopped.
func NewRoundRobin(perRound int) Selector {
	return &roundRobin{perRound: perRound}
}

func (r *roundRobin) Select(round uint64, nodes []*node.Node) ([]*node.Node, error) {
	if len(nodes) == 0 {
		return nil, ErrNoParticipants
	}
	if r.perRound >= len(nodes) {
		return nodes, nil
	}

	// Rounds are numbered from 1.
	if round == 0 {
		round = 1
	}
	start := int(((round - 1) * uint64(r.perRound)) % uint64(len(nodes)))

	selected := make([]*node.Node, r.perRound)
	for i := range selected {
		selected[i] = nodes[(start+i)%len(nodes)]
	}

	return selected, nil
}
