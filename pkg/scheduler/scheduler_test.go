package scheduler_test

import (
	"fmt"
	"testing"

	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodes(n int) []*node.Node {
	out := make([]*node.Node, n)
	for i := range out {
		out[i] = &node.Node{ID: fmt.Sprintf("n%d", i), Name: fmt.Sprintf("node-%d", i)}
	}

	return out
}

func ids(ns []*node.Node) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}

	return out
}

func TestNew(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc     string
		name     string
		perRound int
		err      error
	}{
		{desc: "default", name: ""},
		{desc: "all", name: scheduler.SelectAll},
		{desc: "round robin", name: scheduler.SelectRoundRobin, perRound: 2},
		{desc: "round robin without size", name: scheduler.SelectRoundRobin, err: scheduler.ErrInvalidSelection},
		{desc: "unknown", name: "random", err: scheduler.ErrUnknownSelector},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			s, err := scheduler.New(tc.name, tc.perRound)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestSelectAll(t *testing.T) {
	t.Parallel()

	got, err := scheduler.NewAll().Select(3, nodes(4))
	require.NoError(t, err)
	assert.Equal(t, []string{"n0", "n1", "n2", "n3"}, ids(got))

	_, err = scheduler.NewAll().Select(1, nil)
	assert.ErrorIs(t, err, scheduler.ErrNoParticipants)
}

func TestSelectRoundRobin(t *testing.T) {
	t.Parallel()

	s := scheduler.NewRoundRobin(2)
	ns := nodes(5)

	cases := []struct {
		round uint64
		want  []string
	}{
		{round: 1, want: []string{"n0", "n1"}},
		{round: 2, want: []string{"n2", "n3"}},
		{round: 3, want: []string{"n4", "n0"}},
		{round: 4, want: []string{"n1", "n2"}},
	}
	for _, tc := range cases {
		got, err := s.Select(tc.round, ns)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ids(got), "round %d", tc.round)
	}

	got, err := scheduler.NewRoundRobin(9).Select(1, ns)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	_, err = s.Select(1, nil)
	assert.ErrorIs(t, err, scheduler.ErrNoParticipants)
}
