package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
	"gonum.org/v1/gonum/floats"
)

type Attack string

const (
	AttackNone     Attack = ""
	AttackScale    Attack = "scale"
	AttackSignFlip Attack = "signflip"
	AttackNoise    Attack = "noise"
	AttackNaN      Attack = "nan"
	AttackStall    Attack = "stall"
)

func ParseAttack(s string) (Attack, error) {
	switch a := Attack(s); a {
	case AttackNone, AttackScale, AttackSignFlip, AttackNoise, AttackNaN, AttackStall:
		return a, nil
	default:
		return AttackNone, fmt.Errorf("unknown attack %q", s)
	}
}

const DefaultAttackFactor = 100

// ByzantineUnit wraps an honest unit and corrupts what it reports in the
// rounds its schedule selects. Rounds are announced by the owning node; a
// unit trained directly counts its own calls from 1 instead.
type ByzantineUnit struct {
	inner    node.TrainableUnit
	attack   Attack
	factor   float64
	schedule func(round uint64) bool
	rng      *rand.Rand

	calls  uint64
	round  uint64
	active bool
}

var (
	_ node.TrainableUnit = (*ByzantineUnit)(nil)
	_ node.RoundAware    = (*ByzantineUnit)(nil)
)

// NewByzantineUnit attacks in the listed rounds, or in every round when none
// are given.
func NewByzantineUnit(inner node.TrainableUnit, attack Attack, factor float64, seed uint64, rounds ...int) *ByzantineUnit {
	return newByzantineUnit(inner, attack, factor, seed, func(round uint64) bool {
		return len(rounds) == 0 || slices.Contains(rounds, int(round))
	})
}

// NewRotatingUnit attacks in every period-th round starting at round index+1,
// so period units with indexes 0..period-1 take turns being the attacker.
func NewRotatingUnit(inner node.TrainableUnit, attack Attack, factor float64, seed uint64, index, period int) *ByzantineUnit {
	if period <= 0 {
		period = 1
	}

	return newByzantineUnit(inner, attack, factor, seed, func(round uint64) bool {
		return (round-1)%uint64(period) == uint64(index)
	})
}

func newByzantineUnit(inner node.TrainableUnit, attack Attack, factor float64, seed uint64, schedule func(uint64) bool) *ByzantineUnit {
	if factor == 0 {
		factor = DefaultAttackFactor
	}

	return &ByzantineUnit{
		inner:    inner,
		attack:   attack,
		factor:   factor,
		schedule: schedule,
		rng:      rand.New(rand.NewPCG(seed, ^seed)),
	}
}

func (u *ByzantineUnit) BeginRound(round uint64) {
	u.round = round
}

func (u *ByzantineUnit) SetParameters(params fl.ParameterVector) error {
	return u.inner.SetParameters(params)
}

func (u *ByzantineUnit) Train(ctx context.Context, data node.Dataset, epochs int) error {
	u.calls++
	round := u.round
	if round == 0 {
		round = u.calls
	}
	u.round = 0
	u.active = u.attack != AttackNone && u.schedule(round)

	if u.active && u.attack == AttackStall {
		<-ctx.Done()

		return ctx.Err()
	}

	return u.inner.Train(ctx, data, epochs)
}

func (u *ByzantineUnit) Parameters() fl.ParameterVector {
	params := u.inner.Parameters()
	if !u.active {
		return params
	}

	flat := params.Flatten()
	switch u.attack {
	case AttackScale:
		floats.Scale(u.factor, flat)
	case AttackSignFlip:
		floats.Scale(-1, flat)
	case AttackNoise:
		for i := range flat {
			flat[i] += u.factor * u.rng.NormFloat64()
		}
	case AttackNaN:
		if len(flat) > 0 {
			flat[0] = math.NaN()
		}
	}

	corrupted, err := params.WithFlat(flat)
	if err != nil {
		return params
	}

	return corrupted
}

func (u *ByzantineUnit) Evaluate(ctx context.Context, data node.Dataset) (fl.Metrics, error) {
	return u.inner.Evaluate(ctx, data)
}
