package wager

import (
	"math/bits"
	"sort"
	"strings"
)

// BpsDenominator is the fixed-point denominator for fee rates (10000 = 100%).
const BpsDenominator = 10000

// Tiers is the closed set of stake amounts a game accepts.
type Tiers struct {
	amounts []int64
	set     map[int64]struct{}
}

// NewTiers builds a tier set. Non-positive and duplicate amounts are dropped.
func NewTiers(amounts []int64) Tiers {
	t := Tiers{set: make(map[int64]struct{}, len(amounts))}
	for _, a := range amounts {
		if a <= 0 {
			continue
		}
		if _, dup := t.set[a]; dup {
			continue
		}
		t.set[a] = struct{}{}
		t.amounts = append(t.amounts, a)
	}
	sort.Slice(t.amounts, func(i, j int) bool { return t.amounts[i] < t.amounts[j] })
	return t
}

// Contains reports whether amount is an allowed stake.
func (t Tiers) Contains(amount int64) bool {
	_, ok := t.set[amount]
	return ok
}

// Validate returns an InvalidInput error for unsupported amounts.
func (t Tiers) Validate(amount int64) error {
	if !t.Contains(amount) {
		return InvalidInput(CodeUnsupportedTier, "stake %d is not an allowed tier", amount)
	}
	return nil
}

// Amounts returns the tiers in ascending order.
func (t Tiers) Amounts() []int64 {
	out := make([]int64, len(t.amounts))
	copy(out, t.amounts)
	return out
}

// Choice is a coinflip side.
type Choice string

const (
	Heads Choice = "heads"
	Tails Choice = "tails"
)

// ParseChoice accepts "heads"/"tails" (any case) and rejects everything else.
func ParseChoice(s string) (Choice, error) {
	switch Choice(strings.ToLower(strings.TrimSpace(s))) {
	case Heads:
		return Heads, nil
	case Tails:
		return Tails, nil
	}
	return "", InvalidInput(CodeInvalidChoice, "choice %q must be heads or tails", s)
}

// Valid reports whether c is one of the two sides.
func (c Choice) Valid() bool {
	return c == Heads || c == Tails
}

// ChoiceFromBit maps an outcome bit to a side (0 = heads, 1 = tails).
func ChoiceFromBit(b int) Choice {
	if b == 0 {
		return Heads
	}
	return Tails
}

// SplitPot pays floor(pot * (10000-feeBps) / (10000*heads)) to each of heads
// recipients. Everything not paid out, fee and rounding remainder alike, goes
// to the fee sink, so perHead*heads + fee == pot always holds.
func SplitPot(pot int64, heads int, feeBps int) (perHead int64, fee int64) {
	if heads <= 0 || pot <= 0 {
		return 0, pot
	}
	if feeBps < 0 {
		feeBps = 0
	}
	if feeBps > BpsDenominator {
		feeBps = BpsDenominator
	}
	// 128-bit intermediate so large base-unit amounts cannot overflow.
	hi, lo := bits.Mul64(uint64(pot), uint64(BpsDenominator-feeBps))
	q, _ := bits.Div64(hi, lo, uint64(BpsDenominator)*uint64(heads))
	perHead = int64(q)
	fee = pot - perHead*int64(heads)
	return perHead, fee
}
