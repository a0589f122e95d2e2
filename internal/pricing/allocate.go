// Package pricing implements cent-exact discount allocation for checkout
// line items.  Allocation is a pure function: it performs no I/O and is
// fully deterministic for a given input, which allows checkout totals to
// be recomputed and verified anywhere.
package pricing

import (
    "errors"
    "fmt"
    "sort"
)

// MaxUnitAmountCents is the largest unit amount the payment processor
// accepts for a single line.  Anything above it is a pricing bug.
const MaxUnitAmountCents = 99_999_999

// Sentinel errors for pricing invariant violations.  All of them are
// fatal: checkout construction must abort rather than proceed with a
// total that does not match what the customer will be charged.
var (
    ErrBadPercent    = errors.New("discount percent out of range")
    ErrInvalidLine   = errors.New("invalid line item")
    ErrUnitOverLimit = errors.New("unit amount exceeds processor limit")
    ErrTotalMismatch = errors.New("allocated total does not match target")
)

// Line is one priced checkout component.  UnitCents is the price of a
// single unit; the line's value is UnitCents*Quantity.  Key must be
// unique within a cart and stable across retries because it is the
// tie-breaker that keeps allocation deterministic.
type Line struct {
    Key       string `json:"key"`
    Name      string `json:"name"`
    UnitCents int64  `json:"unit_amount_cents"`
    Quantity  int64  `json:"quantity"`
}

// Total returns the summed value of the given lines in cents.
func Total(lines []Line) int64 {
    var sum int64
    for _, l := range lines {
        sum += l.UnitCents * l.Quantity
    }
    return sum
}

// DiscountedTotal returns round(totalCents * (100-pct) / 100), the
// authoritative post-discount amount the processor will charge.
func DiscountedTotal(totalCents int64, pct int) int64 {
    return (totalCents*int64(100-pct) + 50) / 100
}

// Allocate distributes a percentage discount across lines so that the
// returned lines sum exactly to DiscountedTotal(Total(lines), pct) while
// each line stays as close as possible to its proportional share.
//
// The algorithm is largest-remainder: every line first gets the floor of
// its discounted value, then the cents still missing from the target are
// handed out one each to the lines with the largest remainders,
// tie-broken by ascending key.  A line whose new value is not divisible
// by its quantity is collapsed to quantity one (the original quantity is
// folded into the display name) so no fractional-cent unit price ever
// reaches the processor.
//
// Any violation of the pricing invariants is returned as an error; the
// function never returns a line set whose sum differs from the target.
func Allocate(lines []Line, pct int) ([]Line, error) {
    if pct < 0 || pct > 100 {
        return nil, fmt.Errorf("%w: %d", ErrBadPercent, pct)
    }
    for _, l := range lines {
        if l.Key == "" || l.Quantity <= 0 || l.UnitCents < 0 {
            return nil, fmt.Errorf("%w: key=%q unit=%d qty=%d", ErrInvalidLine, l.Key, l.UnitCents, l.Quantity)
        }
    }
    target := DiscountedTotal(Total(lines), pct)
    keep := int64(100 - pct)

    type alloc struct {
        idx       int
        remainder int64
        cents     int64 // allocated line value so far (floor)
    }
    allocs := make([]alloc, len(lines))
    var floorSum int64
    for i, l := range lines {
        pre := l.UnitCents * l.Quantity
        scaled := pre * keep
        allocs[i] = alloc{idx: i, remainder: scaled % 100, cents: scaled / 100}
        floorSum += scaled / 100
    }

    // Hand out the cents the floors fell short of, preferring the lines
    // that lost the most to truncation.  Key order breaks remainder ties
    // so equal carts always allocate identically.
    extra := target - floorSum
    if extra < 0 || extra > int64(len(lines)) {
        return nil, fmt.Errorf("%w: target=%d floors=%d", ErrTotalMismatch, target, floorSum)
    }
    order := make([]int, len(allocs))
    for i := range order {
        order[i] = i
    }
    sort.SliceStable(order, func(a, b int) bool {
        ra, rb := allocs[order[a]], allocs[order[b]]
        if ra.remainder != rb.remainder {
            return ra.remainder > rb.remainder
        }
        return lines[ra.idx].Key < lines[rb.idx].Key
    })
    for i := int64(0); i < extra; i++ {
        allocs[order[i]].cents++
    }

    out := make([]Line, len(lines))
    var sum int64
    for i, l := range lines {
        cents := allocs[i].cents
        nl := l
        if cents%l.Quantity == 0 {
            nl.UnitCents = cents / l.Quantity
        } else {
            // Collapse to a single unit so the unit price stays an
            // integer number of cents.
            nl.Name = fmt.Sprintf("%s (x%d)", l.Name, l.Quantity)
            nl.UnitCents = cents
            nl.Quantity = 1
        }
        if nl.UnitCents < 0 {
            return nil, fmt.Errorf("%w: key=%q unit=%d", ErrInvalidLine, nl.Key, nl.UnitCents)
        }
        if nl.UnitCents > MaxUnitAmountCents {
            return nil, fmt.Errorf("%w: key=%q unit=%d", ErrUnitOverLimit, nl.Key, nl.UnitCents)
        }
        sum += nl.UnitCents * nl.Quantity
        out[i] = nl
    }
    if sum != target {
        return nil, fmt.Errorf("%w: got=%d want=%d", ErrTotalMismatch, sum, target)
    }
    return out, nil
}
