package pricing

import (
    "errors"
    "fmt"
    "math/rand"
    "reflect"
    "testing"
)

func line(key string, unit, qty int64) Line {
    return Line{Key: key, Name: key, UnitCents: unit, Quantity: qty}
}

func sum(lines []Line) int64 { return Total(lines) }

func TestAllocateThreeEqualLinesTenPercent(t *testing.T) {
    // 3 x 199 cents at 10% -> target 537, floors {179,179,179} already sum up.
    out, err := Allocate([]Line{line("a", 199, 1), line("b", 199, 1), line("c", 199, 1)}, 10)
    if err != nil {
        t.Fatalf("allocate: %v", err)
    }
    if got := sum(out); got != 537 {
        t.Fatalf("total = %d, want 537", got)
    }
    for _, l := range out {
        if l.UnitCents != 179 || l.Quantity != 1 {
            t.Fatalf("line %s = %d x %d, want 179 x 1", l.Key, l.UnitCents, l.Quantity)
        }
    }
}

func TestAllocateFifteenPercentNoRedistribution(t *testing.T) {
    out, err := Allocate([]Line{line("a", 100, 1), line("b", 100, 1), line("c", 100, 1)}, 15)
    if err != nil {
        t.Fatalf("allocate: %v", err)
    }
    if got := sum(out); got != 255 {
        t.Fatalf("total = %d, want 255", got)
    }
    for _, l := range out {
        if l.UnitCents != 85 {
            t.Fatalf("line %s unit = %d, want 85", l.Key, l.UnitCents)
        }
    }
}

func TestAllocateCollapsesIndivisibleQuantity(t *testing.T) {
    // 333 x 2 at 7%: pre 666, target 619, not divisible by 2.
    out, err := Allocate([]Line{line("mach", 333, 2)}, 7)
    if err != nil {
        t.Fatalf("allocate: %v", err)
    }
    if len(out) != 1 {
        t.Fatalf("len = %d, want 1", len(out))
    }
    l := out[0]
    if l.Quantity != 1 || l.UnitCents != 619 {
        t.Fatalf("collapsed line = %d x %d, want 619 x 1", l.UnitCents, l.Quantity)
    }
    if l.Name != "mach (x2)" {
        t.Fatalf("collapsed name = %q, want %q", l.Name, "mach (x2)")
    }
}

func TestAllocateAdversarialRemainders(t *testing.T) {
    // 3 x 33 cents at 10%: pre totals 99, target round(89.1) = 89.
    // Floors are 29 each (87); two lines must pick up an extra cent.
    out, err := Allocate([]Line{line("a", 33, 1), line("b", 33, 1), line("c", 33, 1)}, 10)
    if err != nil {
        t.Fatalf("allocate: %v", err)
    }
    if got := sum(out); got != 89 {
        t.Fatalf("total = %d, want 89", got)
    }
    // Equal remainders: key order decides who gets the extra cents.
    if out[0].UnitCents != 30 || out[1].UnitCents != 30 || out[2].UnitCents != 29 {
        t.Fatalf("allocation = {%d,%d,%d}, want {30,30,29}", out[0].UnitCents, out[1].UnitCents, out[2].UnitCents)
    }
}

func TestAllocateZeroAndFullDiscount(t *testing.T) {
    lines := []Line{line("a", 1250, 2), line("b", 499, 1)}
    out, err := Allocate(lines, 0)
    if err != nil {
        t.Fatalf("allocate 0%%: %v", err)
    }
    if !reflect.DeepEqual(out, lines) {
        t.Fatalf("0%% discount changed lines: %+v", out)
    }
    out, err = Allocate(lines, 100)
    if err != nil {
        t.Fatalf("allocate 100%%: %v", err)
    }
    if got := sum(out); got != 0 {
        t.Fatalf("100%% discount total = %d, want 0", got)
    }
}

func TestAllocateRejectsBadInput(t *testing.T) {
    if _, err := Allocate([]Line{line("a", 100, 1)}, -1); !errors.Is(err, ErrBadPercent) {
        t.Fatalf("pct -1: err = %v, want ErrBadPercent", err)
    }
    if _, err := Allocate([]Line{line("a", 100, 1)}, 101); !errors.Is(err, ErrBadPercent) {
        t.Fatalf("pct 101: err = %v, want ErrBadPercent", err)
    }
    if _, err := Allocate([]Line{line("a", -5, 1)}, 10); !errors.Is(err, ErrInvalidLine) {
        t.Fatalf("negative unit: err = %v, want ErrInvalidLine", err)
    }
    if _, err := Allocate([]Line{line("a", 100, 0)}, 10); !errors.Is(err, ErrInvalidLine) {
        t.Fatalf("zero qty: err = %v, want ErrInvalidLine", err)
    }
    if _, err := Allocate([]Line{{Name: "no key", UnitCents: 100, Quantity: 1}}, 10); !errors.Is(err, ErrInvalidLine) {
        t.Fatalf("empty key: err = %v, want ErrInvalidLine", err)
    }
    if _, err := Allocate([]Line{line("a", MaxUnitAmountCents+1, 1)}, 0); !errors.Is(err, ErrUnitOverLimit) {
        t.Fatalf("over limit: err = %v, want ErrUnitOverLimit", err)
    }
}

func TestAllocateIsDeterministic(t *testing.T) {
    lines := []Line{line("b", 101, 3), line("a", 101, 3), line("c", 77, 2)}
    first, err := Allocate(lines, 13)
    if err != nil {
        t.Fatalf("allocate: %v", err)
    }
    for i := 0; i < 10; i++ {
        again, err := Allocate(lines, 13)
        if err != nil {
            t.Fatalf("allocate: %v", err)
        }
        if !reflect.DeepEqual(first, again) {
            t.Fatalf("run %d differs: %+v vs %+v", i, first, again)
        }
    }
}

func TestAllocatePropertyExactSum(t *testing.T) {
    rng := rand.New(rand.NewSource(42))
    for i := 0; i < 5000; i++ {
        n := 1 + rng.Intn(8)
        lines := make([]Line, n)
        for j := 0; j < n; j++ {
            lines[j] = line(fmt.Sprintf("k%02d", j), int64(rng.Intn(50_000)), 1+int64(rng.Intn(5)))
        }
        pct := rng.Intn(101)
        out, err := Allocate(lines, pct)
        if err != nil {
            t.Fatalf("iter %d pct %d: %v (lines %+v)", i, pct, err, lines)
        }
        want := DiscountedTotal(Total(lines), pct)
        if got := sum(out); got != want {
            t.Fatalf("iter %d pct %d: total %d, want %d (lines %+v)", i, pct, got, want, lines)
        }
        for _, l := range out {
            if l.UnitCents < 0 || l.UnitCents > MaxUnitAmountCents {
                t.Fatalf("iter %d: unit out of range: %+v", i, l)
            }
        }
    }
}
