package payment

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "testing"

    "go.uber.org/zap"

    "github.com/rentalworks/machine-booking/internal/model"
)

type fakeEvents struct {
    mu   sync.Mutex
    seen map[string]bool
    err  error
}

func (f *fakeEvents) Insert(_ context.Context, externalEventID string) (bool, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.err != nil {
        return false, f.err
    }
    if f.seen == nil {
        f.seen = map[string]bool{}
    }
    if f.seen[externalEventID] {
        return false, nil
    }
    f.seen[externalEventID] = true
    return true, nil
}

type fakeLedger struct {
    mu       sync.Mutex
    promoted map[uint64]string
    failures int // errors returned before promotion starts working
}

func (f *fakeLedger) TryPromote(_ context.Context, id uint64, externalPaymentID string) (bool, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.failures > 0 {
        f.failures--
        return false, errors.New("ledger deadlock")
    }
    if f.promoted == nil {
        f.promoted = map[uint64]string{}
    }
    if _, done := f.promoted[id]; done {
        return false, nil
    }
    f.promoted[id] = externalPaymentID
    return true, nil
}

type fakeWork struct {
    mu      sync.Mutex
    items   map[string][]byte // "id/type" -> payload
    failing bool
}

func (f *fakeWork) CreateIfAbsent(_ context.Context, reservationID uint64, typ string, payload []byte, _ int) (bool, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.failing {
        return false, errors.New("work table unavailable")
    }
    if f.items == nil {
        f.items = map[string][]byte{}
    }
    key := fmt.Sprintf("%d/%s", reservationID, typ)
    if _, ok := f.items[key]; ok {
        return false, nil
    }
    f.items[key] = payload
    return true, nil
}

func (f *fakeWork) count() int {
    f.mu.Lock()
    defer f.mu.Unlock()
    return len(f.items)
}

type countKicker struct {
    mu sync.Mutex
    n  int
}

func (k *countKicker) Kick(context.Context) {
    k.mu.Lock()
    k.n++
    k.mu.Unlock()
}

func succeededNotification() Notification {
    return Notification{
        ExternalEventID:   "evt_1",
        ReservationID:     42,
        Outcome:           OutcomeSucceeded,
        ExternalPaymentID: "pi_123",
    }
}

func TestHandleReplaysAreNoOps(t *testing.T) {
    events := &fakeEvents{}
    ledger := &fakeLedger{}
    work := &fakeWork{}
    kicker := &countKicker{}
    rec := NewReconciler(events, ledger, work, kicker, zap.NewNop(), 5)

    for i := 0; i < 5; i++ {
        if err := rec.Handle(context.Background(), succeededNotification()); err != nil {
            t.Fatalf("delivery %d: %v", i, err)
        }
    }
    if len(ledger.promoted) != 1 {
        t.Fatalf("promoted %d reservations, want 1", len(ledger.promoted))
    }
    if got := ledger.promoted[42]; got != "pi_123" {
        t.Fatalf("payment reference = %q, want pi_123", got)
    }
    if work.count() != 3 {
        t.Fatalf("enqueued %d work items, want 3", work.count())
    }
    if kicker.n != 1 {
        t.Fatalf("kicked %d times, want 1", kicker.n)
    }
}

func TestHandleDistinctEventsPromoteOnce(t *testing.T) {
    events := &fakeEvents{}
    ledger := &fakeLedger{}
    work := &fakeWork{}
    rec := NewReconciler(events, ledger, work, nil, zap.NewNop(), 5)

    // The processor may emit several distinct events for one payment.
    for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
        n := succeededNotification()
        n.ExternalEventID = id
        if err := rec.Handle(context.Background(), n); err != nil {
            t.Fatalf("event %s: %v", id, err)
        }
    }
    if len(ledger.promoted) != 1 {
        t.Fatalf("promoted %d times, want 1", len(ledger.promoted))
    }
    if work.count() != 3 {
        t.Fatalf("enqueued %d work items, want 3", work.count())
    }
}

func TestHandleIgnoresFailedOutcome(t *testing.T) {
    events := &fakeEvents{}
    ledger := &fakeLedger{}
    work := &fakeWork{}
    rec := NewReconciler(events, ledger, work, nil, zap.NewNop(), 5)

    n := succeededNotification()
    n.Outcome = OutcomeFailed
    if err := rec.Handle(context.Background(), n); err != nil {
        t.Fatalf("Handle: %v", err)
    }
    if len(ledger.promoted) != 0 {
        t.Fatalf("failed payment promoted the reservation")
    }
    if work.count() != 0 {
        t.Fatalf("failed payment enqueued work")
    }
}

func TestHandleAcksWhenEnqueueFails(t *testing.T) {
    events := &fakeEvents{}
    ledger := &fakeLedger{}
    work := &fakeWork{failing: true}
    rec := NewReconciler(events, ledger, work, nil, zap.NewNop(), 5)

    // Once the event is recorded and the promotion done, enqueue trouble
    // must not bounce the webhook; the periodic sweep cannot repair the
    // queue, so the failure is a log line, not an error.
    if err := rec.Handle(context.Background(), succeededNotification()); err != nil {
        t.Fatalf("Handle: %v", err)
    }
    if len(ledger.promoted) != 1 {
        t.Fatalf("promotion missing")
    }
}

func TestHandleRedeliveryRepairsFailedPromotion(t *testing.T) {
    events := &fakeEvents{}
    ledger := &fakeLedger{failures: 1}
    work := &fakeWork{}
    rec := NewReconciler(events, ledger, work, nil, zap.NewNop(), 5)

    // First delivery records the event, then the promotion dies on a
    // transient error; the caller must see the error so the processor
    // redelivers.
    if err := rec.Handle(context.Background(), succeededNotification()); err == nil {
        t.Fatalf("first delivery: want promotion error, got nil")
    }
    if len(ledger.promoted) != 0 || work.count() != 0 {
        t.Fatalf("failed delivery left state: promoted=%d work=%d", len(ledger.promoted), work.count())
    }

    // The redelivery is a duplicate by event id, but it still finishes
    // the job: promotion plus all three side-effect items.
    if err := rec.Handle(context.Background(), succeededNotification()); err != nil {
        t.Fatalf("redelivery: %v", err)
    }
    if got := ledger.promoted[42]; got != "pi_123" {
        t.Fatalf("payment reference = %q, want pi_123", got)
    }
    if work.count() != 3 {
        t.Fatalf("enqueued %d work items, want 3", work.count())
    }
}

func TestHandleReturnsStorageErrors(t *testing.T) {
    boom := errors.New("db down")
    events := &fakeEvents{err: boom}
    rec := NewReconciler(events, &fakeLedger{}, &fakeWork{}, nil, zap.NewNop(), 5)

    if err := rec.Handle(context.Background(), succeededNotification()); !errors.Is(err, boom) {
        t.Fatalf("want storage error back, got %v", err)
    }
}

func TestHandleEnqueuesExpectedTypes(t *testing.T) {
    events := &fakeEvents{}
    ledger := &fakeLedger{}
    work := &fakeWork{}
    rec := NewReconciler(events, ledger, work, nil, zap.NewNop(), 5)

    if err := rec.Handle(context.Background(), succeededNotification()); err != nil {
        t.Fatalf("Handle: %v", err)
    }
    for _, typ := range []string{model.JobIssueInvoice, model.JobCustomerNotify, model.JobInternalNotify} {
        key := fmt.Sprintf("%d/%s", 42, typ)
        if _, ok := work.items[key]; !ok {
            t.Fatalf("missing work item type %s", typ)
        }
    }
}
