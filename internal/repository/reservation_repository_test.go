package repository

import (
    "context"
    "database/sql"
    "errors"
    "testing"
    "time"

    "github.com/DATA-DOG/go-sqlmock"

    "github.com/rentalworks/machine-booking/internal/model"
)

func newMockRepo(t *testing.T) (*ReservationRepo, sqlmock.Sqlmock, func()) {
    t.Helper()
    db, mock, err := sqlmock.New()
    if err != nil {
        t.Fatalf("sqlmock init error: %v", err)
    }
    return NewReservationRepo(db), mock, func() { _ = db.Close() }
}

func testNewReservation() NewReservation {
    return NewReservation{
        Reference:     "ref-1",
        MachineID:     1,
        StartDate:     time.Date(2026, time.September, 10, 0, 0, 0, 0, time.UTC),
        EndDate:       time.Date(2026, time.September, 12, 0, 0, 0, 0, time.UTC),
        HoldExpiresAt: time.Date(2026, time.September, 1, 10, 30, 0, 0, time.UTC),
        CustomerName:  "Ada",
        CustomerEmail: "ada@example.com",
        SubtotalCents: 62200,
        DiscountPct:   10,
        TotalCents:    55980,
        Lines: []model.ReservationLineItem{
            {ItemKey: "machine-rental", Name: "Mini excavator", UnitCents: 17910, Quantity: 3, ChargeModel: model.ChargePerUnit, TimeUnit: model.TimeUnitDay, Primary: true},
        },
    }
}

func reservationRows() *sqlmock.Rows {
    now := time.Date(2026, time.September, 1, 10, 0, 0, 0, time.UTC)
    return sqlmock.NewRows([]string{
        "id", "reference", "machine_id", "start_date", "end_date", "status", "hold_expires_at",
        "customer_name", "customer_email", "customer_phone", "company_tax_id",
        "subtotal_cents", "discount_pct", "total_cents", "external_payment_id", "created_at", "updated_at",
    }).AddRow(
        9, "ref-1", 1, now, now.AddDate(0, 0, 2), "PENDING", now.Add(30*time.Minute),
        "Ada", "ada@example.com", nil, nil,
        62200, 10, 55980, nil, now, now,
    )
}

func TestCreateOrReusePendingRejectsOverlapBeforeInsert(t *testing.T) {
    repo, mock, done := newMockRepo(t)
    defer done()

    mock.ExpectBegin()
    mock.ExpectExec("UPDATE reservations SET status = 'CANCELLED'").
        WillReturnResult(sqlmock.NewResult(0, 0))
    mock.ExpectQuery("SELECT id FROM reservations").
        WillReturnError(sql.ErrNoRows)
    mock.ExpectQuery("SELECT COUNT").
        WithArgs(int64(1), "2026-09-12", "2026-09-10").
        WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
    mock.ExpectRollback()

    _, _, err := repo.CreateOrReusePending(context.Background(), testNewReservation())
    if !errors.Is(err, ErrOverlap) {
        t.Fatalf("want ErrOverlap, got %v", err)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatalf("unmet expectations: %v", err)
    }
}

func TestCreateOrReusePendingRecountIsFinalArbiter(t *testing.T) {
    repo, mock, done := newMockRepo(t)
    defer done()

    // Pre-check sees a free range, but by the time our row is in a
    // concurrent writer's row is visible: the recount must roll back.
    mock.ExpectBegin()
    mock.ExpectExec("UPDATE reservations SET status = 'CANCELLED'").
        WillReturnResult(sqlmock.NewResult(0, 0))
    mock.ExpectQuery("SELECT id FROM reservations").
        WillReturnError(sql.ErrNoRows)
    mock.ExpectQuery("SELECT COUNT").
        WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
    mock.ExpectExec("INSERT INTO reservations").
        WillReturnResult(sqlmock.NewResult(9, 1))
    mock.ExpectQuery("SELECT COUNT").
        WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
    mock.ExpectRollback()

    _, _, err := repo.CreateOrReusePending(context.Background(), testNewReservation())
    if !errors.Is(err, ErrOverlap) {
        t.Fatalf("want ErrOverlap from recount, got %v", err)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatalf("unmet expectations: %v", err)
    }
}

func TestCreateOrReusePendingExtendsIdenticalHold(t *testing.T) {
    repo, mock, done := newMockRepo(t)
    defer done()

    mock.ExpectBegin()
    mock.ExpectExec("UPDATE reservations SET status = 'CANCELLED'").
        WillReturnResult(sqlmock.NewResult(0, 0))
    mock.ExpectQuery("SELECT id FROM reservations").
        WithArgs(int64(1), "2026-09-10", "2026-09-12", "ada@example.com").
        WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
    mock.ExpectExec("SET hold_expires_at = GREATEST").
        WithArgs("2026-09-01 10:30:00", int64(9)).
        WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectQuery("FROM reservations WHERE id = ").
        WillReturnRows(reservationRows())
    mock.ExpectCommit()

    res, reused, err := repo.CreateOrReusePending(context.Background(), testNewReservation())
    if err != nil {
        t.Fatalf("CreateOrReusePending: %v", err)
    }
    if !reused {
        t.Fatalf("identical hold was not reused")
    }
    if res.ID != 9 {
        t.Fatalf("reused id = %d, want 9", res.ID)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatalf("unmet expectations: %v", err)
    }
}

func TestCreateOrReusePendingInsertsFreshHold(t *testing.T) {
    repo, mock, done := newMockRepo(t)
    defer done()

    mock.ExpectBegin()
    mock.ExpectExec("UPDATE reservations SET status = 'CANCELLED'").
        WillReturnResult(sqlmock.NewResult(0, 0))
    mock.ExpectQuery("SELECT id FROM reservations").
        WillReturnError(sql.ErrNoRows)
    mock.ExpectQuery("SELECT COUNT").
        WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
    mock.ExpectExec("INSERT INTO reservations").
        WillReturnResult(sqlmock.NewResult(9, 1))
    mock.ExpectQuery("SELECT COUNT").
        WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
    mock.ExpectExec("INSERT INTO reservation_line_items").
        WillReturnResult(sqlmock.NewResult(1, 1))
    mock.ExpectQuery("FROM reservations WHERE id = ").
        WillReturnRows(reservationRows())
    mock.ExpectCommit()

    res, reused, err := repo.CreateOrReusePending(context.Background(), testNewReservation())
    if err != nil {
        t.Fatalf("CreateOrReusePending: %v", err)
    }
    if reused {
        t.Fatalf("fresh hold reported as reused")
    }
    if res.Status != model.ReservationPending {
        t.Fatalf("status = %q, want PENDING", res.Status)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatalf("unmet expectations: %v", err)
    }
}

func TestTryPromoteIsConditional(t *testing.T) {
    repo, mock, done := newMockRepo(t)
    defer done()

    mock.ExpectExec("SET status = 'CONFIRMED'").
        WithArgs("pi_1", int64(9)).
        WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectExec("SET status = 'CONFIRMED'").
        WithArgs("pi_2", int64(9)).
        WillReturnResult(sqlmock.NewResult(0, 0))

    won, err := repo.TryPromote(context.Background(), 9, "pi_1")
    if err != nil || !won {
        t.Fatalf("first promote = (%v, %v), want (true, nil)", won, err)
    }
    won, err = repo.TryPromote(context.Background(), 9, "pi_2")
    if err != nil || won {
        t.Fatalf("second promote = (%v, %v), want (false, nil)", won, err)
    }
}

func TestTryCancelLosesToPromotion(t *testing.T) {
    repo, mock, done := newMockRepo(t)
    defer done()

    mock.ExpectExec("SET status = 'CANCELLED'").
        WithArgs(int64(9)).
        WillReturnResult(sqlmock.NewResult(0, 0))

    won, err := repo.TryCancel(context.Background(), 9)
    if err != nil || won {
        t.Fatalf("cancel after promotion = (%v, %v), want (false, nil)", won, err)
    }
}

func TestListDuePendingReturnsIDs(t *testing.T) {
    repo, mock, done := newMockRepo(t)
    defer done()

    mock.ExpectQuery("WHERE status = 'PENDING' AND hold_expires_at").
        WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(5))

    ids, err := repo.ListDuePending(context.Background(), time.Now(), 100)
    if err != nil {
        t.Fatalf("ListDuePending: %v", err)
    }
    if len(ids) != 2 || ids[0] != 3 || ids[1] != 5 {
        t.Fatalf("ids = %v, want [3 5]", ids)
    }
}
