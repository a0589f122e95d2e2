package repository

import (
    "context"
    "errors"
    "testing"

    "github.com/DATA-DOG/go-sqlmock"
    "github.com/go-sql-driver/mysql"
)

func TestPaymentEventInsertFirstDeliveryWins(t *testing.T) {
    db, mock, err := sqlmock.New()
    if err != nil {
        t.Fatalf("sqlmock init error: %v", err)
    }
    defer db.Close()
    repo := NewPaymentEventRepo(db)

    mock.ExpectExec("INSERT INTO payment_events").
        WithArgs("evt_1").
        WillReturnResult(sqlmock.NewResult(1, 1))

    fresh, err := repo.Insert(context.Background(), "evt_1")
    if err != nil || !fresh {
        t.Fatalf("first insert = (%v, %v), want (true, nil)", fresh, err)
    }
}

func TestPaymentEventInsertRedeliveryIsDuplicate(t *testing.T) {
    db, mock, err := sqlmock.New()
    if err != nil {
        t.Fatalf("sqlmock init error: %v", err)
    }
    defer db.Close()
    repo := NewPaymentEventRepo(db)

    mock.ExpectExec("INSERT INTO payment_events").
        WithArgs("evt_1").
        WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

    fresh, err := repo.Insert(context.Background(), "evt_1")
    if err != nil {
        t.Fatalf("duplicate must not surface as an error, got %v", err)
    }
    if fresh {
        t.Fatalf("redelivery reported as fresh")
    }
}

func TestPaymentEventInsertOtherErrorsSurface(t *testing.T) {
    db, mock, err := sqlmock.New()
    if err != nil {
        t.Fatalf("sqlmock init error: %v", err)
    }
    defer db.Close()
    repo := NewPaymentEventRepo(db)

    boom := errors.New("connection reset")
    mock.ExpectExec("INSERT INTO payment_events").WillReturnError(boom)

    if _, err := repo.Insert(context.Background(), "evt_1"); !errors.Is(err, boom) {
        t.Fatalf("want the driver error back, got %v", err)
    }
}
