package repository

import (
    "context"
    "testing"

    "github.com/DATA-DOG/go-sqlmock"
    "github.com/go-sql-driver/mysql"
)

func TestCreateIfAbsentInsertsNewItem(t *testing.T) {
    db, mock, err := sqlmock.New()
    if err != nil {
        t.Fatalf("sqlmock init error: %v", err)
    }
    defer db.Close()
    repo := NewWorkItemRepo(db)

    mock.ExpectExec("INSERT INTO work_items").
        WithArgs(int64(7), "issue-invoice", 5, []byte(`{}`)).
        WillReturnResult(sqlmock.NewResult(1, 1))

    created, err := repo.CreateIfAbsent(context.Background(), 7, "issue-invoice", []byte(`{}`), 5)
    if err != nil {
        t.Fatalf("expected no error, got %v", err)
    }
    if !created {
        t.Fatalf("expected created=true for a fresh item")
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatalf("unmet expectations: %v", err)
    }
}

func TestCreateIfAbsentDuplicateIsNoOp(t *testing.T) {
    db, mock, err := sqlmock.New()
    if err != nil {
        t.Fatalf("sqlmock init error: %v", err)
    }
    defer db.Close()
    repo := NewWorkItemRepo(db)

    mock.ExpectExec("INSERT INTO work_items").
        WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

    created, err := repo.CreateIfAbsent(context.Background(), 7, "issue-invoice", []byte(`{}`), 5)
    if err != nil {
        t.Fatalf("duplicate key must not surface as an error, got %v", err)
    }
    if created {
        t.Fatalf("expected created=false for a duplicate")
    }
}

func TestTryClaimReportsRaceLoss(t *testing.T) {
    db, mock, err := sqlmock.New()
    if err != nil {
        t.Fatalf("sqlmock init error: %v", err)
    }
    defer db.Close()
    repo := NewWorkItemRepo(db)

    mock.ExpectExec("UPDATE work_items SET status = 'claimed'").
        WithArgs(int64(3)).
        WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectExec("UPDATE work_items SET status = 'claimed'").
        WithArgs(int64(3)).
        WillReturnResult(sqlmock.NewResult(0, 0))

    won, err := repo.TryClaim(context.Background(), 3)
    if err != nil || !won {
        t.Fatalf("first claim = (%v, %v), want (true, nil)", won, err)
    }
    won, err = repo.TryClaim(context.Background(), 3)
    if err != nil || won {
        t.Fatalf("second claim = (%v, %v), want (false, nil)", won, err)
    }
}

func TestRecordFailureRoutesInsideTheStatement(t *testing.T) {
    db, mock, err := sqlmock.New()
    if err != nil {
        t.Fatalf("sqlmock init error: %v", err)
    }
    defer db.Close()
    repo := NewWorkItemRepo(db)

    // The pending-vs-failed decision must live in the UPDATE itself,
    // comparing the row's own counters, so the worker's snapshot of the
    // attempt count never matters.
    mock.ExpectExec(`SET status = IF\(attempts \+ 1 >= max_attempts, 'failed', 'pending'\)`).
        WithArgs("vendor 503", int64(3)).
        WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectQuery("SELECT status FROM work_items").
        WithArgs(int64(3)).
        WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))

    status, err := repo.RecordFailure(context.Background(), 3, "vendor 503")
    if err != nil {
        t.Fatalf("RecordFailure: %v", err)
    }
    if status != "pending" {
        t.Fatalf("status = %q, want pending while budget remains", status)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Fatalf("unmet expectations: %v", err)
    }
}

func TestRecordFailureReportsExhaustedBudget(t *testing.T) {
    db, mock, err := sqlmock.New()
    if err != nil {
        t.Fatalf("sqlmock init error: %v", err)
    }
    defer db.Close()
    repo := NewWorkItemRepo(db)

    mock.ExpectExec(`SET status = IF\(attempts \+ 1 >= max_attempts, 'failed', 'pending'\)`).
        WithArgs("smtp down", int64(9)).
        WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectQuery("SELECT status FROM work_items").
        WithArgs(int64(9)).
        WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))

    status, err := repo.RecordFailure(context.Background(), 9, "smtp down")
    if err != nil {
        t.Fatalf("RecordFailure: %v", err)
    }
    if status != "failed" {
        t.Fatalf("status = %q, want failed on the last attempt", status)
    }
}
