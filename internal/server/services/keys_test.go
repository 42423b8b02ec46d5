package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/keyserv/internal/common"
	"github.com/dmitrijs2005/keyserv/internal/dbx"
	"github.com/dmitrijs2005/keyserv/internal/logging"
	"github.com/dmitrijs2005/keyserv/internal/server/config"
	"github.com/dmitrijs2005/keyserv/internal/server/models"
	"github.com/dmitrijs2005/keyserv/internal/server/repositories/audit"
	"github.com/dmitrijs2005/keyserv/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/keyserv/internal/server/token"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func setupDB(t *testing.T) (*sql.DB, repomanager.RepositoryManager) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("sql.Open error: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	m := repomanager.NewSQLiteRepositoryManager()
	if err := m.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("migrations error: %v", err)
	}

	return db, m
}

func provisionActor(t *testing.T, db *sql.DB, m repomanager.RepositoryManager) *models.User {
	t.Helper()

	cfg := &config.Config{SecretKey: "test-secret", SessionValidityDuration: time.Hour}
	us, err := NewUserService(db, m, cfg, testLogger())
	if err != nil {
		t.Fatalf("NewUserService error: %v", err)
	}
	actor, err := us.Provision(context.Background(), "alice", []byte("sw0rdfish"), models.DefaultUserLevel)
	if err != nil {
		t.Fatalf("Provision error: %v", err)
	}
	return actor
}

var testOrigin = models.Origin{IP: "10.0.0.1", Machine: "laptop-01"}

func TestCutKey(t *testing.T) {
	db, m := setupDB(t)
	actor := provisionActor(t, db, m)
	ks := NewKeyService(db, m, testLogger())
	ctx := context.Background()

	key, err := ks.CutKey(ctx, 3, 1, true, "trial batch", actor, testOrigin)
	if err != nil {
		t.Fatalf("CutKey error: %v", err)
	}

	if len(key.Token) != token.Length {
		t.Errorf("token length = %d, want %d", len(key.Token), token.Length)
	}
	if key.ID == 0 {
		t.Errorf("key was not assigned an id")
	}
	if key.RemainingActivations != 3 || !key.Active || key.Memo != "trial batch" {
		t.Errorf("unexpected key: %+v", key)
	}

	entries, err := ks.KeyLog(ctx, key.Token, 10)
	if err != nil {
		t.Fatalf("KeyLog error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Event != models.EventKeyCreated || e.UserID != actor.ID {
		t.Errorf("unexpected audit entry: %+v", e)
	}
	if !strings.Contains(e.Description, "new key cut by alice") {
		t.Errorf("unexpected description: %q", e.Description)
	}
}

func TestCutKey_UniqueTokens(t *testing.T) {
	db, m := setupDB(t)
	actor := provisionActor(t, db, m)
	ks := NewKeyService(db, m, testLogger())
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		key, err := ks.CutKey(ctx, 1, 1, true, "", actor, testOrigin)
		if err != nil {
			t.Fatalf("CutKey error: %v", err)
		}
		if seen[key.Token] {
			t.Fatalf("duplicate token issued: %s", key.Token)
		}
		seen[key.Token] = true
	}
}

func TestActivateKey_Lifecycle(t *testing.T) {
	db, m := setupDB(t)
	actor := provisionActor(t, db, m)
	ks := NewKeyService(db, m, testLogger())
	ctx := context.Background()

	key, err := ks.CutKey(ctx, 1, 1, true, "", actor, testOrigin)
	if err != nil {
		t.Fatalf("CutKey error: %v", err)
	}

	// First activation binds the hardware id and spends the only slot.
	res, err := ks.ActivateKey(ctx, key.Token, "HW-ABC", 1, testOrigin)
	if err != nil {
		t.Fatalf("ActivateKey error: %v", err)
	}
	if res.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", res.Remaining)
	}

	// Same machine again: spent.
	_, err = ks.ActivateKey(ctx, key.Token, "HW-ABC", 1, testOrigin)
	if !errors.Is(err, common.ErrExhaustedActivations) {
		t.Errorf("want ErrExhaustedActivations, got %v", err)
	}

	// Different machine: bound to HW-ABC.
	_, err = ks.ActivateKey(ctx, key.Token, "HW-XYZ", 1, testOrigin)
	if !errors.Is(err, common.ErrHardwareMismatch) {
		t.Errorf("want ErrHardwareMismatch, got %v", err)
	}

	got, err := ks.GetKey(ctx, key.Token)
	if err != nil {
		t.Fatalf("GetKey error: %v", err)
	}
	if got.HWID != "HW-ABC" || got.RemainingActivations != 0 {
		t.Errorf("unexpected key state: %+v", got)
	}

	// One created, one activated, two denials. Newest first.
	entries, err := ks.KeyLog(ctx, key.Token, 10)
	if err != nil {
		t.Fatalf("KeyLog error: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("want 4 audit entries, got %d", len(entries))
	}
	wantEvents := []models.Event{
		models.EventActivationDenied,
		models.EventActivationDenied,
		models.EventKeyActivated,
		models.EventKeyCreated,
	}
	for i, want := range wantEvents {
		if entries[i].Event != want {
			t.Errorf("entry %d event = %v, want %v", i, entries[i].Event, want)
		}
	}
	if entries[0].UserID != "" {
		t.Errorf("client-driven entry must carry no operator, got %q", entries[0].UserID)
	}
}

func TestActivateKey_UnknownToken(t *testing.T) {
	db, m := setupDB(t)
	ks := NewKeyService(db, m, testLogger())

	_, err := ks.ActivateKey(context.Background(), "NOSUCHTOKEN1234567890ABCD", "HW-1", 1, testOrigin)
	if !errors.Is(err, common.ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
}

func TestActivateKey_WrongAppID(t *testing.T) {
	db, m := setupDB(t)
	actor := provisionActor(t, db, m)
	ks := NewKeyService(db, m, testLogger())
	ctx := context.Background()

	key, err := ks.CutKey(ctx, 1, 1, true, "", actor, testOrigin)
	if err != nil {
		t.Fatalf("CutKey error: %v", err)
	}

	// Indistinguishable from an unknown token, but still audited.
	_, err = ks.ActivateKey(ctx, key.Token, "HW-1", 99, testOrigin)
	if !errors.Is(err, common.ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}

	entries, err := ks.KeyLog(ctx, key.Token, 10)
	if err != nil {
		t.Fatalf("KeyLog error: %v", err)
	}
	if len(entries) != 2 || entries[0].Event != models.EventActivationDenied {
		t.Fatalf("expected a denial entry, got %+v", entries)
	}

	got, _ := ks.GetKey(ctx, key.Token)
	if got.RemainingActivations != 1 {
		t.Errorf("denial must not spend an activation, remaining = %d", got.RemainingActivations)
	}
}

func TestActivateKey_InactiveKey(t *testing.T) {
	db, m := setupDB(t)
	actor := provisionActor(t, db, m)
	ks := NewKeyService(db, m, testLogger())
	ctx := context.Background()

	key, err := ks.CutKey(ctx, 5, 1, false, "", actor, testOrigin)
	if err != nil {
		t.Fatalf("CutKey error: %v", err)
	}

	_, err = ks.ActivateKey(ctx, key.Token, "HW-1", 1, testOrigin)
	if !errors.Is(err, common.ErrKeyInactive) {
		t.Fatalf("want ErrKeyInactive, got %v", err)
	}
}

func TestActivateKey_Unlimited(t *testing.T) {
	db, m := setupDB(t)
	actor := provisionActor(t, db, m)
	ks := NewKeyService(db, m, testLogger())
	ctx := context.Background()

	key, err := ks.CutKey(ctx, models.UnlimitedActivations, 1, true, "site license", actor, testOrigin)
	if err != nil {
		t.Fatalf("CutKey error: %v", err)
	}

	for i := 0; i < 3; i++ {
		res, err := ks.ActivateKey(ctx, key.Token, "HW-1", 1, testOrigin)
		if err != nil {
			t.Fatalf("ActivateKey #%d error: %v", i, err)
		}
		if res.Remaining != models.UnlimitedActivations {
			t.Errorf("remaining = %d, want unlimited", res.Remaining)
		}
	}

	// Unlimited keys still bind the first hardware id.
	_, err = ks.ActivateKey(ctx, key.Token, "HW-2", 1, testOrigin)
	if !errors.Is(err, common.ErrHardwareMismatch) {
		t.Errorf("want ErrHardwareMismatch, got %v", err)
	}

	got, err := ks.GetKey(ctx, key.Token)
	if err != nil {
		t.Fatalf("GetKey error: %v", err)
	}
	if !got.Unlimited() {
		t.Errorf("key should report unlimited accounting: %+v", got)
	}
}

func TestSetKeyActive(t *testing.T) {
	db, m := setupDB(t)
	actor := provisionActor(t, db, m)
	ks := NewKeyService(db, m, testLogger())
	ctx := context.Background()

	key, err := ks.CutKey(ctx, 1, 1, true, "", actor, testOrigin)
	if err != nil {
		t.Fatalf("CutKey error: %v", err)
	}

	got, err := ks.SetKeyActive(ctx, key.Token, false, actor, testOrigin)
	if err != nil {
		t.Fatalf("SetKeyActive error: %v", err)
	}
	if got.Active {
		t.Errorf("key should be inactive")
	}

	got, err = ks.SetKeyActive(ctx, key.Token, true, actor, testOrigin)
	if err != nil {
		t.Fatalf("SetKeyActive error: %v", err)
	}
	if !got.Active {
		t.Errorf("key should be active again")
	}

	// Setting the current value is audited as a plain modification.
	if _, err := ks.SetKeyActive(ctx, key.Token, true, actor, testOrigin); err != nil {
		t.Fatalf("SetKeyActive error: %v", err)
	}

	entries, err := ks.KeyLog(ctx, key.Token, 10)
	if err != nil {
		t.Fatalf("KeyLog error: %v", err)
	}
	wantEvents := []models.Event{
		models.EventKeyModified,
		models.EventKeyReactivated,
		models.EventKeyDeactivated,
		models.EventKeyCreated,
	}
	if len(entries) != len(wantEvents) {
		t.Fatalf("want %d audit entries, got %d", len(wantEvents), len(entries))
	}
	for i, want := range wantEvents {
		if entries[i].Event != want {
			t.Errorf("entry %d event = %v, want %v", i, entries[i].Event, want)
		}
	}
}

func TestSetKeyActive_UnknownToken(t *testing.T) {
	db, m := setupDB(t)
	actor := provisionActor(t, db, m)
	ks := NewKeyService(db, m, testLogger())

	_, err := ks.SetKeyActive(context.Background(), "NOSUCHTOKEN1234567890ABCD", false, actor, testOrigin)
	if !errors.Is(err, common.ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
}

func TestKeyLog_InactiveKeyStillResolvable(t *testing.T) {
	db, m := setupDB(t)
	actor := provisionActor(t, db, m)
	ks := NewKeyService(db, m, testLogger())
	ctx := context.Background()

	key, err := ks.CutKey(ctx, 1, 1, true, "", actor, testOrigin)
	if err != nil {
		t.Fatalf("CutKey error: %v", err)
	}
	if _, err := ks.SetKeyActive(ctx, key.Token, false, actor, testOrigin); err != nil {
		t.Fatalf("SetKeyActive error: %v", err)
	}

	if _, err := ks.GetKey(ctx, key.Token); err != nil {
		t.Errorf("GetKey on inactive key: %v", err)
	}
	entries, err := ks.KeyLog(ctx, key.Token, 10)
	if err != nil {
		t.Fatalf("KeyLog error: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("want 2 entries, got %d", len(entries))
	}
}

func TestKeyLog_Limit(t *testing.T) {
	db, m := setupDB(t)
	actor := provisionActor(t, db, m)
	ks := NewKeyService(db, m, testLogger())
	ctx := context.Background()

	key, err := ks.CutKey(ctx, models.UnlimitedActivations, 1, true, "", actor, testOrigin)
	if err != nil {
		t.Fatalf("CutKey error: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := ks.ActivateKey(ctx, key.Token, "HW-1", 1, testOrigin); err != nil {
			t.Fatalf("ActivateKey error: %v", err)
		}
	}

	entries, err := ks.KeyLog(ctx, key.Token, 3)
	if err != nil {
		t.Fatalf("KeyLog error: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("want 3 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Event != models.EventKeyActivated {
			t.Errorf("newest entries should be activations, got %v", e.Event)
		}
	}
}

func TestGetKey_UnknownToken(t *testing.T) {
	db, m := setupDB(t)
	ks := NewKeyService(db, m, testLogger())

	_, err := ks.GetKey(context.Background(), "NOSUCHTOKEN1234567890ABCD")
	if !errors.Is(err, common.ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
}

func TestActivateKey_ConcurrentLastSlot(t *testing.T) {
	// Multiple connections, so activations genuinely race on the store.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("sql.Open error: %v", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	t.Cleanup(func() { _ = db.Close() })

	m := repomanager.NewSQLiteRepositoryManager()
	if err := m.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("migrations error: %v", err)
	}

	actor := provisionActor(t, db, m)
	ks := NewKeyService(db, m, testLogger())
	ctx := context.Background()

	key, err := ks.CutKey(ctx, 1, 1, true, "", actor, testOrigin)
	if err != nil {
		t.Fatalf("CutKey error: %v", err)
	}

	const clients = 8
	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ks.ActivateKey(ctx, key.Token, "HW-1", 1, testOrigin); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("want exactly 1 successful activation, got %d of %d", got, clients)
	}

	got, err := ks.GetKey(ctx, key.Token)
	if err != nil {
		t.Fatalf("GetKey error: %v", err)
	}
	if got.RemainingActivations != 0 {
		t.Fatalf("remaining = %d, want 0", got.RemainingActivations)
	}
}

func TestActivateKey_LostRaceClassifiedExhausted(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	ks := NewKeyService(db, repomanager.NewSQLiteRepositoryManager(), testLogger())

	cut := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "token", "remaining_activations", "app_id", "active", "hwid", "memo", "cut_date"}

	// The first read sees one slot left, but the guarded decrement matches no
	// row: a concurrent activation spent the slot in between. The re-read
	// classifies the denial from the key's current state.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT\s+id,\s*token`).
		WithArgs("SOMETOKEN").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(7), "SOMETOKEN", 1, int64(1), true, "", "", cut))
	mock.ExpectQuery(`(?s)^UPDATE\s+keys\s+SET\s+remaining_activations`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT\s+id,\s*token`).
		WithArgs("SOMETOKEN").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(7), "SOMETOKEN", 0, int64(1), true, "HW-1", "", cut))
	mock.ExpectQuery(`INSERT\s+INTO\s+audit_log`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	_, err = ks.ActivateKey(context.Background(), "SOMETOKEN", "HW-1", 1, testOrigin)
	if !errors.Is(err, common.ErrExhaustedActivations) {
		t.Fatalf("want ErrExhaustedActivations, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

type failingAuditRepo struct{}

func (failingAuditRepo) Append(ctx context.Context, entry *models.AuditLogEntry) (*models.AuditLogEntry, error) {
	return nil, errors.New("disk full")
}

func (failingAuditRepo) ListByKey(ctx context.Context, keyID int64, limit int) ([]*models.AuditLogEntry, error) {
	return nil, errors.New("disk full")
}

type faultyAuditManager struct {
	repomanager.RepositoryManager
}

func (m faultyAuditManager) Audit(db dbx.DBTX) audit.Repository {
	return failingAuditRepo{}
}

func TestActivateKey_AuditFaultRollsBack(t *testing.T) {
	db, m := setupDB(t)
	actor := provisionActor(t, db, m)
	ks := NewKeyService(db, m, testLogger())
	ctx := context.Background()

	key, err := ks.CutKey(ctx, 1, 1, true, "", actor, testOrigin)
	if err != nil {
		t.Fatalf("CutKey error: %v", err)
	}

	faulty := NewKeyService(db, faultyAuditManager{m}, testLogger())

	if _, err := faulty.ActivateKey(ctx, key.Token, "HW-1", 1, testOrigin); err == nil {
		t.Fatalf("expected activation to fail when the audit append fails")
	}

	got, err := ks.GetKey(ctx, key.Token)
	if err != nil {
		t.Fatalf("GetKey error: %v", err)
	}
	if got.RemainingActivations != 1 || got.HWID != "" {
		t.Errorf("consume must roll back with the failed audit append: %+v", got)
	}

	entries, err := ks.KeyLog(ctx, key.Token, 10)
	if err != nil {
		t.Fatalf("KeyLog error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("failed call must add no audit entries, got %d", len(entries))
	}

	if _, err := faulty.SetKeyActive(ctx, key.Token, false, actor, testOrigin); err == nil {
		t.Fatalf("expected set-active to fail when the audit append fails")
	}
	got, err = ks.GetKey(ctx, key.Token)
	if err != nil {
		t.Fatalf("GetKey error: %v", err)
	}
	if !got.Active {
		t.Errorf("deactivation must roll back with the failed audit append")
	}
}
