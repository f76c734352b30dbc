// Package ledger records every submitted bridge transfer and the outcome the
// tracker reached for it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"settler/bridge"
	"settler/invoice"
	"settler/tracker"
)

var (
	ErrNotFound  = errors.New("ledger: transfer not found")
	ErrDuplicate = errors.New("ledger: transfer already recorded")
)

// Store wraps the gorm handle.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open picks postgres for postgres:// URLs and key=value DSNs, sqlite for
// everything else (a file path or "file::memory:").
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("ledger: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	return New(db)
}

// New migrates db and wraps it.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: db required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordDeposit stores a completed ExecuteFullDeposit.
func (s *Store) RecordDeposit(ctx context.Context, sender, recipient string, amount *big.Int, result bridge.DepositResult) (Transfer, error) {
	row := Transfer{
		Kind:            KindDeposit,
		Direction:       string(invoice.EthToStx),
		SourceTx:        result.DepositTx.Hex(),
		Sender:          sender,
		Recipient:       recipient,
		HookData:        string(result.HookData),
		AmountBaseUnits: amount.String(),
	}
	if result.ApproveTx != nil {
		row.ApprovalTx = result.ApproveTx.Hex()
	}
	return s.Record(ctx, row)
}

// RecordBurn stores a broadcast or wallet-submitted burn.
func (s *Store) RecordBurn(ctx context.Context, req bridge.BurnRequest, txID string) (Transfer, error) {
	return s.Record(ctx, Transfer{
		Kind:            KindBurn,
		Direction:       string(invoice.StxToEth),
		SourceTx:        txID,
		Sender:          req.Sender,
		Recipient:       req.EthRecipient,
		AmountBaseUnits: req.Amount.String(),
	})
}

// Record inserts row as pending. A second row for the same source tx is
// ErrDuplicate.
func (s *Store) Record(ctx context.Context, row Transfer) (Transfer, error) {
	if strings.TrimSpace(row.SourceTx) == "" {
		return Transfer{}, fmt.Errorf("ledger: source tx required")
	}
	if row.Status == "" {
		row.Status = string(tracker.StatusPending)
	}
	if row.SubmittedAt.IsZero() {
		row.SubmittedAt = s.now().UTC()
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return Transfer{}, fmt.Errorf("ledger: record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Transfer{}, ErrDuplicate
	}
	return row, nil
}

// AttachInvoice links a recorded transfer to the invoice token it paid.
func (s *Store) AttachInvoice(ctx context.Context, sourceTx, token string) error {
	res := s.db.WithContext(ctx).Model(&Transfer{}).Where("source_tx = ?", sourceTx).Update("invoice_token", token)
	if res.Error != nil {
		return fmt.Errorf("ledger: attach invoice: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the row for a source transaction.
func (s *Store) Get(ctx context.Context, sourceTx string) (Transfer, error) {
	var row Transfer
	err := s.db.WithContext(ctx).Where("source_tx = ?", sourceTx).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Transfer{}, ErrNotFound
	}
	if err != nil {
		return Transfer{}, fmt.Errorf("ledger: get: %w", err)
	}
	return row, nil
}

// Observe copies a tracker snapshot onto the matching row. Unknown source
// transactions are ignored so sessions started from a bare link still work.
func (s *Store) Observe(ctx context.Context, sourceTx string, state tracker.State) error {
	updates := map[string]any{
		"status":         string(state.Status),
		"destination_tx": state.DestinationTxID,
		"matched_by":     string(state.MatchedBy),
		"error":          truncate(state.Error, 256),
	}
	if state.Status.Terminal() {
		settled := state.LastChecked.UTC()
		if settled.IsZero() {
			settled = s.now().UTC()
		}
		updates["settled_at"] = settled
	}
	err := s.db.WithContext(ctx).Model(&Transfer{}).Where("source_tx = ?", sourceTx).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("ledger: observe: %w", err)
	}
	return nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Kind      Kind
	Status    string
	Recipient string
	Since     time.Time
	Limit     int
	Offset    int
}

// MaxListLimit bounds a single List page.
const MaxListLimit = 500

// List returns transfers newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Transfer, error) {
	query := s.db.WithContext(ctx).Model(&Transfer{})
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Recipient != "" {
		query = query.Where("recipient = ?", filter.Recipient)
	}
	if !filter.Since.IsZero() {
		query = query.Where("submitted_at >= ?", filter.Since.UTC())
	}
	limit := filter.Limit
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	var rows []Transfer
	err := query.Order("submitted_at DESC").Limit(limit).Offset(filter.Offset).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	return rows, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
