// Package accounts is the custody balance store: every unit in an account
// balance is held by the ledger on behalf of an address. Settlement payouts
// run through this service as transaction-scoped credit/debit legs.
package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prjktcode/poly-grid-ai/internal/events"
	"github.com/prjktcode/poly-grid-ai/pkg/errors"
	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

// Service implements custody account operations
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	events events.Recorder
}

// NewService creates a new accounts service
func NewService(db *gorm.DB, logger *zap.Logger, recorder events.Recorder) *Service {
	return &Service{db: db, logger: logger, events: recorder}
}

// Get returns the account for an address
func (s *Service) Get(ctx context.Context, address string) (*models.Account, error) {
	addr, ok := models.NormalizeAddress(address)
	if !ok {
		return nil, errors.ErrInvalidAddress.Explain("malformed address %q", address)
	}
	var account models.Account
	if err := s.db.WithContext(ctx).Where("address = ?", addr).First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrAccountNotFound.Explain("no account for %s", addr)
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &account, nil
}

// GetOrCreate returns the account for an address, creating a zero-balance one
// if none exists yet
func (s *Service) GetOrCreate(ctx context.Context, address string) (*models.Account, error) {
	addr, ok := models.NormalizeAddress(address)
	if !ok {
		return nil, errors.ErrInvalidAddress.Explain("malformed address %q", address)
	}
	account, err := s.Get(ctx, addr)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, errors.NotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	account = &models.Account{
		Address:   addr,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// Deposit credits an operator-driven custody movement onto an account
func (s *Service) Deposit(ctx context.Context, address string, amount decimal.Decimal) (*models.Account, error) {
	return s.move(ctx, address, amount, models.EventAccountDeposited)
}

// Withdraw debits an operator-driven custody movement from an account
func (s *Service) Withdraw(ctx context.Context, address string, amount decimal.Decimal) (*models.Account, error) {
	return s.move(ctx, address, amount, models.EventAccountWithdrawn)
}

func (s *Service) move(ctx context.Context, address string, amount decimal.Decimal, eventType models.EventType) (*models.Account, error) {
	addr, ok := models.NormalizeAddress(address)
	if !ok {
		return nil, errors.ErrInvalidAddress.Explain("malformed address %q", address)
	}
	if !amount.IsInteger() || !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount.Explain("amount must be a positive integer number of base units, got %s", amount)
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var account *models.Account
	var err error
	if eventType == models.EventAccountDeposited {
		account, err = s.creditTx(ctx, tx, addr, amount)
	} else {
		account, err = s.debitTx(ctx, tx, addr, amount)
	}
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	payload := events.AccountMovementPayload{
		Address:   addr,
		Amount:    amount,
		Balance:   account.Balance,
		Timestamp: account.UpdatedAt,
	}
	if _, err := s.events.RecordTx(ctx, tx, eventType, nil, addr, payload); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return account, nil
}

// DebitTx removes funds from an account inside the caller's transaction.
// Fails on a missing, frozen, or underfunded account.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, address string, amount decimal.Decimal) error {
	_, err := s.debitTx(ctx, tx, address, amount)
	return err
}

func (s *Service) debitTx(ctx context.Context, tx *gorm.DB, address string, amount decimal.Decimal) (*models.Account, error) {
	var account models.Account
	if err := tx.WithContext(ctx).Where("address = ?", address).First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrInsufficientFunds.Explain("no custody account for %s", address)
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account.Frozen {
		return nil, errors.ErrAccountFrozen.Explain("account %s is frozen", address)
	}
	if account.Balance.LessThan(amount) {
		return nil, errors.ErrInsufficientFunds.Explain("balance %s < %s", account.Balance, amount)
	}

	account.Balance = account.Balance.Sub(amount)
	account.UpdatedAt = time.Now().UTC()
	if err := tx.WithContext(ctx).Save(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to debit account: %w", err)
	}
	return &account, nil
}

// CreditTx adds funds to an account inside the caller's transaction.
// Crediting an address with no account creates one; crediting a frozen
// account fails, which aborts the surrounding settlement.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, address string, amount decimal.Decimal) error {
	_, err := s.creditTx(ctx, tx, address, amount)
	return err
}

func (s *Service) creditTx(ctx context.Context, tx *gorm.DB, address string, amount decimal.Decimal) (*models.Account, error) {
	var account models.Account
	err := tx.WithContext(ctx).Where("address = ?", address).First(&account).Error
	if err == gorm.ErrRecordNotFound {
		now := time.Now().UTC()
		account = models.Account{
			Address:   address,
			Balance:   amount,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&account).Error; err != nil {
			return nil, fmt.Errorf("failed to create account: %w", err)
		}
		return &account, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account.Frozen {
		return nil, errors.ErrAccountFrozen.Explain("account %s is frozen", address)
	}

	account.Balance = account.Balance.Add(amount)
	account.UpdatedAt = time.Now().UTC()
	if err := tx.WithContext(ctx).Save(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to credit account: %w", err)
	}
	return &account, nil
}

// Debit satisfies the funding side of the ledger's TransferSink. It runs
// inside the settlement transaction; failure aborts the whole purchase.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, from string, amount decimal.Decimal, memo string) error {
	if err := s.DebitTx(ctx, tx, from, amount); err != nil {
		return err
	}
	s.logger.Debug("custody debit",
		zap.String("from", from),
		zap.String("amount", amount.String()),
		zap.String("memo", memo))
	return nil
}

// Transfer satisfies the ledger's TransferSink. It runs inside the settlement
// transaction; any error here rolls the whole purchase back.
func (s *Service) Transfer(ctx context.Context, tx *gorm.DB, to string, amount decimal.Decimal, memo string) error {
	if err := s.CreditTx(ctx, tx, to, amount); err != nil {
		return err
	}
	s.logger.Debug("custody transfer",
		zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.String("memo", memo))
	return nil
}

// Freeze places a compliance hold on an account. A frozen account can neither
// fund purchases nor receive payouts.
func (s *Service) Freeze(ctx context.Context, admin, address string) error {
	return s.setFrozen(ctx, admin, address, true)
}

// Unfreeze lifts a compliance hold
func (s *Service) Unfreeze(ctx context.Context, admin, address string) error {
	return s.setFrozen(ctx, admin, address, false)
}

func (s *Service) setFrozen(ctx context.Context, admin, address string, frozen bool) error {
	addr, ok := models.NormalizeAddress(address)
	if !ok {
		return errors.ErrInvalidAddress.Explain("malformed address %q", address)
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var account models.Account
	if err := tx.Where("address = ?", addr).First(&account).Error; err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return errors.ErrAccountNotFound.Explain("no account for %s", addr)
		}
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account.Frozen == frozen {
		tx.Rollback()
		if frozen {
			return errors.StateConflict.Explain("account %s already frozen", addr)
		}
		return errors.StateConflict.Explain("account %s not frozen", addr)
	}

	now := time.Now().UTC()
	account.Frozen = frozen
	account.UpdatedAt = now
	if err := tx.Save(&account).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update account: %w", err)
	}

	eventType := models.EventAccountFrozen
	if !frozen {
		eventType = models.EventAccountUnfrozen
	}
	payload := events.AccountFreezePayload{Address: addr, Admin: admin, Timestamp: now}
	if _, err := s.events.RecordTx(ctx, tx, eventType, nil, admin, payload); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.logger.Info("account freeze state changed",
		zap.String("address", addr),
		zap.Bool("frozen", frozen),
		zap.String("admin", admin))
	return nil
}
