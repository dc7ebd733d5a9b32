// Package ledger is the append-only bonus accounting layer. Every
// balance change inserts a transaction row and updates the matching
// account balance in the same unit of work, under a per-account row
// lock. Transactions are never edited or deleted.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Account is a per-(group, user, bonus-type) balance.
type Account struct {
	ID          string          `json:"id"`
	GroupID     string          `json:"group_id"`
	UserID      string          `json:"user_id"`
	BonusTypeID *string         `json:"-"`
	Balance     decimal.Decimal `json:"balance"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Transaction is one signed, append-only ledger entry.
type Transaction struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"account_id"`
	Amount           decimal.Decimal `json:"amount"`
	TypeID           string          `json:"-"`
	TypeCode         string          `json:"type"`
	SourceEntityType *string         `json:"source_entity_type,omitempty"`
	SourceEntityID   *string         `json:"source_entity_id,omitempty"`
	Description      *string         `json:"description,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ApplyInput describes one balance-changing operation.
type ApplyInput struct {
	GroupID     string
	UserID      string
	BonusTypeID *string
	Amount      decimal.Decimal // signed
	TypeCode    string
	SourceType  string
	SourceID    string
	Description string
	// MaxDebt, when non-nil, caps how negative the balance may go.
	MaxDebt *decimal.Decimal
	// ClampToDebt turns a would-be cap violation into a partial debit of
	// whatever headroom remains (penalty semantics). Without it the
	// operation fails with insufficient_funds.
	ClampToDebt bool
}

// Apply executes one balance change inside the caller's unit of work.
// The account row is locked first so transactions and balance updates
// are linearized per account. Returns the recorded transaction; with
// ClampToDebt the recorded amount may be smaller than requested.
func Apply(ctx context.Context, uow *store.UnitOfWork, dict *dictionary.Resolver, in ApplyInput) (*Transaction, error) {
	typeID, err := dict.ID(ctx, dictionary.KindTransactionType, in.TypeCode)
	if err != nil {
		return nil, err
	}

	acc, err := lockAccount(ctx, uow, in.GroupID, in.UserID, in.BonusTypeID)
	if err != nil {
		return nil, err
	}

	amount := in.Amount
	newBalance := acc.Balance.Add(amount)
	if in.MaxDebt != nil && amount.IsNegative() {
		floor := in.MaxDebt.Neg()
		if newBalance.LessThan(floor) {
			if !in.ClampToDebt {
				return nil, apperr.BusinessRule("insufficient_funds", "error.insufficient_funds")
			}
			// Debit only the remaining headroom.
			amount = floor.Sub(acc.Balance)
			if !amount.IsNegative() {
				amount = decimal.Zero
			}
			newBalance = acc.Balance.Add(amount)
		}
	}

	now := time.Now().UTC()
	tx := &Transaction{
		ID:        uuid.NewString(),
		AccountID: acc.ID,
		Amount:    amount,
		TypeID:    typeID,
		TypeCode:  in.TypeCode,
		CreatedAt: now,
	}
	if in.SourceType != "" {
		tx.SourceEntityType = &in.SourceType
		tx.SourceEntityID = &in.SourceID
	}
	if in.Description != "" {
		tx.Description = &in.Description
	}

	_, err = uow.Exec(ctx, `
		INSERT INTO transactions (id, account_id, amount, transaction_type_id,
			source_entity_type, source_entity_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tx.ID, tx.AccountID, tx.Amount, tx.TypeID,
		tx.SourceEntityType, tx.SourceEntityID, tx.Description, now)
	if err != nil {
		return nil, fmt.Errorf("ledger: insert transaction: %w", err)
	}
	_, err = uow.Exec(ctx,
		`UPDATE accounts SET balance = $2, updated_at = $3 WHERE id = $1`,
		acc.ID, newBalance, now)
	if err != nil {
		return nil, fmt.Errorf("ledger: update balance: %w", err)
	}
	return tx, nil
}

// lockAccount loads the account under FOR UPDATE, creating it with a zero
// balance on first use. Callers touching multiple accounts in one unit of
// work must lock them in ascending id order.
func lockAccount(ctx context.Context, uow *store.UnitOfWork, groupID, userID string, bonusTypeID *string) (*Account, error) {
	acc, err := scanLockedAccount(ctx, uow, groupID, userID, bonusTypeID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = uow.Exec(ctx, `
		INSERT INTO accounts (id, group_id, user_id, bonus_type_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
		ON CONFLICT (group_id, user_id, bonus_type_id) DO NOTHING`,
		uuid.NewString(), groupID, userID, bonusTypeID, now)
	if err != nil {
		return nil, fmt.Errorf("ledger: create account: %w", err)
	}
	acc, err = scanLockedAccount(ctx, uow, groupID, userID, bonusTypeID)
	if err != nil {
		return nil, fmt.Errorf("ledger: reload account: %w", err)
	}
	return acc, nil
}

func scanLockedAccount(ctx context.Context, uow *store.UnitOfWork, groupID, userID string, bonusTypeID *string) (*Account, error) {
	var acc Account
	var balance string
	err := uow.QueryRow(ctx, `
		SELECT id, group_id, user_id, bonus_type_id, balance::text, created_at, updated_at
		FROM accounts
		WHERE group_id = $1 AND user_id = $2
		  AND bonus_type_id IS NOT DISTINCT FROM $3
		FOR UPDATE`,
		groupID, userID, bonusTypeID).
		Scan(&acc.ID, &acc.GroupID, &acc.UserID, &acc.BonusTypeID, &balance,
			&acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	acc.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse balance: %w", err)
	}
	return &acc, nil
}

// GetAccount loads an account without locking it.
func GetAccount(ctx context.Context, q store.Querier, groupID, userID string, bonusTypeID *string) (*Account, error) {
	var acc Account
	var balance string
	err := q.QueryRow(ctx, `
		SELECT id, group_id, user_id, bonus_type_id, balance::text, created_at, updated_at
		FROM accounts
		WHERE group_id = $1 AND user_id = $2
		  AND bonus_type_id IS NOT DISTINCT FROM $3`,
		groupID, userID, bonusTypeID).
		Scan(&acc.ID, &acc.GroupID, &acc.UserID, &acc.BonusTypeID, &balance,
			&acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("ledger: get account: %w", err)
	}
	acc.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse balance: %w", err)
	}
	return &acc, nil
}
