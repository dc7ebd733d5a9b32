package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/authz"
	"github.com/kudos-app/kudos/pkg/kudos/dictionary"
	"github.com/kudos-app/kudos/pkg/kudos/group"
	"github.com/kudos-app/kudos/pkg/kudos/store"
)

// Service exposes ledger operations that stand on their own unit of work
// (manual adjustments, reward purchases, balance reads). Task settlement
// calls Apply directly inside the task service's unit of work instead.
type Service struct {
	store  *store.Store
	dict   *dictionary.Resolver
	authz  *authz.Resolver
	logger *slog.Logger
}

// NewService wires the ledger service.
func NewService(st *store.Store, dict *dictionary.Resolver, az *authz.Resolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, dict: dict, authz: az, logger: logger.With("component", "ledger")}
}

// Balance returns the actor's own account, or any account for group
// admins.
func (s *Service) Balance(ctx context.Context, actor authz.Actor, groupID, userID string) (*Account, error) {
	scope := authz.ScopeSelf
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "account.read", Scope: scope},
		authz.Target{GroupID: groupID, OwnerUserID: userID}); err != nil {
		return nil, err
	}
	acc, err := GetAccount(ctx, s.store.Pool(), groupID, userID, nil)
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			// A user with no transactions has an implicit zero account.
			return &Account{GroupID: groupID, UserID: userID, Balance: decimal.Zero}, nil
		}
		return nil, err
	}
	return acc, nil
}

// AdjustInput carries a manual adjustment.
type AdjustInput struct {
	UserID string          `validate:"required,uuid"`
	Amount decimal.Decimal `validate:"required"`
	Reason string          `validate:"omitempty,max=500"`
}

// Adjustment is the immutable administrative record referencing the
// transaction it generated.
type Adjustment struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	TransactionID string          `json:"transaction_id"`
	AdjustedBy    string          `json:"adjusted_by"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        *string         `json:"reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Adjust records a manual credit or debit by a group admin. The
// adjustment row, the transaction, and the balance update commit
// together.
func (s *Service) Adjust(ctx context.Context, actor authz.Actor, groupID string, in AdjustInput) (*Adjustment, error) {
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "ledger.adjust", Scope: authz.ScopeGroupAdmin},
		authz.Target{GroupID: groupID}); err != nil {
		return nil, err
	}
	if in.Amount.IsZero() {
		return nil, apperr.Validation("error.validation").WithMeta("field", "amount")
	}
	typeCode := dictionary.TxManualCredit
	if in.Amount.IsNegative() {
		typeCode = dictionary.TxManualDebit
	}

	settings, err := group.GetSettings(ctx, s.store.Pool(), groupID)
	if err != nil {
		return nil, err
	}

	var adj *Adjustment
	err = s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		tx, err := Apply(ctx, uow, s.dict, ApplyInput{
			GroupID:     groupID,
			UserID:      in.UserID,
			BonusTypeID: settings.BonusTypeID,
			Amount:      in.Amount,
			TypeCode:    typeCode,
			Description: in.Reason,
			MaxDebt:     settings.MaxDebtAllowed,
		})
		if err != nil {
			return err
		}
		adj = &Adjustment{
			ID:            uuid.NewString(),
			AccountID:     tx.AccountID,
			TransactionID: tx.ID,
			AdjustedBy:    actor.UserID,
			Amount:        tx.Amount,
			CreatedAt:     time.Now().UTC(),
		}
		if in.Reason != "" {
			adj.Reason = &in.Reason
		}
		_, err = uow.Exec(ctx, `
			INSERT INTO bonus_adjustments (id, account_id, transaction_id,
				adjusted_by, amount, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			adj.ID, adj.AccountID, adj.TransactionID, adj.AdjustedBy,
			adj.Amount, adj.Reason, adj.CreatedAt)
		if err != nil {
			return fmt.Errorf("ledger: insert adjustment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("manual adjustment", "adjustment_id", adj.ID, "group_id", groupID,
		"amount", adj.Amount.String())
	return adj, nil
}

// PurchaseReward debits the purchaser's account by the reward's cost. An
// insufficient balance fails before any mutation.
func (s *Service) PurchaseReward(ctx context.Context, actor authz.Actor, rewardID string) (*Transaction, error) {
	var groupID, name string
	var cost string
	err := s.store.Pool().QueryRow(ctx, `
		SELECT group_id, name, cost::text FROM rewards
		WHERE id = $1 AND is_active AND NOT is_deleted`, rewardID).
		Scan(&groupID, &name, &cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("ledger: load reward: %w", err)
	}
	costDec, err := decimal.NewFromString(cost)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse cost: %w", err)
	}
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "reward.purchase", Scope: authz.ScopeMember},
		authz.Target{GroupID: groupID}); err != nil {
		return nil, err
	}
	settings, err := group.GetSettings(ctx, s.store.Pool(), groupID)
	if err != nil {
		return nil, err
	}

	var tx *Transaction
	err = s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		tx, err = Apply(ctx, uow, s.dict, ApplyInput{
			GroupID:     groupID,
			UserID:      actor.UserID,
			BonusTypeID: settings.BonusTypeID,
			Amount:      costDec.Neg(),
			TypeCode:    dictionary.TxRewardPurchase,
			SourceType:  "reward",
			SourceID:    rewardID,
			Description: name,
			MaxDebt:     settings.MaxDebtAllowed,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListTransactions returns one page of an account's transactions, newest
// first.
func (s *Service) ListTransactions(ctx context.Context, actor authz.Actor, groupID, userID string, page store.Page) (store.Paginated[Transaction], error) {
	var empty store.Paginated[Transaction]
	if err := s.authz.Can(ctx, actor, authz.Action{Name: "transactions.read", Scope: authz.ScopeSelf},
		authz.Target{GroupID: groupID, OwnerUserID: userID}); err != nil {
		return empty, err
	}
	acc, err := GetAccount(ctx, s.store.Pool(), groupID, userID, nil)
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			return store.NewPaginated([]Transaction{}, 0, page), nil
		}
		return empty, err
	}
	page = page.Normalize()

	var total int
	if err := s.store.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = $1`, acc.ID).Scan(&total); err != nil {
		return empty, fmt.Errorf("ledger: count transactions: %w", err)
	}

	rows, err := s.store.Pool().Query(ctx, `
		SELECT id, account_id, amount::text, transaction_type_id,
		       source_entity_type, source_entity_id, description, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		acc.ID, page.Limit(), page.Offset())
	if err != nil {
		return empty, fmt.Errorf("ledger: list transactions: %w", err)
	}
	defer rows.Close()

	var items []Transaction
	for rows.Next() {
		var t Transaction
		var amount string
		if err := rows.Scan(&t.ID, &t.AccountID, &amount, &t.TypeID,
			&t.SourceEntityType, &t.SourceEntityID, &t.Description, &t.CreatedAt); err != nil {
			return empty, fmt.Errorf("ledger: scan transaction: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return empty, fmt.Errorf("ledger: parse amount: %w", err)
		}
		if t.TypeCode, err = s.dict.Code(ctx, dictionary.KindTransactionType, t.TypeID); err != nil {
			return empty, err
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return empty, fmt.Errorf("ledger: transactions rows: %w", err)
	}
	return store.NewPaginated(items, total, page), nil
}
