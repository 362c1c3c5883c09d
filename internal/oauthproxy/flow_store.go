package oauthproxy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashwinprasad-h-17068/analytics-mcp-server/internal/storage"
)

// FlowStore manages the short-lived state of authorization flows:
// transactions created at /authorize and proxy codes minted at
// /auth/callback. Both record kinds live in the shared persistence layer so
// a flow can span process restarts and multiple replicas.
type FlowStore struct {
	transactions   storage.Store
	codes          storage.Store
	transactionTTL time.Duration
	codeTTL        time.Duration
	logger         *slog.Logger
}

// NewFlowStore creates a flow store over the given backends. Zero TTLs fall
// back to the package defaults.
func NewFlowStore(transactions, codes storage.Store, transactionTTL, codeTTL time.Duration, logger *slog.Logger) *FlowStore {
	if transactionTTL <= 0 {
		transactionTTL = DefaultTransactionTTL
	}
	if codeTTL <= 0 {
		codeTTL = DefaultAuthorizationCodeTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FlowStore{
		transactions:   transactions,
		codes:          codes,
		transactionTTL: transactionTTL,
		codeTTL:        codeTTL,
		logger:         logger,
	}
}

// TransactionTTL reports how long a stored transaction stays valid.
func (s *FlowStore) TransactionTTL() time.Duration {
	return s.transactionTTL
}

// CodeTTL reports how long a stored authorization code stays valid.
func (s *FlowStore) CodeTTL() time.Duration {
	return s.codeTTL
}

// SaveTransaction persists an authorization transaction. The write must be
// durable before the caller redirects the user agent to the consent page.
func (s *FlowStore) SaveTransaction(ctx context.Context, txn *AuthorizationTransaction) error {
	if err := s.transactions.Set(ctx, txn.TransactionID, txn, s.transactionTTL); err != nil {
		return fmt.Errorf("failed to persist transaction: %w", err)
	}

	s.logger.Debug("Saved authorization transaction",
		"transaction_id", txn.TransactionID,
		"client_id", txn.ClientID,
		"expires_at", time.Unix(txn.ExpiresAt, 0),
	)
	return nil
}

// GetTransaction retrieves a transaction by ID. Unknown and reaped
// transactions return storage.ErrNotFound; record-level expiry is checked
// by the caller.
func (s *FlowStore) GetTransaction(ctx context.Context, transactionID string) (*AuthorizationTransaction, error) {
	var txn AuthorizationTransaction
	if err := s.transactions.Get(ctx, transactionID, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

// DeleteTransaction removes a transaction. Deleting an absent transaction is
// not an error.
func (s *FlowStore) DeleteTransaction(ctx context.Context, transactionID string) error {
	if err := s.transactions.Delete(ctx, transactionID); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}

	s.logger.Debug("Deleted authorization transaction", "transaction_id", transactionID)
	return nil
}

// SaveCode persists a proxy-issued authorization code. The write must be
// durable before the callback redirects the user agent back to the client.
func (s *FlowStore) SaveCode(ctx context.Context, code *AuthorizationCode) error {
	if err := s.codes.Set(ctx, code.Code, code, s.codeTTL); err != nil {
		return fmt.Errorf("failed to persist authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", codePrefix(code.Code),
		"client_id", code.ClientID,
		"expires_at", time.Unix(code.ExpiresAt, 0),
	)
	return nil
}

// GetCode retrieves an authorization code record. Unknown and reaped codes
// return storage.ErrNotFound.
func (s *FlowStore) GetCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var authCode AuthorizationCode
	if err := s.codes.Get(ctx, code, &authCode); err != nil {
		return nil, err
	}
	return &authCode, nil
}

// DeleteCode removes an authorization code, used to discard records found
// expired. Redemption goes through ConsumeCode instead.
func (s *FlowStore) DeleteCode(ctx context.Context, code string) error {
	if err := s.codes.Delete(ctx, code); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}

	s.logger.Debug("Deleted authorization code", "code_prefix", codePrefix(code))
	return nil
}

// ConsumeCode removes an authorization code and reports whether this call
// removed a live record. On backends that can observe the delete, concurrent
// redemptions of the same code resolve to exactly one winner; the catalyst
// backend cannot and degrades to the plain delete.
func (s *FlowStore) ConsumeCode(ctx context.Context, code string) (bool, error) {
	if r, ok := s.codes.(storage.Remover); ok {
		removed, err := r.Remove(ctx, code)
		if err != nil {
			return false, fmt.Errorf("failed to delete authorization code: %w", err)
		}
		if removed {
			s.logger.Debug("Consumed authorization code", "code_prefix", codePrefix(code))
		}
		return removed, nil
	}

	if err := s.codes.Delete(ctx, code); err != nil {
		return false, fmt.Errorf("failed to delete authorization code: %w", err)
	}
	s.logger.Debug("Consumed authorization code", "code_prefix", codePrefix(code))
	return true, nil
}

// codePrefix returns a loggable prefix of an opaque code. Full codes never
// appear in log lines.
func codePrefix(code string) string {
	if len(code) <= 8 {
		return code
	}
	return code[:8] + "..."
}
