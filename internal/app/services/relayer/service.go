// Package relayer implements the off-chain multi-party signature helper:
// it builds a deterministic digest for a privileged transaction, collects
// signatures until a quorum is met, and relays the call to the execution
// entry point exactly once. It never verifies signatures itself; the
// execution substrate does that.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Meridian-Labs/wallet_layer/internal/app/storage"
	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
	"github.com/Meridian-Labs/wallet_layer/pkg/logger"
)

var (
	ErrTransactionNotFound = errors.New("relay transaction not found")
	ErrDuplicateSigner     = errors.New("signer already provided a signature")
	ErrQuorumNotMet        = errors.New("signature quorum not met")
	ErrAlreadyExecuted     = errors.New("relay transaction already executed")
	ErrExecutionInProgress = errors.New("relay execution already in progress")
)

// Status is the lifecycle state of a relay transaction.
type Status string

const (
	StatusCollecting Status = "collecting"
	StatusReady      Status = "ready"
	StatusExecuting  Status = "executing"
	StatusExecuted   Status = "executed"
	StatusFailed     Status = "failed"
)

// Signature is one signer's signature over a transaction digest. The core
// treats the bytes as opaque.
type Signature struct {
	Signer wallet.Address
	Data   []byte
}

// Transaction is a privileged call awaiting threshold-many signatures.
type Transaction struct {
	ID        string
	Account   wallet.Address
	Target    wallet.Address
	Value     *big.Int
	Data      []byte
	Nonce     uint64
	Digest    [32]byte
	Threshold int
	Status    Status
	CreatedAt time.Time
}

// Executor submits the aggregated signature bundle to the execution entry
// point. Called at most once per transaction.
type Executor interface {
	Execute(ctx context.Context, tx Transaction, signatures []Signature) error
}

// Service collects signatures and relays transactions.
type Service struct {
	nonces   storage.NonceStore
	executor Executor
	log      *logger.Logger

	mu  sync.Mutex
	txs map[string]*pending
}

type pending struct {
	tx   Transaction
	sigs map[wallet.Address]Signature
}

// New constructs a relayer.
func New(nonces storage.NonceStore, executor Executor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("relayer")
	}
	return &Service{nonces: nonces, executor: executor, log: log, txs: make(map[string]*pending)}
}

// Prepare allocates the next per-account nonce, computes the digest, and
// registers a transaction awaiting threshold signatures.
func (s *Service) Prepare(ctx context.Context, account, target wallet.Address, value *big.Int, data []byte, threshold int) (Transaction, error) {
	if threshold < 1 {
		return Transaction{}, fmt.Errorf("threshold must be at least 1")
	}
	nonce, err := s.nonces.NextNonce(ctx, account)
	if err != nil {
		return Transaction{}, fmt.Errorf("allocate nonce: %w", err)
	}

	tx := Transaction{
		ID:        uuid.NewString(),
		Account:   account,
		Target:    target,
		Value:     value,
		Data:      append([]byte(nil), data...),
		Nonce:     nonce,
		Digest:    Digest(account, target, value, data, nonce),
		Threshold: threshold,
		Status:    StatusCollecting,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.txs[tx.ID] = &pending{tx: tx, sigs: make(map[wallet.Address]Signature)}
	s.mu.Unlock()

	s.log.WithField("tx_id", tx.ID).
		WithField("account", account).
		WithField("nonce", nonce).
		Info("relay transaction prepared")
	return tx, nil
}

// AddSignature records one signer's signature. A second signature from
// the same signer is rejected. Once the quorum is met the transaction
// becomes ready for execution.
func (s *Service) AddSignature(_ context.Context, txID string, sig Signature) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.txs[txID]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	if p.tx.Status == StatusExecuted {
		return Transaction{}, ErrAlreadyExecuted
	}
	if p.tx.Status == StatusExecuting {
		return Transaction{}, ErrExecutionInProgress
	}
	if _, dup := p.sigs[sig.Signer]; dup {
		return Transaction{}, ErrDuplicateSigner
	}

	p.sigs[sig.Signer] = sig
	if len(p.sigs) >= p.tx.Threshold && p.tx.Status == StatusCollecting {
		p.tx.Status = StatusReady
	}
	return p.tx, nil
}

// Execute relays a ready transaction to the execution entry point,
// passing the collected signatures sorted by signer address ascending.
// Execution happens at most once: the transaction is marked executing
// before the lock is released, so a concurrent call cannot relay the same
// transaction a second time. A failed attempt may be retried by the
// caller, which is where retry policy lives.
func (s *Service) Execute(ctx context.Context, txID string) (Transaction, error) {
	s.mu.Lock()
	p, ok := s.txs[txID]
	if !ok {
		s.mu.Unlock()
		return Transaction{}, ErrTransactionNotFound
	}
	if p.tx.Status == StatusExecuted {
		s.mu.Unlock()
		return Transaction{}, ErrAlreadyExecuted
	}
	if p.tx.Status == StatusExecuting {
		s.mu.Unlock()
		return Transaction{}, ErrExecutionInProgress
	}
	if len(p.sigs) < p.tx.Threshold {
		s.mu.Unlock()
		return p.tx, fmt.Errorf("%w: have %d of %d", ErrQuorumNotMet, len(p.sigs), p.tx.Threshold)
	}
	p.tx.Status = StatusExecuting

	sigs := make([]Signature, 0, len(p.sigs))
	for _, sig := range p.sigs {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool {
		return wallet.CompareAddresses(sigs[i].Signer, sigs[j].Signer) < 0
	})
	tx := p.tx
	s.mu.Unlock()

	if err := s.executor.Execute(ctx, tx, sigs); err != nil {
		s.mu.Lock()
		p.tx.Status = StatusFailed
		s.mu.Unlock()
		return p.tx, fmt.Errorf("relay execution: %w", err)
	}

	s.mu.Lock()
	p.tx.Status = StatusExecuted
	tx = p.tx
	s.mu.Unlock()

	s.log.WithField("tx_id", tx.ID).WithField("account", tx.Account).Info("relay transaction executed")
	return tx, nil
}

// Get returns a transaction by id.
func (s *Service) Get(txID string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.txs[txID]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return p.tx, nil
}
