package relayer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Meridian-Labs/wallet_layer/internal/app/storage/memory"
	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
)

func addr(b byte) wallet.Address {
	var a wallet.Address
	a[wallet.AddressLength-1] = b
	return a
}

type captureExecutor struct {
	calls []([]Signature)
	err   error
}

func (c *captureExecutor) Execute(_ context.Context, _ Transaction, sigs []Signature) error {
	c.calls = append(c.calls, append([]Signature(nil), sigs...))
	return c.err
}

func TestDigestDeterministic(t *testing.T) {
	account, target := addr(0xAA), addr(0x77)
	data := []byte{1, 2, 3}

	d1 := Digest(account, target, big.NewInt(100), data, 7)
	d2 := Digest(account, target, big.NewInt(100), data, 7)
	if d1 != d2 {
		t.Fatalf("digest must be deterministic")
	}
	if d1 == Digest(account, target, big.NewInt(100), data, 8) {
		t.Fatalf("nonce must bind the digest")
	}
	if d1 == Digest(account, target, big.NewInt(101), data, 7) {
		t.Fatalf("value must bind the digest")
	}
	if d1 == Digest(account, target, big.NewInt(100), []byte{1, 2, 4}, 7) {
		t.Fatalf("calldata must bind the digest")
	}
	if Digest(account, target, nil, data, 7) != Digest(account, target, big.NewInt(0), data, 7) {
		t.Fatalf("nil value must digest as zero")
	}
}

func TestPrepareAllocatesNonces(t *testing.T) {
	store := memory.New()
	svc := New(store, &captureExecutor{}, nil)
	account := addr(0xAA)

	tx1, err := svc.Prepare(context.Background(), account, addr(1), nil, nil, 2)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	tx2, err := svc.Prepare(context.Background(), account, addr(1), nil, nil, 2)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if tx2.Nonce != tx1.Nonce+1 {
		t.Fatalf("nonces must be sequential: %d then %d", tx1.Nonce, tx2.Nonce)
	}
	if tx1.Status != StatusCollecting || tx1.ID == "" {
		t.Fatalf("unexpected transaction: %+v", tx1)
	}

	if _, err := svc.Prepare(context.Background(), account, addr(1), nil, nil, 0); err == nil {
		t.Fatalf("zero threshold must be rejected")
	}
}

func TestAddSignature(t *testing.T) {
	svc := New(memory.New(), &captureExecutor{}, nil)
	tx, err := svc.Prepare(context.Background(), addr(0xAA), addr(1), nil, nil, 2)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	got, err := svc.AddSignature(context.Background(), tx.ID, Signature{Signer: addr(5), Data: []byte("s5")})
	if err != nil {
		t.Fatalf("first signature: %v", err)
	}
	if got.Status != StatusCollecting {
		t.Fatalf("one of two signatures should still be collecting, got %s", got.Status)
	}

	_, err = svc.AddSignature(context.Background(), tx.ID, Signature{Signer: addr(5), Data: []byte("again")})
	if !errors.Is(err, ErrDuplicateSigner) {
		t.Fatalf("expected ErrDuplicateSigner, got %v", err)
	}

	got, err = svc.AddSignature(context.Background(), tx.ID, Signature{Signer: addr(3), Data: []byte("s3")})
	if err != nil {
		t.Fatalf("second signature: %v", err)
	}
	if got.Status != StatusReady {
		t.Fatalf("quorum met, expected ready, got %s", got.Status)
	}

	if _, err := svc.AddSignature(context.Background(), "no-such-tx", Signature{Signer: addr(9)}); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestExecuteSortsSignersAndRunsOnce(t *testing.T) {
	exec := &captureExecutor{}
	svc := New(memory.New(), exec, nil)
	tx, err := svc.Prepare(context.Background(), addr(0xAA), addr(1), nil, nil, 3)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	// Deliberately out of order.
	for _, signer := range []wallet.Address{addr(9), addr(2), addr(5)} {
		if _, err := svc.AddSignature(context.Background(), tx.ID, Signature{Signer: signer}); err != nil {
			t.Fatalf("sign: %v", err)
		}
	}

	got, err := svc.Execute(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got.Status != StatusExecuted {
		t.Fatalf("expected executed, got %s", got.Status)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("executor should run once, ran %d times", len(exec.calls))
	}
	sigs := exec.calls[0]
	for i := 1; i < len(sigs); i++ {
		if wallet.CompareAddresses(sigs[i-1].Signer, sigs[i].Signer) >= 0 {
			t.Fatalf("signatures not in ascending signer order: %v", sigs)
		}
	}

	if _, err := svc.Execute(context.Background(), tx.ID); !errors.Is(err, ErrAlreadyExecuted) {
		t.Fatalf("expected ErrAlreadyExecuted, got %v", err)
	}
	if _, err := svc.AddSignature(context.Background(), tx.ID, Signature{Signer: addr(7)}); !errors.Is(err, ErrAlreadyExecuted) {
		t.Fatalf("signing an executed transaction must fail, got %v", err)
	}
}

type slowExecutor struct {
	mu    sync.Mutex
	count int
}

func (e *slowExecutor) Execute(context.Context, Transaction, []Signature) error {
	e.mu.Lock()
	e.count++
	e.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	return nil
}

func TestExecuteConcurrentCallsRelayOnce(t *testing.T) {
	exec := &slowExecutor{}
	svc := New(memory.New(), exec, nil)
	tx, err := svc.Prepare(context.Background(), addr(0xAA), addr(1), nil, nil, 1)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := svc.AddSignature(context.Background(), tx.ID, Signature{Signer: addr(5)}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Execute(context.Background(), tx.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	if exec.count != 1 {
		t.Fatalf("executor invoked %d times; want exactly once", exec.count)
	}
	var succeeded, rejected int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrExecutionInProgress), errors.Is(err, ErrAlreadyExecuted):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("want one success and one rejection, got %d/%d", succeeded, rejected)
	}

	got, err := svc.Get(tx.ID)
	if err != nil || got.Status != StatusExecuted {
		t.Fatalf("final state: %+v, %v", got, err)
	}
}

func TestAddSignatureRejectedDuringExecution(t *testing.T) {
	exec := &slowExecutor{}
	svc := New(memory.New(), exec, nil)
	tx, err := svc.Prepare(context.Background(), addr(0xAA), addr(1), nil, nil, 1)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := svc.AddSignature(context.Background(), tx.ID, Signature{Signer: addr(5)}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := svc.Execute(context.Background(), tx.ID); err != nil {
			t.Errorf("execute: %v", err)
		}
	}()

	// Wait for the executor to be entered, then try to sign mid-flight.
	for {
		exec.mu.Lock()
		started := exec.count > 0
		exec.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}
	_, err = svc.AddSignature(context.Background(), tx.ID, Signature{Signer: addr(7)})
	if !errors.Is(err, ErrExecutionInProgress) {
		t.Fatalf("expected ErrExecutionInProgress, got %v", err)
	}
	<-done
}

func TestExecuteQuorumNotMet(t *testing.T) {
	svc := New(memory.New(), &captureExecutor{}, nil)
	tx, err := svc.Prepare(context.Background(), addr(0xAA), addr(1), nil, nil, 2)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := svc.AddSignature(context.Background(), tx.ID, Signature{Signer: addr(5)}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = svc.Execute(context.Background(), tx.ID)
	if !errors.Is(err, ErrQuorumNotMet) {
		t.Fatalf("expected ErrQuorumNotMet, got %v", err)
	}
}

func TestExecuteFailureAllowsRetry(t *testing.T) {
	exec := &captureExecutor{err: errors.New("rpc down")}
	svc := New(memory.New(), exec, nil)
	tx, err := svc.Prepare(context.Background(), addr(0xAA), addr(1), nil, nil, 1)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := svc.AddSignature(context.Background(), tx.ID, Signature{Signer: addr(5)}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := svc.Execute(context.Background(), tx.ID)
	if err == nil {
		t.Fatalf("expected execution failure")
	}
	if got.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", got.Status)
	}

	exec.err = nil
	got, err = svc.Execute(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.Status != StatusExecuted {
		t.Fatalf("expected executed after retry, got %s", got.Status)
	}
}
