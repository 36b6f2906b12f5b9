package token

import (
	"context"
	"fmt"
	"sync"
)

// Simulator is an in-process token service with settable balances and
// allowances plus programmable failure, used by tests and local development
// in place of a real bridge. Transfer semantics mirror an ERC-20: a transfer
// exceeding the sender's balance (or the allowance, for TransferFrom)
// returns false without moving value.
type Simulator struct {
	mu         sync.Mutex
	self       string                       // the engine address; Transfer pushes debit it
	balances   map[string]map[string]uint64 // token -> holder -> amount
	allowances map[string]map[string]uint64 // token -> owner|spender -> amount
	rejectTo   map[string]bool              // addresses whose inbound transfers report false
	failErr    error                        // when set, every call fails at the transport level
}

var _ Service = (*Simulator)(nil)

// NewSimulator creates an empty simulator. self is the engine address whose
// custody outbound Transfer pushes draw down.
func NewSimulator(self string) *Simulator {
	return &Simulator{
		self:       self,
		balances:   make(map[string]map[string]uint64),
		allowances: make(map[string]map[string]uint64),
		rejectTo:   make(map[string]bool),
	}
}

// Mint credits a holder's balance out of thin air.
func (s *Simulator) Mint(token, holder string, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credit(token, holder, amount)
}

// Approve grants spender an allowance over owner's holdings.
func (s *Simulator) Approve(token, owner, spender string, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowances[token] == nil {
		s.allowances[token] = make(map[string]uint64)
	}
	s.allowances[token][owner+"|"+spender] = amount
}

// RejectTransfersTo makes every transfer toward the address report false.
func (s *Simulator) RejectTransfersTo(address string, reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectTo[address] = reject
}

// FailWith makes every subsequent call fail at the transport level. Pass nil
// to restore normal operation.
func (s *Simulator) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *Simulator) Transfer(_ context.Context, token, to string, amount uint64) (bool, error) {
	return s.move(token, s.self, to, amount, false)
}

func (s *Simulator) TransferFrom(_ context.Context, token, from, to string, amount uint64) (bool, error) {
	return s.move(token, from, to, amount, true)
}

func (s *Simulator) BalanceOf(_ context.Context, token, address string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}
	return s.balances[token][address], nil
}

func (s *Simulator) Allowance(_ context.Context, token, owner, spender string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}
	return s.allowances[token][owner+"|"+spender], nil
}

// move debits from and credits to; spending additionally consumes the
// engine's allowance over from.
func (s *Simulator) move(token, from, to string, amount uint64, spending bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return false, s.failErr
	}
	if s.rejectTo[to] {
		return false, nil
	}

	if s.balances[token][from] < amount {
		return false, nil
	}
	if spending {
		granted := s.allowances[token][from+"|"+s.self]
		if granted < amount {
			return false, nil
		}
		s.allowances[token][from+"|"+s.self] = granted - amount
	}
	s.balances[token][from] -= amount
	s.credit(token, to, amount)
	return true, nil
}

func (s *Simulator) credit(token, holder string, amount uint64) {
	if s.balances[token] == nil {
		s.balances[token] = make(map[string]uint64)
	}
	s.balances[token][holder] += amount
}

// ErrBridgeDown is a convenient transport failure for tests.
var ErrBridgeDown = fmt.Errorf("token bridge unreachable")
