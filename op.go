// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package payvm

import (
	"errors"

	"github.com/luxfi/ids"

	"github.com/luxfi/payvm/agreement"
	"github.com/luxfi/payvm/components/pay"
	"github.com/luxfi/payvm/stream"
)

var ErrUnknownOp = errors.New("unknown operation")

// Op is a closed set of payment operations. Apply dispatches on the
// concrete type; every variant is declared in this file.
type Op interface {
	isOp()
}

type (
	// Subscribe enrolls the caller in the subscription product.
	Subscribe struct{}
	// CancelSubscription cancels the caller's subscription.
	CancelSubscription struct{}
	// ChargeSubscription settles every whole period Subscriber owes.
	ChargeSubscription struct {
		Subscriber ids.ShortID
	}
	// SubscriptionWork is ChargeSubscription plus a work receipt for
	// the caller.
	SubscriptionWork struct {
		Subscriber ids.ShortID
	}

	// CreateAgreement opens a recurring transfer from the caller.
	CreateAgreement struct {
		To       ids.ShortID
		Asset    pay.AssetInfo
		Amount   *pay.Amount
		Interval uint64
		StartAt  uint64
		EndAt    *uint64
	}
	// TransferAgreement settles one period of agreement ID.
	TransferAgreement struct {
		ID uint64
	}
	// CancelAgreement deletes the caller's agreement.
	CancelAgreement struct {
		ID uint64
	}
	// TerminateAgreement sweeps a lapsed or expired agreement.
	TerminateAgreement struct {
		ID uint64
	}
	// AgreementWork is TransferAgreement plus a work receipt for the
	// caller.
	AgreementWork struct {
		ID uint64
	}

	// CreateStream escrows a principal vesting to Receiver. A zero
	// StartAt starts vesting immediately.
	CreateStream struct {
		Receiver  ids.ShortID
		Asset     pay.AssetInfo
		Principal *pay.Amount
		Deposit   *pay.Amount
		StartAt   uint64
		EndAt     uint64
	}
	// WithdrawStream pays vested funds to the stream's receiver. A nil
	// Amount withdraws the full balance.
	WithdrawStream struct {
		ID     uint64
		Amount *pay.Amount
	}
	// CancelStream settles both sides of stream ID at the vested split.
	CancelStream struct {
		ID uint64
	}
)

func (Subscribe) isOp()          {}
func (CancelSubscription) isOp() {}
func (ChargeSubscription) isOp() {}
func (SubscriptionWork) isOp()   {}
func (CreateAgreement) isOp()    {}
func (TransferAgreement) isOp()  {}
func (CancelAgreement) isOp()    {}
func (TerminateAgreement) isOp() {}
func (AgreementWork) isOp()      {}
func (CreateStream) isOp()       {}
func (WithdrawStream) isOp()     {}
func (CancelStream) isOp()       {}

// Apply executes op on behalf of caller and returns the value-movement
// instructions it produced.
func (vm *VM) Apply(caller ids.ShortID, op Op) ([]pay.Instruction, error) {
	switch op := op.(type) {
	case Subscribe:
		return vm.Subscriptions.Subscribe(caller)
	case CancelSubscription:
		return nil, vm.Subscriptions.Cancel(caller)
	case ChargeSubscription:
		return vm.Subscriptions.Charge(op.Subscriber)
	case SubscriptionWork:
		return vm.Subscriptions.Work(caller, op.Subscriber)

	case CreateAgreement:
		_, instrs, err := vm.Agreements.Create(agreement.CreateParams{
			From:     caller,
			To:       op.To,
			Asset:    op.Asset,
			Amount:   op.Amount,
			Interval: op.Interval,
			StartAt:  op.StartAt,
			EndAt:    op.EndAt,
		})
		return instrs, err
	case TransferAgreement:
		return vm.Agreements.Transfer(op.ID)
	case CancelAgreement:
		return nil, vm.Agreements.Cancel(caller, op.ID)
	case TerminateAgreement:
		return nil, vm.Agreements.Terminate(caller, op.ID)
	case AgreementWork:
		return vm.Agreements.Work(caller, op.ID)

	case CreateStream:
		_, instrs, err := vm.Streams.Create(stream.CreateParams{
			Sender:    caller,
			Receiver:  op.Receiver,
			Asset:     op.Asset,
			Principal: op.Principal,
			Deposit:   op.Deposit,
			StartAt:   op.StartAt,
			EndAt:     op.EndAt,
		})
		return instrs, err
	case WithdrawStream:
		return vm.Streams.Withdraw(op.ID, op.Amount)
	case CancelStream:
		return vm.Streams.Cancel(caller, op.ID)

	default:
		return nil, ErrUnknownOp
	}
}
