// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pay

import (
	"github.com/luxfi/ids"
)

// Instruction is an outbound side effect produced by settlement. The
// payment core never moves value itself: every charge and withdrawal only
// computes amounts and emits instructions addressed to the account
// contracts that hold the funds.
type Instruction interface {
	// Payer is the account contract the instruction is addressed to.
	Payer() ids.ShortID
}

// Transfer instructs the payer's account contract to move Amount of Asset
// to Recipient.
type Transfer struct {
	From      ids.ShortID
	Recipient ids.ShortID
	Asset     AssetInfo
	Amount    *Amount
}

func (t *Transfer) Payer() ids.ShortID {
	return t.From
}

// WorkReceipt credits a permissionless worker at the job registry after a
// worker-initiated settlement.
type WorkReceipt struct {
	Registry ids.ShortID
	Worker   ids.ShortID
}

func (r *WorkReceipt) Payer() ids.ShortID {
	return r.Registry
}
