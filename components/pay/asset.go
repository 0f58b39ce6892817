// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pay

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"
)

var (
	errEmptyAsset = errors.New("asset must be native or token, not both")
)

// AssetInfo identifies what is being streamed or transferred: either a
// native denomination or a fungible-token contract address.
type AssetInfo struct {
	// Denom is set for native assets.
	Denom string `serialize:"true" json:"denom"`
	// Contract is set for token assets.
	Contract ids.ShortID `serialize:"true" json:"contract"`
}

// NativeAsset returns an AssetInfo for a native denomination.
func NativeAsset(denom string) AssetInfo {
	return AssetInfo{Denom: denom}
}

// TokenAsset returns an AssetInfo for a fungible-token contract.
func TokenAsset(contract ids.ShortID) AssetInfo {
	return AssetInfo{Contract: contract}
}

// IsToken reports whether the asset is a token contract.
func (a AssetInfo) IsToken() bool {
	return a.Contract != ids.ShortEmpty
}

// Verify checks that exactly one of denom and contract is set.
func (a AssetInfo) Verify() error {
	if (a.Denom == "") == (a.Contract == ids.ShortEmpty) {
		return errEmptyAsset
	}
	return nil
}

// Equal reports whether two asset descriptors identify the same asset.
func (a AssetInfo) Equal(o AssetInfo) bool {
	return a.Denom == o.Denom && a.Contract == o.Contract
}

func (a AssetInfo) String() string {
	if a.IsToken() {
		return fmt.Sprintf("token:%s", a.Contract)
	}
	return fmt.Sprintf("native:%s", a.Denom)
}

// Asset pairs an asset descriptor with an amount.
type Asset struct {
	Info   AssetInfo `serialize:"true" json:"info"`
	Amount Amount    `serialize:"true" json:"amount"`
}
