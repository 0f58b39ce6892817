// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package codec provides the codec manager used to persist payment
// records. All record types are plain structs with serialize tags, so no
// interface registration is required.
package codec

import (
	"math"

	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
)

// Version is the current codec version for persisted records.
const Version = 0

var Codec codec.Manager

func init() {
	Codec = codec.NewManager(math.MaxInt)
	lc := linearcodec.NewDefault()
	if err := Codec.RegisterCodec(Version, lc); err != nil {
		panic(err)
	}
}
