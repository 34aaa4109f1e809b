// codec.go packs order and cancel actions into the MessagePack byte form
// the venue hashes and signs. No library in the reference corpus covers
// MessagePack; this uses the standard ecosystem encoder for it.
package hyperliquid

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"tradingd/pkg/types"
)

// orderWire is the packed shape of a single order action.
type orderWire struct {
	Asset      int    `msgpack:"a"`
	IsBuy      bool   `msgpack:"b"`
	Price      string `msgpack:"p"`
	Size       string `msgpack:"s"`
	ReduceOnly bool   `msgpack:"r"`
	OrderType  orderTypeWire `msgpack:"t"`
}

type orderTypeWire struct {
	Limit *limitWire `msgpack:"limit,omitempty"`
}

type limitWire struct {
	TimeInForce string `msgpack:"tif"`
}

// placeActionWire is the top-level packed action for order placement.
type placeActionWire struct {
	Type     string      `msgpack:"type"`
	Orders   []orderWire `msgpack:"orders"`
	Grouping string      `msgpack:"grouping"`
}

// cancelWire is a single cancel request. Asset and OrderID are pointers so
// that "all assets" / "all orders" marshal as an explicit msgpack nil
// rather than being omitted from the map — the venue's decoder
// distinguishes absence of the field from an explicit null.
type cancelWire struct {
	Asset   *int    `msgpack:"a"`
	OrderID *uint64 `msgpack:"o"`
}

type cancelActionWire struct {
	Type    string       `msgpack:"type"`
	Cancels []cancelWire `msgpack:"cancels"`
}

// BuildPlaceAction builds the wire-shaped order action. The same struct is
// sent as the JSON request body and, msgpack-packed, as the input to the
// action hash the signature covers.
func BuildPlaceAction(req types.OrderRequest, assetIdx int) placeActionWire {
	return placeActionWire{
		Type:     "order",
		Grouping: "na",
		Orders: []orderWire{{
			Asset:      assetIdx,
			IsBuy:      req.Side == types.Buy,
			Price:      req.Price.String(),
			Size:       req.Size.String(),
			ReduceOnly: req.ReduceOnly,
			OrderType: orderTypeWire{
				Limit: &limitWire{TimeInForce: string(req.TimeInForce)},
			},
		}},
	}
}

// BuildCancelAction builds the wire-shaped cancel action. assetIdx == nil
// and/or orderID == nil encode as an explicit null, representing "all
// assets" or "all orders" respectively.
func BuildCancelAction(assetIdx *int, orderID *uint64) cancelActionWire {
	return cancelActionWire{
		Type:    "cancel",
		Cancels: []cancelWire{{Asset: assetIdx, OrderID: orderID}},
	}
}

// PackForSigning msgpack-encodes an action, the byte form the signature
// hash is computed over.
func PackForSigning(action any) ([]byte, error) {
	data, err := msgpack.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: pack action: %w", err)
	}
	return data, nil
}
