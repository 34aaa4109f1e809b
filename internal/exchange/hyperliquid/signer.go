// signer.go implements Hyperliquid's action-signing scheme: every
// order/cancel action is hashed and signed as a single "Agent" typed-data
// message over the packed, msgpack-encoded action plus a nonce.
package hyperliquid

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signature is the {r, s, v} triple Hyperliquid expects alongside a signed
// action.
type Signature struct {
	R string `msgpack:"r" json:"r"`
	S string `msgpack:"s" json:"s"`
	V int    `msgpack:"v" json:"v"`
}

// Signer wraps the account's private key and produces action signatures.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewSigner derives a Signer from a hex-encoded private key (with or
// without a leading 0x).
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := privateKeyHex
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: parse private key: %w", err)
	}
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address { return s.address }

// SignAction signs the hash of a packed action payload plus nonce under
// the "Agent" EIP-712 type, exactly as the venue's exchange contract
// expects, and returns {r, s, v} with v normalized to 27/28.
func (s *Signer) SignAction(actionHash []byte, nonce int64) (Signature, error) {
	domain := apitypes.TypedDataDomain{
		Name:    "Exchange",
		Version: "1",
		ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(s.chainID)),
	}
	types := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
		},
		"Agent": {
			{Name: "source", Type: "string"},
			{Name: "connectionId", Type: "bytes32"},
		},
	}
	message := apitypes.TypedDataMessage{
		"source":       "a",
		"connectionId": actionHash,
	}

	typedData := apitypes.TypedData{
		Types:       types,
		PrimaryType: "Agent",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return Signature{}, fmt.Errorf("hyperliquid: typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return Signature{}, fmt.Errorf("hyperliquid: sign action: %w", err)
	}

	v := int(sig[64])
	if v < 27 {
		v += 27
	}

	return Signature{
		R: "0x" + common.Bytes2Hex(sig[:32]),
		S: "0x" + common.Bytes2Hex(sig[32:64]),
		V: v,
	}, nil
}
