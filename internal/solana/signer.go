package solana

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	sdk "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// ---------------------------------------------------------------------------
// Signer — trader key material and transaction signing
// ---------------------------------------------------------------------------

// Signer holds the trader keypair and signs serialized transactions.
type Signer struct {
	key sdk.PrivateKey
}

// NewSigner parses the trader secret key. Accepts a base58 string or a JSON
// integer array (the common keypair-file format).
func NewSigner(secret string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("signer: empty secret key")
	}

	var raw []byte
	if strings.HasPrefix(secret, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(secret), &ints); err != nil {
			return nil, fmt.Errorf("signer: parse integer-array key: %w", err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("signer: key byte %d out of range", v)
			}
			raw[i] = byte(v)
		}
	} else {
		decoded, err := base58.Decode(secret)
		if err != nil {
			return nil, fmt.Errorf("signer: decode base58 key: %w", err)
		}
		raw = decoded
	}

	if len(raw) != 64 {
		return nil, fmt.Errorf("signer: secret key must be 64 bytes, got %d", len(raw))
	}

	return &Signer{key: sdk.PrivateKey(raw)}, nil
}

// PublicKey returns the trader wallet address.
func (s *Signer) PublicKey() string {
	return s.key.PublicKey().String()
}

// SignBase64 decodes a base64-encoded unsigned transaction, signs it with the
// trader key, and returns the serialized signed bytes plus the signature.
// Works for both legacy and v0 messages.
func (s *Signer) SignBase64(txBase64 string) ([]byte, string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return nil, "", fmt.Errorf("signer: decode transaction: %w", err)
	}
	return s.SignRaw(raw)
}

// SignRaw signs a serialized transaction blob that is already base64-decoded.
func (s *Signer) SignRaw(raw []byte) ([]byte, string, error) {
	tx, err := sdk.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, "", fmt.Errorf("signer: parse transaction: %w", err)
	}

	_, err = tx.Sign(func(pub sdk.PublicKey) *sdk.PrivateKey {
		if pub.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("signer: sign: %w", err)
	}
	if len(tx.Signatures) == 0 {
		return nil, "", fmt.Errorf("signer: transaction has no signatures after signing")
	}

	signed, err := tx.MarshalBinary()
	if err != nil {
		return nil, "", fmt.Errorf("signer: marshal signed transaction: %w", err)
	}

	return signed, tx.Signatures[0].String(), nil
}
