package crypto

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	if _, err := NewSigner("not-hex", 137); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestSignAuthRecoversSignerAddress(t *testing.T) {
	s := testSigner(t)

	sigHex, err := s.SignAuth(1_700_000_000, 42)
	if err != nil {
		t.Fatalf("SignAuth: %v", err)
	}
	if !strings.HasPrefix(sigHex, "0x") || len(sigHex) != 132 {
		t.Fatalf("signature %q is not a 65-byte hex string", sigHex)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Fatalf("recovery byte = %d, expected 27 or 28", v)
	}

	// Rebuild the digest and recover the public key; it must match the
	// signer's own address.
	structHash := ethcrypto.Keccak256(
		concatBytes(
			gatewayAuthTypeHash,
			common.LeftPadBytes(s.Address().Bytes(), 32),
			bigIntTo32Bytes(big.NewInt(1_700_000_000)),
			bigIntTo32Bytes(big.NewInt(42)),
		),
	)
	digest := eip712Hash(s.domainSep, structHash)

	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	if got := ethcrypto.PubkeyToAddress(*pub); got != s.Address() {
		t.Fatalf("recovered %s, expected %s", got, s.Address())
	}
}

func TestSignLegOrderDeterministicPerPayload(t *testing.T) {
	s := testSigner(t)
	order := LegOrderPayload{
		Venue:         "v1",
		InstrumentIn:  "USDC",
		InstrumentOut: "WETH",
		AmountIn:      1_000_000,
		MinAmountOut:  994_005,
		Deadline:      1_700_000_060,
		Nonce:         7,
	}

	a, err := s.SignLegOrder(order)
	if err != nil {
		t.Fatalf("SignLegOrder: %v", err)
	}
	b, err := s.SignLegOrder(order)
	if err != nil {
		t.Fatalf("SignLegOrder: %v", err)
	}
	if a != b {
		t.Fatal("identical payloads must sign identically")
	}

	order.Nonce++
	c, err := s.SignLegOrder(order)
	if err != nil {
		t.Fatalf("SignLegOrder: %v", err)
	}
	if a == c {
		t.Fatal("different nonces must sign differently")
	}
}

func TestSignLegOrderRejectsBadAmounts(t *testing.T) {
	s := testSigner(t)
	if _, err := s.SignLegOrder(LegOrderPayload{Venue: "v1", AmountIn: 0}); err == nil {
		t.Fatal("expected error for zero amount")
	}
}
