package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Pre-computed keccak256 of the canonical EIP-712 type strings the gateway
// accepts.
var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// GatewayAuth(address account,uint256 timestamp,uint256 nonce)
	gatewayAuthTypeHash = ethcrypto.Keccak256(
		[]byte("GatewayAuth(address account,uint256 timestamp,uint256 nonce)"),
	)

	// LegOrder(address maker,string venue,string instrumentIn,string instrumentOut,uint256 amountIn,uint256 minAmountOut,uint256 deadline,uint256 nonce)
	legOrderTypeHash = ethcrypto.Keccak256(
		[]byte("LegOrder(address maker,string venue,string instrumentIn,string instrumentOut,uint256 amountIn,uint256 minAmountOut,uint256 deadline,uint256 nonce)"),
	)
)

// LegOrderPayload is the signed body of a leg execution request to the venue
// gateway. Amounts are base units; Deadline is a Unix timestamp after which
// the gateway must reject the order.
type LegOrderPayload struct {
	Venue         string `json:"venue"`
	InstrumentIn  string `json:"instrumentIn"`
	InstrumentOut string `json:"instrumentOut"`
	AmountIn      int64  `json:"amountIn"`
	MinAmountOut  int64  `json:"minAmountOut"`
	Deadline      int64  `json:"deadline"`
	Nonce         int64  `json:"nonce"`
}

// Signer provides EIP-712 signing for venue gateway requests.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and the
// gateway's chain id.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	s.domainSep = buildDomainSeparator("FlashArbGateway", "1", chainID)
	return s, nil
}

// Address returns the Ethereum address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuth signs the GatewayAuth handshake message used to establish a
// session with the gateway. The result is a hex-encoded 65-byte signature.
func (s *Signer) SignAuth(timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			gatewayAuthTypeHash,
			common.LeftPadBytes(s.address.Bytes(), 32),
			bigIntTo32Bytes(big.NewInt(timestamp)),
			bigIntTo32Bytes(big.NewInt(nonce)),
		),
	)
	return s.signDigest(eip712Hash(s.domainSep, structHash))
}

// SignLegOrder signs a leg execution request. The maker address is always the
// signer's own address.
func (s *Signer) SignLegOrder(order LegOrderPayload) (string, error) {
	if order.AmountIn <= 0 || order.MinAmountOut < 0 {
		return "", fmt.Errorf("crypto/signer: invalid amounts in=%d minOut=%d", order.AmountIn, order.MinAmountOut)
	}
	structHash := ethcrypto.Keccak256(
		concatBytes(
			legOrderTypeHash,
			common.LeftPadBytes(s.address.Bytes(), 32),
			ethcrypto.Keccak256([]byte(order.Venue)),
			ethcrypto.Keccak256([]byte(order.InstrumentIn)),
			ethcrypto.Keccak256([]byte(order.InstrumentOut)),
			bigIntTo32Bytes(big.NewInt(order.AmountIn)),
			bigIntTo32Bytes(big.NewInt(order.MinAmountOut)),
			bigIntTo32Bytes(big.NewInt(order.Deadline)),
			bigIntTo32Bytes(big.NewInt(order.Nonce)),
		),
	)
	return s.signDigest(eip712Hash(s.domainSep, structHash))
}

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash,
// versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// eip712Hash computes the final digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest with secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
