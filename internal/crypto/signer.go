package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Receipt domain and type strings. The type hashes are keccak256 of these.
const (
	receiptDomainName    = "TradegatePayment"
	receiptDomainVersion = "1"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	receiptTypeHash = ethcrypto.Keccak256(
		[]byte("Receipt(address payer,address payTo,uint256 amount,uint256 nonce,uint256 issuedAt,bytes32 purpose)"),
	)
)

// ReceiptPayload is the signed body of a compute payment receipt. Amount is
// in the payment asset's base units as a decimal string.
type ReceiptPayload struct {
	PayTo    string
	Amount   string
	Nonce    uint64
	IssuedAt int64
	Purpose  string
}

// Signer signs payment receipts with a secp256k1 key using EIP-712 typed
// data, so the payee can verify them on or off chain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex private key (0x prefix optional) for
// the given chain.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(receiptDomainName, receiptDomainVersion, chainID),
	}, nil
}

// Address returns the payer address derived from the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignReceipt returns the 65-byte hex signature (0x-prefixed, v in {27,28})
// over the receipt digest.
func (s *Signer) SignReceipt(r ReceiptPayload) (string, error) {
	digest, err := receiptDigest(s.domainSep, s.address, r)
	if err != nil {
		return "", err
	}
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: sign receipt: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverReceiptSigner returns the address that produced sig over r on the
// given chain, claiming payer as the signer field of the struct.
func RecoverReceiptSigner(chainID int64, payer common.Address, r ReceiptPayload, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	digest, err := receiptDigest(domainSeparator(receiptDomainName, receiptDomainVersion, chainID), payer, r)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func receiptDigest(domainSep []byte, payer common.Address, r ReceiptPayload) ([]byte, error) {
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("crypto: invalid receipt amount %q", r.Amount)
	}
	if !common.IsHexAddress(r.PayTo) {
		return nil, errors.New("crypto: receipt payTo is not a hex address")
	}
	structHash := ethcrypto.Keccak256(
		receiptTypeHash,
		common.LeftPadBytes(payer.Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(r.PayTo).Bytes(), 32),
		word(amount),
		word(new(big.Int).SetUint64(r.Nonce)),
		word(big.NewInt(r.IssuedAt)),
		ethcrypto.Keccak256([]byte(r.Purpose)),
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash), nil
}

func domainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		word(big.NewInt(chainID)),
	)
}

// word encodes n as a 32-byte big-endian ABI word.
func word(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}
