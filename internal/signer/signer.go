package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs CTF exchange orders for one bot key. The domain separator
// is pre-calculated so the hot signing path is a single hash + ECDSA sign.
type Signer struct {
	key             *ecdsa.PrivateKey
	address         common.Address
	chainID         *big.Int
	domainSeparator common.Hash
}

func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}

	publicKey, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}
	address := crypto.PubkeyToAddress(*publicKey)

	// domainSeparator = keccak256(abi.encode(typeHash, nameHash, versionHash, chainId, verifyingContract))
	domainNameHash := crypto.Keccak256Hash([]byte(EIP712DomainName))
	versionHash := crypto.Keccak256Hash([]byte(EIP712DomainVersion))

	domainData := make([]byte, 32*5)
	copy(domainData[0:32], EIP712DomainTypeHash.Bytes())
	copy(domainData[32:64], domainNameHash.Bytes())
	copy(domainData[64:96], versionHash.Bytes())
	copy(domainData[96:128], math.U256Bytes(big.NewInt(chainID)))
	verifyingAddr := common.HexToAddress(ExchangeContractAddress)
	copy(domainData[128+12:160], verifyingAddr.Bytes())

	return &Signer{
		key:             key,
		address:         address,
		chainID:         big.NewInt(chainID),
		domainSeparator: crypto.Keccak256Hash(domainData),
	}, nil
}

// SignOrder calculates the EIP-712 hash and signs it.
func (s *Signer) SignOrder(order *Order) (string, error) {
	hashStruct, err := s.hashOrder(order)
	if err != nil {
		return "", err
	}

	// EIP-191: keccak256("\x19\x01" || domainSeparator || hashStruct)
	finalHash := crypto.Keccak256([]byte{0x19, 0x01}, s.domainSeparator.Bytes(), hashStruct)

	signature, err := crypto.Sign(finalHash, s.key)
	if err != nil {
		return "", err
	}

	// geth produces V as 0/1; the exchange expects 27/28.
	if signature[64] < 27 {
		signature[64] += 27
	}

	return "0x" + common.Bytes2Hex(signature), nil
}

// hashOrder calculates hashStruct(order): keccak256(abi.encode(typeHash, fields...))
func (s *Signer) hashOrder(order *Order) ([]byte, error) {
	// 12 fields + typeHash, 32 bytes each
	data := make([]byte, 32*13)

	copy(data[0:32], OrderTypeHash.Bytes())
	if order.Salt != nil {
		copy(data[32:64], math.U256Bytes(order.Salt))
	}
	copy(data[64+12:96], order.Maker.Bytes())
	copy(data[96+12:128], order.Signer.Bytes())
	copy(data[128+12:160], order.Taker.Bytes())
	if order.TokenID != nil {
		copy(data[160:192], math.U256Bytes(order.TokenID))
	}
	if order.MakerAmount != nil {
		copy(data[192:224], math.U256Bytes(order.MakerAmount))
	}
	if order.TakerAmount != nil {
		copy(data[224:256], math.U256Bytes(order.TakerAmount))
	}
	if order.Expiration != nil {
		copy(data[256:288], math.U256Bytes(order.Expiration))
	}
	if order.Nonce != nil {
		copy(data[288:320], math.U256Bytes(order.Nonce))
	}
	if order.FeeRateBps != nil {
		copy(data[320:352], math.U256Bytes(order.FeeRateBps))
	}
	copy(data[352:384], math.U256Bytes(big.NewInt(int64(order.Side))))
	copy(data[384:416], math.U256Bytes(big.NewInt(int64(order.SignatureType))))

	return crypto.Keccak256(data), nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}
