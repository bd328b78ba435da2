package signer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
)

func testOrder(s *Signer) *Order {
	return &Order{
		Salt:          big.NewInt(123),
		Maker:         s.Address(),
		Signer:        s.Address(),
		Taker:         common.Address{},
		TokenID:       big.NewInt(999),
		MakerAmount:   big.NewInt(1000000),
		TakerAmount:   big.NewInt(500000),
		Expiration:    big.NewInt(1800000000),
		Nonce:         big.NewInt(1),
		FeeRateBps:    big.NewInt(0),
		Side:          0,
		SignatureType: 0,
	}
}

func TestSigner_SignOrder(t *testing.T) {
	key, _ := crypto.GenerateKey()
	keyHex := hexutil.Encode(crypto.FromECDSA(key))[2:]

	signer, err := NewSigner(keyHex, 137)
	assert.NoError(t, err)

	sig, err := signer.SignOrder(testOrder(signer))
	assert.NoError(t, err)
	assert.NotEmpty(t, sig)
	assert.Equal(t, 132, len(sig)) // 0x + 65 bytes * 2
}

func TestSigner_Deterministic(t *testing.T) {
	key, _ := crypto.GenerateKey()
	keyHex := hexutil.Encode(crypto.FromECDSA(key))[2:]

	signer, err := NewSigner(keyHex, 137)
	assert.NoError(t, err)

	a, err := signer.SignOrder(testOrder(signer))
	assert.NoError(t, err)
	b, err := signer.SignOrder(testOrder(signer))
	assert.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNewSigner_InvalidKey(t *testing.T) {
	_, err := NewSigner("", 137)
	assert.Error(t, err)

	_, err = NewSigner("not-a-key", 137)
	assert.Error(t, err)
}

func BenchmarkSignOrder(b *testing.B) {
	key, _ := crypto.GenerateKey()
	keyHex := hexutil.Encode(crypto.FromECDSA(key))[2:]

	signer, _ := NewSigner(keyHex, 137)
	order := testOrder(signer)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = signer.SignOrder(order)
	}
}
