// Package paillier implements the additively homomorphic arithmetic the map
// server performs on stored values.
//
// The server only ever holds the public modulus n of a map, so keys are built
// with s = 1 and no threshold material: encryption and addition only need n.
package paillier

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/niclabs/tcpaillier"
)

var one = big.NewInt(1)

// ErrInvalidModulus is returned for a modulus that cannot be a Paillier n.
var ErrInvalidModulus = errors.New("invalid paillier modulus")

// ErrInvalidCiphertext is returned for values outside Z*_{n^2}.
var ErrInvalidCiphertext = errors.New("ciphertext out of range")

// PublicKey is the public half of a map key.
type PublicKey struct {
	N        *big.Int
	pub      *tcpaillier.PubKey
	nSquared *big.Int
}

// NewPublicKey validates n and wraps it in a key usable for encryption and
// homomorphic addition.
func NewPublicKey(n *big.Int) (*PublicKey, error) {
	if n == nil || n.Sign() <= 0 || n.Bit(0) == 0 || n.BitLen() < 16 {
		return nil, ErrInvalidModulus
	}
	return wrap(&tcpaillier.PubKey{N: new(big.Int).Set(n), S: 1}), nil
}

// wrap fills the precomputed values of pub once so that the key can be shared
// between goroutines.
func wrap(pub *tcpaillier.PubKey) *PublicKey {
	cache := pub.Cache()
	return &PublicKey{N: pub.N, pub: pub, nSquared: cache.NToSPlusOne}
}

// Validate checks that c is a unit of Z_{n^2}.
func (pk *PublicKey) Validate(c *big.Int) error {
	if c == nil || c.Cmp(one) < 0 || c.Cmp(pk.nSquared) >= 0 {
		return ErrInvalidCiphertext
	}
	if new(big.Int).GCD(nil, nil, c, pk.nSquared).Cmp(one) != 0 {
		return fmt.Errorf("%w: not invertible mod n^2", ErrInvalidCiphertext)
	}
	return nil
}

// Encrypt encrypts m, negative values being represented modulo n.
func (pk *PublicKey) Encrypt(m *big.Int) (*big.Int, error) {
	c, _, err := pk.pub.Encrypt(new(big.Int).Mod(m, pk.N))
	if err != nil {
		return nil, fmt.Errorf("paillier encryption: %w", err)
	}
	return c, nil
}

// AddPlain returns a ciphertext of Dec(c) + k mod n. Negative k subtracts.
// The shift is encrypted with the fixed blinding factor 1.
func (pk *PublicKey) AddPlain(c *big.Int, k int64) (*big.Int, error) {
	shift, err := pk.pub.EncryptFixed(new(big.Int).Mod(big.NewInt(k), pk.N), one)
	if err != nil {
		return nil, err
	}
	return pk.Add(c, shift)
}

// Add returns a ciphertext of the sum of the plaintexts of cs.
func (pk *PublicKey) Add(cs ...*big.Int) (*big.Int, error) {
	for _, c := range cs {
		if err := pk.Validate(c); err != nil {
			return nil, err
		}
	}
	sum, err := pk.pub.Add(cs...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return sum, nil
}
