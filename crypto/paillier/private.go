package paillier

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/niclabs/tcpaillier"
)

// shares is the number of key shares dealt per key. Both are needed to decrypt.
const shares = 2

// PrivateKey is the producer side of a map key. It is dealt as a two out of two
// threshold key and combined locally on every decryption.
type PrivateKey struct {
	*PublicKey
	shares []*tcpaillier.KeyShare
}

// GenerateKey deals a fresh key with a modulus of the given bit size.
func GenerateKey(bits int) (*PrivateKey, error) {
	keyShares, pub, err := tcpaillier.NewKey(bits, 1, shares, shares)
	if err != nil {
		return nil, fmt.Errorf("generating paillier key: %w", err)
	}
	return &PrivateKey{PublicKey: wrap(pub), shares: keyShares}, nil
}

// Encrypt encrypts m, negative values being represented modulo n.
func (sk *PrivateKey) Encrypt(m int64) (*big.Int, error) {
	return sk.PublicKey.Encrypt(big.NewInt(m))
}

// DecryptBig returns the plaintext of c in [0, n).
func (sk *PrivateKey) DecryptBig(c *big.Int) (*big.Int, error) {
	if err := sk.Validate(c); err != nil {
		return nil, err
	}
	parts := make([]*tcpaillier.DecryptionShare, 0, len(sk.shares))
	for _, share := range sk.shares {
		part, err := share.PartialDecrypt(c)
		if err != nil {
			return nil, fmt.Errorf("partial decryption: %w", err)
		}
		parts = append(parts, part)
	}
	m, err := sk.pub.CombineShares(parts...)
	if err != nil {
		return nil, fmt.Errorf("combining shares: %w", err)
	}
	return m.Mod(m, sk.N), nil
}

// ErrOverflow is returned when a plaintext does not fit a signed 64 bit integer.
var ErrOverflow = errors.New("plaintext does not fit in int64")

// Decrypt returns the plaintext of c as a signed integer: residues above n/2
// are read as negative.
func (sk *PrivateKey) Decrypt(c *big.Int) (int64, error) {
	m, err := sk.DecryptBig(c)
	if err != nil {
		return 0, err
	}
	half := new(big.Int).Rsh(sk.N, 1)
	if m.Cmp(half) > 0 {
		m.Sub(m, sk.N)
	}
	if !m.IsInt64() {
		return 0, ErrOverflow
	}
	return m.Int64(), nil
}
