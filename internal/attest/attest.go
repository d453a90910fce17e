// Package attest signs transaction hashes so clients can check that a
// receipt was produced by this node.
package attest

import (
	"crypto/ed25519"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// PublicKeySize is the size of a compressed public key in bytes.
	PublicKeySize = 48

	// SignatureSize is the size of a compressed signature in bytes.
	SignatureSize = 96
)

// dst is the domain separation tag of receipt signatures.
var dst = []byte("NFTFORGE_RECEIPT_BLS12381G2_XMD:SHA-256_SSWU_RO_")

// Key signs receipts.
type Key struct {
	secret *blst.SecretKey
	public *blst.P1Affine
}

// FromED25519 derives the receipt key bound to a node identity key.
func FromED25519(priv ed25519.PrivateKey) (*Key, error) {
	h := blake3.New()
	h.Write([]byte("nftforge-receipt-keygen"))
	h.Write(priv.Seed())

	var seed [32]byte
	h.Sum(seed[:0])

	return FromSeed(seed[:])
}

// FromSeed creates a key from at least 32 bytes of seed.
func FromSeed(seed []byte) (*Key, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate receipt key")
	}

	return &Key{secret: secret, public: new(blst.P1Affine).From(secret)}, nil
}

// Sign returns the compressed signature of msg.
func (k *Key) Sign(msg []byte) []byte {
	return new(blst.P2Affine).Sign(k.secret, msg, dst).Compress()
}

// PublicKey returns the compressed public key.
func (k *Key) PublicKey() []byte {
	return k.public.Compress()
}

// Verify checks a signature produced by Sign.
func Verify(sig, msg, publicKey []byte) bool {
	if len(sig) != SignatureSize || len(publicKey) != PublicKeySize {
		return false
	}

	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return s.Verify(true, pk, true, msg, dst)
}
