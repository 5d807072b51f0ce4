// Package ed25519 implements the key pairs that identify and sign the logs.
//
// The signatures are created with the Schnorr algorithm over the Edwards 25519
// curve. A signer can be derived deterministically from a seed so that a set of
// logs can be re-created from a single primary key.
package ed25519

import (
	"bytes"
	"encoding/hex"

	"go.dedis.ch/hyperlog/crypto"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/suites"
	"golang.org/x/xerrors"
)

const (
	// PublicKeySize is the size in bytes of a marshaled public key.
	PublicKeySize = 32

	// SignatureSize is the size in bytes of a marshaled signature.
	SignatureSize = 64

	// discoveryMsg is hashed with the public key as the key of the hash to
	// produce the discovery key.
	discoveryMsg = "hypercore"
)

var suite = suites.MustFind("Ed25519")

// PublicKey identifies a log.
//
// - implements crypto.PublicKey
type PublicKey struct {
	point kyber.Point
}

// NewPublicKey returns the public key of the marshaled point.
func NewPublicKey(data []byte) (PublicKey, error) {
	if len(data) != PublicKeySize {
		return PublicKey{}, xerrors.Errorf("invalid key size %d", len(data))
	}

	point := suite.Point()
	err := point.UnmarshalBinary(data)
	if err != nil {
		return PublicKey{}, xerrors.Errorf("couldn't unmarshal point: %v", err)
	}

	return PublicKey{point: point}, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (pk PublicKey) MarshalBinary() ([]byte, error) {
	return pk.point.MarshalBinary()
}

// MarshalText implements encoding.TextMarshaler. The key is written in
// hexadecimal.
func (pk PublicKey) MarshalText() ([]byte, error) {
	data, err := pk.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal: %v", err)
	}

	return []byte(hex.EncodeToString(data)), nil
}

// Verify implements crypto.PublicKey. It returns nil if the signature matches
// the message for this public key.
func (pk PublicKey) Verify(msg []byte, sig crypto.Signature) error {
	signature, ok := sig.(Signature)
	if !ok {
		return xerrors.Errorf("invalid signature type '%T'", sig)
	}

	if len(signature.data) != SignatureSize {
		return xerrors.Errorf("invalid signature size %d", len(signature.data))
	}

	err := schnorr.Verify(suite, pk.point, msg, signature.data)
	if err != nil {
		return xerrors.Errorf("schnorr verify failed: %v", err)
	}

	return nil
}

// Equal implements crypto.PublicKey.
func (pk PublicKey) Equal(other interface{}) bool {
	pubkey, ok := other.(PublicKey)
	if !ok {
		return false
	}

	return pubkey.point.Equal(pk.point)
}

// String implements fmt.Stringer. Only the first bytes of the key are printed.
func (pk PublicKey) String() string {
	text, err := pk.MarshalText()
	if err != nil {
		return "malformed"
	}

	return string(text[:16])
}

// DiscoveryKey returns the BLAKE2b-256 digest of a fixed message keyed with
// the public key. It identifies the log without revealing the key.
func DiscoveryKey(pk crypto.PublicKey) ([]byte, error) {
	data, err := pk.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal public key: %v", err)
	}

	digest, err := crypto.KeyedHash(data, []byte(discoveryMsg))
	if err != nil {
		return nil, xerrors.Errorf("couldn't hash: %v", err)
	}

	return digest, nil
}

// Signature is a Schnorr signature of a tree state.
//
// - implements crypto.Signature
type Signature struct {
	data []byte
}

// NewSignature returns a new signature from the data.
func NewSignature(data []byte) Signature {
	return Signature{data: data}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (sig Signature) MarshalBinary() ([]byte, error) {
	return sig.data, nil
}

// Equal implements crypto.Signature.
func (sig Signature) Equal(other crypto.Signature) bool {
	otherSig, ok := other.(Signature)
	if !ok {
		return false
	}

	return bytes.Equal(sig.data, otherSig.data)
}

// Signer holds the secret key of a writable log.
//
// - implements crypto.Signer
type Signer struct {
	private kyber.Scalar
	public  kyber.Point
}

// NewSigner returns a new random signer.
func NewSigner() Signer {
	return newSigner(suite.Scalar().Pick(suite.RandomStream()))
}

// NewSignerFromSeed returns a signer whose secret key is derived from the
// seed. The same seed always produces the same key pair.
func NewSignerFromSeed(seed []byte) Signer {
	return newSigner(suite.Scalar().Pick(suite.XOF(seed)))
}

// NewSignerFromBytes returns a signer from a marshaled secret key.
func NewSignerFromBytes(data []byte) (Signer, error) {
	private := suite.Scalar()
	err := private.UnmarshalBinary(data)
	if err != nil {
		return Signer{}, xerrors.Errorf("couldn't unmarshal scalar: %v", err)
	}

	return newSigner(private), nil
}

func newSigner(private kyber.Scalar) Signer {
	return Signer{
		private: private,
		public:  suite.Point().Mul(private, nil),
	}
}

// GetPublicKey implements crypto.Signer.
func (s Signer) GetPublicKey() crypto.PublicKey {
	return PublicKey{point: s.public}
}

// MarshalBinary implements encoding.BinaryMarshaler. It returns the secret
// key of the signer.
func (s Signer) MarshalBinary() ([]byte, error) {
	return s.private.MarshalBinary()
}

// Sign implements crypto.Signer.
func (s Signer) Sign(msg []byte) (crypto.Signature, error) {
	sig, err := schnorr.Sign(suite, s.private, msg)
	if err != nil {
		return nil, xerrors.Errorf("couldn't make schnorr signature: %v", err)
	}

	return Signature{data: sig}, nil
}
