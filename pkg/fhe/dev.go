package fhe

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cloudflare/circl/hpke"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/chacha20poly1305"
)

// hpkeInfo binds sealed ciphertexts to this backend's reseal context.
var hpkeInfo = []byte("veilswap/reseal/v1")

// DevBackend is a deterministic in-process stand-in for the FHE coprocessor.
// Plaintexts live only inside the backend, encrypted at rest under a
// process-local ChaCha20-Poly1305 key; handles are keccak-derived and carry
// no information about the value. Resealing uses HPKE
// (X25519-HKDF-SHA256 / ChaCha20-Poly1305) so tests and the seal-order CLI
// can round-trip sealed outputs with a real recipient key pair.
type DevBackend struct {
	mu     sync.RWMutex
	seq    uint64
	aead   cipher.AEAD
	values map[Handle][]byte // handle -> sealed 8-byte plaintext
	bools  map[EncBool]bool
}

func NewDevBackend() (*DevBackend, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("fhe: backend key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("fhe: backend aead: %w", err)
	}
	return &DevBackend{
		aead:   aead,
		values: make(map[Handle][]byte),
		bools:  make(map[EncBool]bool),
	}, nil
}

// newHandle derives a fresh handle from a counter and random salt.
// Handles are never reused and never derived from the plaintext.
func (d *DevBackend) newHandle() Handle {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[:8], d.seq)
	d.seq++
	rand.Read(buf[8:])
	return Handle(crypto.Keccak256Hash(buf[:]))
}

func (d *DevBackend) put(value uint64) Handle {
	h := d.newHandle()
	var pt [8]byte
	binary.BigEndian.PutUint64(pt[:], value)
	// Nonce from the handle itself: unique per handle, never rewritten.
	d.values[h] = d.aead.Seal(nil, h[:chacha20poly1305.NonceSize], pt[:], h[:])
	return h
}

func (d *DevBackend) get(h Handle) (uint64, error) {
	blob, ok := d.values[h]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownHandle, h.Hex())
	}
	pt, err := d.aead.Open(nil, h[:chacha20poly1305.NonceSize], blob, h[:])
	if err != nil {
		return 0, fmt.Errorf("fhe: corrupt ciphertext for %s: %w", h.Hex(), err)
	}
	return binary.BigEndian.Uint64(pt), nil
}

func (d *DevBackend) Encrypt(value uint64) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.put(value), nil
}

func (d *DevBackend) Add(a, b Handle) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	va, err := d.get(a)
	if err != nil {
		return Handle{}, err
	}
	vb, err := d.get(b)
	if err != nil {
		return Handle{}, err
	}
	return d.put(va + vb), nil
}

func (d *DevBackend) Sub(a, b Handle) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	va, err := d.get(a)
	if err != nil {
		return Handle{}, err
	}
	vb, err := d.get(b)
	if err != nil {
		return Handle{}, err
	}
	return d.put(va - vb), nil
}

func (d *DevBackend) Gte(a, b Handle) (EncBool, error) {
	return d.compare(a, b, func(x, y uint64) bool { return x >= y })
}

func (d *DevBackend) Lte(a, b Handle) (EncBool, error) {
	return d.compare(a, b, func(x, y uint64) bool { return x <= y })
}

func (d *DevBackend) compare(a, b Handle, pred func(x, y uint64) bool) (EncBool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	va, err := d.get(a)
	if err != nil {
		return EncBool{}, err
	}
	vb, err := d.get(b)
	if err != nil {
		return EncBool{}, err
	}
	eb := EncBool(d.newHandle())
	d.bools[eb] = pred(va, vb)
	return eb, nil
}

func (d *DevBackend) RequireTrue(b EncBool) error {
	d.mu.RLock()
	v, ok := d.bools[b]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, b.Hex())
	}
	if !v {
		return ErrPredicateFalse
	}
	return nil
}

func (d *DevBackend) Reseal(h Handle, recipientPub []byte) ([]byte, error) {
	d.mu.RLock()
	value, err := d.get(h)
	d.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	suite, kem := resealSuite()
	pk, err := kem.Scheme().UnmarshalBinaryPublicKey(recipientPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecipientKey, err)
	}
	sender, err := suite.NewSender(pk, hpkeInfo)
	if err != nil {
		return nil, fmt.Errorf("fhe: hpke sender: %w", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("fhe: hpke setup: %w", err)
	}
	var pt [8]byte
	binary.BigEndian.PutUint64(pt[:], value)
	ct, err := sealer.Seal(pt[:], nil)
	if err != nil {
		return nil, fmt.Errorf("fhe: hpke seal: %w", err)
	}
	// Wire format: encapsulated key || ciphertext.
	return append(enc, ct...), nil
}

// Reveal decrypts a handle inside the backend boundary. Test and devnet
// support only; the core never calls it.
func (d *DevBackend) Reveal(h Handle) (uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.get(h)
}

func resealSuite() (hpke.Suite, hpke.KEM) {
	kem := hpke.KEM_X25519_HKDF_SHA256
	return hpke.NewSuite(kem, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305), kem
}

// GenerateRecipientKey returns a marshaled HPKE key pair for sealing targets.
func GenerateRecipientKey() (pub, priv []byte, err error) {
	_, kem := resealSuite()
	pk, sk, err := kem.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	pub, err = pk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	priv, err = sk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// Unseal opens a sealed ciphertext with the recipient private key.
// Counterpart of Backend.Reseal for clients holding the key.
func Unseal(priv, sealed []byte) (uint64, error) {
	suite, kem := resealSuite()
	sk, err := kem.Scheme().UnmarshalBinaryPrivateKey(priv)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadRecipientKey, err)
	}
	encSize := kem.Scheme().CiphertextSize()
	if len(sealed) < encSize+8 {
		return 0, fmt.Errorf("fhe: sealed payload too short: %d bytes", len(sealed))
	}
	receiver, err := suite.NewReceiver(sk, hpkeInfo)
	if err != nil {
		return 0, fmt.Errorf("fhe: hpke receiver: %w", err)
	}
	opener, err := receiver.Setup(sealed[:encSize])
	if err != nil {
		return 0, fmt.Errorf("fhe: hpke open setup: %w", err)
	}
	pt, err := opener.Open(sealed[encSize:], nil)
	if err != nil {
		return 0, fmt.Errorf("fhe: hpke open: %w", err)
	}
	if len(pt) != 8 {
		return 0, fmt.Errorf("fhe: unexpected plaintext size: %d", len(pt))
	}
	return binary.BigEndian.Uint64(pt), nil
}
