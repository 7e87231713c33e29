package transform

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const sessionKeySize = 32

// Encryptor seals payloads for a recipient identified by an X.509
// certificate. Each Encryptor holds one random AES-256 session key; the
// recipient recovers it from EncryptedKey with their private key and then
// opens any payload sealed by this Encryptor.
type Encryptor struct {
	key     []byte
	wrapped []byte
}

// NewEncryptor builds an Encryptor from a PEM-encoded X.509 certificate.
func NewEncryptor(certPEM []byte) (*Encryptor, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("transform: no PEM block in certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("transform: parse certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("transform: certificate holds a %T key, need RSA", cert.PublicKey)
	}

	key := make([]byte, sessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("transform: session key: %w", err)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("transform: wrap session key: %w", err)
	}

	return &Encryptor{key: key, wrapped: wrapped}, nil
}

// NewEncryptorFromURL fetches a PEM-encoded certificate over HTTP and builds
// an Encryptor from it.
func NewEncryptorFromURL(ctx context.Context, url string) (*Encryptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transform: certificate fetch: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transform: certificate fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transform: certificate fetch: unexpected status %d", resp.StatusCode)
	}
	certPEM, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("transform: certificate fetch: %w", err)
	}
	return NewEncryptor(certPEM)
}

// Encrypt seals the payload with AES-256-GCM under the session key. The
// nonce is prepended to the ciphertext.
func (e *Encryptor) Encrypt(data []byte) ([]byte, error) {
	gcm, err := sessionGCM(e.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("transform: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

// EncryptedKey returns the RSA-OAEP-wrapped session key for delivery
// alongside the sealed payloads.
func (e *Encryptor) EncryptedKey() []byte {
	return e.wrapped
}

// UnwrapKey recovers a session key wrapped by an Encryptor.
func UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("transform: unwrap session key: %w", err)
	}
	return key, nil
}

// Decrypt opens a payload sealed by Encrypt, given the unwrapped session key.
func Decrypt(key, data []byte) ([]byte, error) {
	gcm, err := sessionGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, errors.New("transform: ciphertext shorter than nonce")
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("transform: open payload: %w", err)
	}
	return plain, nil
}

func sessionGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("transform: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("transform: cipher: %w", err)
	}
	return gcm, nil
}
