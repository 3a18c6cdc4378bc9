package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	keyLen  = 32
	saltLen = 16
)

// DeriveKey stretches a password into an AES-256 key with argon2id.
func DeriveKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, keyLen)
}

// EncryptEntry serializes entry to JSON and encrypts it with AES-GCM.
// aad is authenticated but not encrypted; pass nil when not needed.
// A fresh random nonce is generated for each call.
func EncryptEntry(entry any, key, aad []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(plaintext)

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	return aesgcm.Seal(nil, nonce, plaintext, aad), nonce, nil
}

// DecryptEntry reverses EncryptEntry and unmarshals the JSON into v.
// The key, nonce and aad must match the ones used for encryption.
func DecryptEntry(ciphertext, nonce, key, aad []byte, v any) error {
	aesgcm, err := newGCM(key)
	if err != nil {
		return err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return fmt.Errorf("bad nonce size %d", len(nonce))
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)

	return json.Unmarshal(plaintext, v)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
