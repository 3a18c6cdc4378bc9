package cryptox

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/otpkeeper/internal/common"
)

const documentVersion = 1

// Document is a password-protected envelope. Only a holder of the password
// can open it, and it only opens for the owner it was sealed for.
type Document struct {
	Version    int    `json:"v"`
	Owner      string `json:"owner"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ct"`
}

// SealDocument encrypts payload under a key derived from password and binds
// it to owner.
func SealDocument(payload any, password, owner string) (*Document, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: empty password", common.ErrEncryptionFailure)
	}

	salt := common.GenerateRandByteArray(saltLen)
	key := DeriveKey([]byte(password), salt)
	defer common.WipeByteArray(key)

	ct, nonce, err := EncryptEntry(payload, key, []byte(owner))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryptionFailure, err)
	}

	return &Document{
		Version:    documentVersion,
		Owner:      owner,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ct,
	}, nil
}

// OpenDocument decrypts doc into v. A wrong password or owner yields an
// error wrapping common.ErrEncryptionFailure.
func OpenDocument(doc *Document, password, owner string, v any) error {
	if doc == nil || doc.Version != documentVersion {
		return fmt.Errorf("%w: unsupported document", common.ErrEncryptionFailure)
	}
	if doc.Owner != owner {
		return fmt.Errorf("%w: owner mismatch", common.ErrEncryptionFailure)
	}

	key := DeriveKey([]byte(password), doc.Salt)
	defer common.WipeByteArray(key)

	if err := DecryptEntry(doc.Ciphertext, doc.Nonce, key, []byte(owner), v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncryptionFailure, err)
	}
	return nil
}

func (d *Document) Marshal() ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryptionFailure, err)
	}
	return b, nil
}

func ParseDocument(b []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryptionFailure, err)
	}
	return &d, nil
}
