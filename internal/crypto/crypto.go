package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/gtank/cryptopasta"
)

// Cipher is a hex encoded 32 byte AES-GCM key.
type Cipher string

func NewKey() Cipher {
	return Cipher(hex.EncodeToString(cryptopasta.NewEncryptionKey()[:]))
}

func (c Cipher) Validate() error {
	_, err := c.secureKey()
	return err
}

func (c Cipher) secureKey() (*[32]byte, error) {
	key, err := hex.DecodeString(string(c))
	if err != nil {
		return nil, fmt.Errorf("error decoding key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return (*[32]byte)(key), nil
}

func (c Cipher) Encrypt(value string) (string, error) {
	key, err := c.secureKey()
	if err != nil {
		return "", err
	}

	sealed, err := cryptopasta.Encrypt([]byte(value), key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sealed), nil
}

func (c Cipher) Decrypt(value string) (string, error) {
	key, err := c.secureKey()
	if err != nil {
		return "", err
	}

	sealed, err := hex.DecodeString(value)
	if err != nil {
		return "", err
	}

	plain, err := cryptopasta.Decrypt(sealed, key)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
