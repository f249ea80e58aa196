package login

import (
	"bytes"
	"crypto/aes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Cipher protects credential fields before they leave the browser.
type Cipher interface {
	Encrypt(plain string) (string, error)
}

// fiberhomeKey is the key baked into the firmware; only the first 16 bytes
// are used.
var fiberhomeKey = []byte("mC8eC0cUc/mC8eC0c=")[:16]

// FiberhomeCipher is AES-128 in ECB mode with PKCS#7 padding, hex encoded.
// The same scheme protects the Wi-Fi credentials the device reports, which
// is what Decrypt is for.
type FiberhomeCipher struct{}

func (FiberhomeCipher) Encrypt(plain string) (string, error) {
	block, err := aes.NewCipher(fiberhomeKey)
	if err != nil {
		return "", err
	}
	data := pkcs7Pad([]byte(plain), aes.BlockSize)
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}
	return hex.EncodeToString(out), nil
}

func (FiberhomeCipher) Decrypt(encoded string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("decode hex: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", errors.New("ciphertext is not a whole number of blocks")
	}
	block, err := aes.NewCipher(fiberhomeKey)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i += aes.BlockSize {
		block.Decrypt(out[i:i+aes.BlockSize], raw[i:i+aes.BlockSize])
	}
	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(plain), "\x00"), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("bad padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("bad padding")
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, errors.New("bad padding")
		}
	}
	return b[:len(b)-n], nil
}
