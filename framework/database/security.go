package database

import (
	"crypto/aes"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// DecodePassword decrypts a base64 encoded AES-ECB ciphertext with secretKey.
// The key must be 16, 24 or 32 bytes. Padding spaces are trimmed.
func DecodePassword(encoded, secretKey string) (string, error) {
	block, err := aes.NewCipher([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: password is not base64: %v", ErrInvalidArgument, err)
	}
	size := block.BlockSize()
	if len(data) == 0 || len(data)%size != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrInvalidArgument)
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += size {
		block.Decrypt(out[i:i+size], data[i:i+size])
	}
	return strings.TrimSpace(strings.TrimRight(string(out), "\x00")), nil
}

// minPlainLen is the width passwords are right-justified to before encryption
const minPlainLen = 32

// EncodePassword AES-ECB encrypts password with secretKey. The password is
// left-padded with spaces to 32 bytes, or to the next block boundary when longer.
func EncodePassword(password, secretKey string) (string, error) {
	block, err := aes.NewCipher([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	size := block.BlockSize()
	width := max(minPlainLen, (len(password)+size-1)/size*size)
	plain := []byte(strings.Repeat(" ", width-len(password)) + password)
	out := make([]byte, len(plain))
	for i := 0; i < len(plain); i += size {
		block.Encrypt(out[i:i+size], plain[i:i+size])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// QuotePassword escapes a password for use inside a connection URL
func QuotePassword(password string) string {
	return url.QueryEscape(password)
}
