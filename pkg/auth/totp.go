package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// TOTP parameters
	totpDigits = otp.DigitsSix
	totpPeriod = 30
	totpWindow = 1 // Allow ±30 seconds clock drift
)

// TOTPVerifier validates time-based one-time codes. When an encryption key
// is set, stored secrets are AES-256-GCM ciphertext and are decrypted first.
type TOTPVerifier struct {
	encryptionKey []byte
	now           func() time.Time
}

// NewTOTPVerifier creates a verifier. encryptionKey may be nil when secrets
// are stored as plain base32.
func NewTOTPVerifier(encryptionKey []byte) *TOTPVerifier {
	return &TOTPVerifier{
		encryptionKey: encryptionKey,
		now:           time.Now,
	}
}

// Verify reports whether code is valid for secret. Empty or undecryptable
// secrets never verify.
func (v *TOTPVerifier) Verify(code, secret string) bool {
	if code == "" || secret == "" {
		return false
	}

	if len(v.encryptionKey) > 0 {
		plain, err := v.decryptSecret(secret)
		if err != nil {
			return false
		}
		secret = plain
	}

	valid, err := totp.ValidateCustom(code, secret, v.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpWindow,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return valid
}

// decryptSecret decrypts an encrypted secret using AES-256-GCM
func (v *TOTPVerifier) decryptSecret(encrypted string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(v.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
