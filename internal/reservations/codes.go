package reservations

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// Uppercase letters and digits without 0/O and 1/I.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 8

// NewConfirmationCode returns a short code a guest can read out to staff.
func NewConfirmationCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate confirmation code: %w", err)
	}
	for i, b := range buf {
		// 256 is a multiple of 32, so this is unbiased.
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// NewQRToken returns the opaque token encoded in the guest's QR code.
func NewQRToken() string {
	return uuid.NewString()
}
