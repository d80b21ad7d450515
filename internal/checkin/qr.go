package checkin

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

const defaultQRSize = 256

// RenderQR encodes a reservation's QR token as a PNG image of size pixels.
func RenderQR(token string, size int) ([]byte, error) {
	if token == "" {
		return nil, fmt.Errorf("empty qr token")
	}
	if size <= 0 {
		size = defaultQRSize
	}
	png, err := qrcode.Encode(token, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
