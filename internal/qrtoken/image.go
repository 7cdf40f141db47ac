package qrtoken

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// ImageSize is the side length of rendered QR images in pixels.
const ImageSize = 512

// RenderPNG encodes the serialized token as a QR code PNG.
func RenderPNG(serialized string) ([]byte, error) {
	png, err := qrcode.Encode(serialized, qrcode.Low, ImageSize)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
