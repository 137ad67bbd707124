package account

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// ShareURI returns what a peer needs to reach the account: its registered
// name when it has one, its URI otherwise.
func (c *Cache) ShareURI(accountID string) (string, error) {
	a, ok := c.Get(accountID)
	if !ok {
		return "", fmt.Errorf("share %q: %w", accountID, ErrUnknownAccount)
	}
	if a.RegisteredName != "" {
		return a.RegisteredName, nil
	}
	return a.URI(), nil
}

// ShareQR encodes the account URI as a PNG QR code of size pixels.
func (c *Cache) ShareQR(accountID string, size int) ([]byte, error) {
	a, ok := c.Get(accountID)
	if !ok {
		return nil, fmt.Errorf("share %q: %w", accountID, ErrUnknownAccount)
	}
	png, err := qrcode.Encode(a.URI(), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// RenderQR converts a string to a compact text QR code using Unicode
// half-block characters. Two bitmap rows become one terminal line.
func RenderQR(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	bitmap := qr.Bitmap()

	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		sb.WriteString("  ")
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bot := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String(), nil
}
