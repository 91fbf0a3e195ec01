// Package qr turns pairing tokens into images a human can scan.
package qr

import (
	"encoding/base64"
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
)

const dataURIPrefix = "data:image/png;base64,"

// EncodeDataURI renders token as a PNG QR code and returns it as a data URI.
func EncodeDataURI(token string, size int) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token de pareamento vazio")
	}
	png, err := qrcode.Encode(token, qrcode.Medium, size)
	if err != nil {
		return "", fmt.Errorf("falha ao gerar QR code PNG: %w", err)
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(png), nil
}

type Encoder struct {
	size     int
	terminal io.Writer
}

// NewEncoder returns an Encoder producing size x size images. When terminal
// is non-nil every encoded token is also drawn there.
func NewEncoder(size int, terminal io.Writer) *Encoder {
	if size <= 0 {
		size = 256
	}
	return &Encoder{size: size, terminal: terminal}
}

func (e *Encoder) Encode(token string) (string, error) {
	uri, err := EncodeDataURI(token, e.size)
	if err != nil {
		return "", err
	}
	if e.terminal != nil {
		qrterminal.GenerateHalfBlock(token, qrterminal.L, e.terminal)
	}
	return uri, nil
}
