package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// MaxImageBytes bounds a decoded evidence image.
const MaxImageBytes = 10 << 20

var (
	ErrNotImage      = errors.New("data URL must contain an image")
	ErrImageTooLarge = fmt.Errorf("image must be at most %d bytes", MaxImageBytes)
	ErrMalformedData = errors.New("malformed data URL")
)

var extensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/heic":    ".heic",
	"image/svg+xml": ".svg",
}

type Image struct {
	ContentType string
	Data        []byte
}

func (i Image) Extension() string {
	if ext, ok := extensions[i.ContentType]; ok {
		return ext
	}
	return ".bin"
}

// IsDataURL reports whether value is an inline data: URL.
func IsDataURL(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "data:")
}

// ParseDataURL decodes data:image/<type>;base64,<payload>.
func ParseDataURL(value string) (Image, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "data:") {
		return Image{}, ErrMalformedData
	}
	header, payload, found := strings.Cut(strings.TrimPrefix(value, "data:"), ",")
	if !found {
		return Image{}, ErrMalformedData
	}

	params := strings.Split(header, ";")
	contentType := strings.ToLower(strings.TrimSpace(params[0]))
	if !strings.HasPrefix(contentType, "image/") {
		return Image{}, ErrNotImage
	}
	isBase64 := false
	for _, param := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(param), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return Image{}, ErrMalformedData
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxImageBytes+3 {
		return Image{}, ErrImageTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if len(data) == 0 {
		return Image{}, ErrMalformedData
	}
	if len(data) > MaxImageBytes {
		return Image{}, ErrImageTooLarge
	}
	return Image{ContentType: contentType, Data: data}, nil
}
