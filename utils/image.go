package utils

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // Import gif decoder
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ResizeAvatar decodes an uploaded image and returns a center-cropped JPEG of the given size.
func ResizeAvatar(data []byte, width, height int) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unsupported image: %w", err)
	}
	switch format {
	case "jpeg", "png", "gif", "webp":
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}

	thumb := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("failed to encode avatar: %w", err)
	}
	return buf.Bytes(), nil
}
