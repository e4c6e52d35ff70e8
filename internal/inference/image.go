package inference

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// imageMediaTypes maps screen image file extensions to their MIME types.
var imageMediaTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// SupportedImage reports whether path has a recognized screen image extension.
func SupportedImage(path string) bool {
	_, ok := imageMediaTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}

// encodeImage reads the image at path and returns its media type and
// base64-encoded contents.
func encodeImage(path string) (mediaType, data string, err error) {
	mediaType, ok := imageMediaTypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", "", fmt.Errorf("unsupported image type: %s", filepath.Ext(path))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("reading image: %w", err)
	}

	return mediaType, base64.StdEncoding.EncodeToString(raw), nil
}
