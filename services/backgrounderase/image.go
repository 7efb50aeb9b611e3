package backgrounderase

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const defaultContentType = "application/octet-stream"

var contentTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"heic": "image/heic",
	"heif": "image/heif",
}

// Image is a single file part of an erase request.
type Image struct {
	FileName    string
	ContentType string
	Data        []byte
}

// FileName returns the last segment of path. Both slash and backslash count
// as separators so Windows paths resolve the same on every platform.
func FileName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ContentTypeFor maps the extension of path to the MIME type sent for the
// image part. Unknown or missing extensions map to application/octet-stream.
func ContentTypeFor(path string) string {
	name := FileName(path)
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 {
		return defaultContentType
	}
	if ct, ok := contentTypes[strings.ToLower(name[dot+1:])]; ok {
		return ct
	}
	return defaultContentType
}

// LoadImage reads the file at path in full.
func LoadImage(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Image{}, &PreconditionError{Err: fmt.Errorf("%w: %s", ErrSourceNotFound, path)}
		}
		return Image{}, &PreconditionError{Reason: "read source", Err: err}
	}
	return Image{
		FileName:    FileName(path),
		ContentType: ContentTypeFor(path),
		Data:        data,
	}, nil
}
