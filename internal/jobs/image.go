package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ImageFromFile reads a reference image. The suffix is the file's
// lowercased extension.
func ImageFromFile(path string) (Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" || ext == "." {
		return Image{}, fmt.Errorf("image %s has no file extension", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("reading image: %w", err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("image %s is empty", path)
	}
	return Image{Suffix: ext, Data: data}, nil
}
