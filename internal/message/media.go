package message

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
)

// WithBase64 returns a copy of img whose payload is base64 text.
func (img Image) WithBase64() Image {
	if img.Source.Base64 != "" {
		return img
	}
	return Image{
		Format: img.Format,
		Source: ImageSource{Base64: base64.StdEncoding.EncodeToString(img.Source.Bytes)},
	}
}

// WithBytes returns a copy of img whose payload is raw bytes.
func (img Image) WithBytes() (Image, error) {
	if len(img.Source.Bytes) > 0 {
		return img, nil
	}
	raw, err := base64.StdEncoding.DecodeString(img.Source.Base64)
	if err != nil {
		return Image{}, fmt.Errorf("decode image: %w", err)
	}
	return Image{Format: img.Format, Source: ImageSource{Bytes: raw}}, nil
}

// ParseDataURI decodes "data:image/<fmt>;base64,<payload>" into an Image.
func ParseDataURI(uri string) (Image, error) {
	header, payload, ok := strings.Cut(uri, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return Image{}, fmt.Errorf("not a data URI")
	}
	mediaType := strings.TrimPrefix(header, "data:")
	mediaType, _, _ = strings.Cut(mediaType, ";")
	format := "png"
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		format = sub
	}
	if format == "jpg" {
		format = "jpeg"
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("decode data URI: %w", err)
	}
	return Image{Format: format, Source: ImageSource{Bytes: raw}}, nil
}

// MIMEFormat maps "image/png" to "png".
func MIMEFormat(mimeType string) string {
	_, sub, ok := strings.Cut(mimeType, "/")
	if !ok || sub == "" {
		return "png"
	}
	if sub == "jpg" {
		return "jpeg"
	}
	return sub
}

var documentFormats = map[string]string{
	"pdf":  "pdf",
	"csv":  "csv",
	"doc":  "doc",
	"docx": "docx",
	"xls":  "xls",
	"xlsx": "xlsx",
	"html": "html",
	"htm":  "html",
	"txt":  "txt",
	"md":   "md",
	"json": "txt",
	"xml":  "txt",
	"py":   "txt",
	"js":   "txt",
	"ts":   "txt",
}

// DocumentFormatForFilename returns the document format for a file name,
// falling back to txt.
func DocumentFormatForFilename(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if f, ok := documentFormats[ext]; ok {
		return f
	}
	return "txt"
}
