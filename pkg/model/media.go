package model

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
	"time"
)

// Format is an image container format sniffed from content
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatWebP    Format = "webp"
	FormatUnknown Format = ""
)

// Ext returns the file extension used for stored blobs
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatUnknown:
		return "bin"
	default:
		return string(f)
	}
}

// MIMEType returns the media type of the format
func (f Format) MIMEType() string {
	switch f {
	case FormatJPEG, FormatPNG, FormatGIF, FormatWebP:
		return "image/" + string(f)
	default:
		return "application/octet-stream"
	}
}

// FormatFromExt maps a blob extension back to its format
func FormatFromExt(ext string) Format {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "gif":
		return FormatGIF
	case "webp":
		return FormatWebP
	default:
		return FormatUnknown
	}
}

// ContentHash returns the hex encoded sha256 of data
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BlobKey returns the content-derived storage key of a blob in a category
func BlobKey(category Category, hash string, format Format) string {
	return path.Join(string(category), hash+"."+format.Ext())
}

// ParseBlobKey splits a storage key into category, hash and format
func ParseBlobKey(key string) (Category, string, Format, bool) {
	dir, file := path.Split(key)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" || strings.Contains(dir, "/") {
		return "", "", FormatUnknown, false
	}
	ext := path.Ext(file)
	hash := strings.TrimSuffix(file, ext)
	if hash == "" || ext == "" {
		return "", "", FormatUnknown, false
	}
	return Category(dir), hash, FormatFromExt(ext), true
}

// MediaReference identifies one stored blob. It is never modified after admission.
type MediaReference struct {
	Category Category  `json:"category" firestore:"category"`
	Key      string    `json:"key" firestore:"key"`
	Hash     string    `json:"hash" firestore:"hash"`
	Format   Format    `json:"format" firestore:"format"`
	Seq      int64     `json:"seq" firestore:"seq"`
	Size     int64     `json:"size" firestore:"size"`
	Source   string    `json:"source,omitempty" firestore:"source,omitempty"`
	AddedAt  time.Time `json:"added_at" firestore:"added_at"`
}

// Name returns the file name part of the storage key
func (r *MediaReference) Name() string {
	return path.Base(r.Key)
}
