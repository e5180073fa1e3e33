package store

import (
	"strings"
	"time"

	"github.com/vitaminmoo/vsp-ota/internal/protocol"
)

// Metadata describes a stored application image.
type Metadata struct {
	ContentHash string    `json:"content_hash"`
	Size        int       `json:"size"`
	CRC         string    `json:"crc"` // module CRC-16, as reported by at i 0xc12c
	Target      string    `json:"target"`
	Device      string    `json:"device,omitempty"`
	HashA       string    `json:"xcompiler_hash_a,omitempty"`
	HashB       string    `json:"xcompiler_hash_b,omitempty"`
	Compiled    bool      `json:"compiled"`
	Sources     []Source  `json:"sources"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Source records where an image was obtained from.
type Source struct {
	Origin    string    `json:"origin"` // local filename or URL
	Method    string    `json:"method"` // "xcompile", "download", "import"
	Timestamp time.Time `json:"timestamp"`
}

// Methods recorded in Source.
const (
	MethodXCompile = "xcompile"
	MethodDownload = "download"
	MethodImport   = "import"
)

// Image is what gets imported: the bytes plus what is known about them.
type Image struct {
	Data     []byte
	Target   string
	Origin   string
	Device   string
	Hashes   protocol.XCompilerHashes
	Compiled bool
}

// Method reports how the image was obtained.
func (img Image) Method() string {
	switch {
	case img.Compiled:
		return MethodXCompile
	case strings.Contains(img.Origin, "://"):
		return MethodDownload
	default:
		return MethodImport
	}
}

// ExtractMetadata builds the metadata of a new image.
func ExtractMetadata(img Image, hash string, now time.Time) *Metadata {
	target := img.Target
	if target == "" {
		target = targetFromOrigin(img.Origin)
	}
	return &Metadata{
		ContentHash: hash,
		Size:        len(img.Data),
		CRC:         protocol.ChecksumHex(img.Data),
		Target:      target,
		Device:      img.Device,
		HashA:       img.Hashes.A,
		HashB:       img.Hashes.B,
		Compiled:    img.Compiled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func targetFromOrigin(origin string) string {
	origin, _, _ = strings.Cut(origin, "?")
	return protocol.TargetName(origin)
}
