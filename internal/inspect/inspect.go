// Package inspect classifies files by their leading bytes.
package inspect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/h2non/filetype"

	"github.com/starford/ordo/internal/apperr"
	"github.com/starford/ordo/internal/models"
)

// PrefixSize is the number of leading bytes read for classification.
const PrefixSize = 8 << 10

const octetStream = "application/octet-stream"

// Inspector classifies file content. It is safe for concurrent use.
type Inspector struct {
	prefixSize int
}

// New returns an Inspector reading PrefixSize bytes per file.
func New() *Inspector {
	return &Inspector{prefixSize: PrefixSize}
}

// Inspect classifies c, reading its prefix on first use and caching the result
// on the candidate. Read failures are IO errors scoped to the candidate.
func (i *Inspector) Inspect(c *models.Candidate) (models.Classification, error) {
	if cl := c.Classification(); cl != nil {
		return *cl, nil
	}
	prefix, err := i.readPrefix(c.Path)
	if err != nil {
		return models.Classification{}, apperr.New(apperr.KindIO, "inspect", c.Path, err)
	}
	cl := i.Classify(prefix, c.Name())
	if err := c.SetClassification(cl); err != nil {
		return models.Classification{}, err
	}
	return cl, nil
}

func (i *Inspector) readPrefix(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, i.prefixSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read prefix: %w", err)
	}
	return buf[:n], nil
}

// Classify maps a content prefix to a classification. The signature table is
// consulted first, then the filetype library, then the file extension, then a
// text heuristic. It never fails: unrecognised content is KindUnknown.
func (i *Inspector) Classify(prefix []byte, name string) models.Classification {
	if s, ok := matchSignature(prefix); ok {
		return models.Classification{Kind: s.Kind, MIME: s.MIME, Source: "signature"}
	}
	if cl, ok := classifyLibrary(prefix); ok {
		return cl
	}
	if cl, ok := classifyExtension(name); ok {
		return cl
	}
	if looksLikeText(prefix) {
		mime := "text/plain"
		if detected := http.DetectContentType(prefix); strings.HasPrefix(detected, "text/") {
			mime = strings.TrimSpace(strings.Split(detected, ";")[0])
		}
		return models.Classification{Kind: models.KindText, MIME: mime, Source: "text"}
	}
	return models.Classification{Kind: models.KindUnknown, MIME: octetStream, Source: "none"}
}

func classifyLibrary(prefix []byte) (models.Classification, bool) {
	t, err := filetype.Match(prefix)
	if err != nil || t == filetype.Unknown {
		return models.Classification{}, false
	}
	kind := models.KindUnknown
	switch {
	case filetype.IsImage(prefix):
		kind = models.KindImage
	case filetype.IsDocument(prefix):
		kind = models.KindDocument
	case filetype.IsArchive(prefix):
		kind = models.KindArchive
	}
	return models.Classification{Kind: kind, MIME: t.MIME.Value, Source: "library"}, true
}

// looksLikeText accepts empty input, valid UTF-8 without NUL bytes, and
// tolerates a multi-byte rune cut at the end of the prefix.
func looksLikeText(prefix []byte) bool {
	if bytes.IndexByte(prefix, 0) >= 0 {
		return false
	}
	if utf8.Valid(prefix) {
		return true
	}
	trimmed := prefix
	for k := 0; k < utf8.UTFMax-1 && len(trimmed) > 0; k++ {
		trimmed = trimmed[:len(trimmed)-1]
		if utf8.Valid(trimmed) {
			return true
		}
	}
	return false
}
