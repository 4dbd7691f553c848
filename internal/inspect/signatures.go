package inspect

import (
	"bytes"
	"sort"

	"github.com/starford/ordo/internal/models"
)

// part is a byte sequence expected at a fixed offset. An offset of -1 means
// "anywhere in the prefix".
type part struct {
	offset int
	magic  []byte
}

// Signature identifies a format by one or more byte parts that must all match.
type Signature struct {
	Name  string
	MIME  string
	Kind  models.Kind
	parts []part
}

func (s Signature) specificity() int {
	n := 0
	for _, p := range s.parts {
		n += len(p.magic)
	}
	return n
}

func (s Signature) match(buf []byte) bool {
	for _, p := range s.parts {
		if p.offset < 0 {
			if !bytes.Contains(buf, p.magic) {
				return false
			}
			continue
		}
		end := p.offset + len(p.magic)
		if len(buf) < end || !bytes.Equal(buf[p.offset:end], p.magic) {
			return false
		}
	}
	return true
}

func sig(name, mime string, kind models.Kind, parts ...part) Signature {
	return Signature{Name: name, MIME: mime, Kind: kind, parts: parts}
}

func at(offset int, magic string) part { return part{offset: offset, magic: []byte(magic)} }

func anywhere(magic string) part { return part{offset: -1, magic: []byte(magic)} }

const zipMagic = "PK\x03\x04"

// signatures is ordered most specific first at init time, so a container
// format (e.g. OOXML inside zip) wins over its generic carrier.
var signatures = []Signature{
	sig("png", "image/png", models.KindImage, at(0, "\x89PNG\r\n\x1a\n")),
	sig("jpeg", "image/jpeg", models.KindImage, at(0, "\xff\xd8\xff")),
	sig("gif87", "image/gif", models.KindImage, at(0, "GIF87a")),
	sig("gif89", "image/gif", models.KindImage, at(0, "GIF89a")),
	sig("webp", "image/webp", models.KindImage, at(0, "RIFF"), at(8, "WEBP")),
	sig("tiff-le", "image/tiff", models.KindImage, at(0, "II*\x00")),
	sig("tiff-be", "image/tiff", models.KindImage, at(0, "MM\x00*")),
	sig("heic", "image/heic", models.KindImage, at(4, "ftypheic")),
	sig("avif", "image/avif", models.KindImage, at(4, "ftypavif")),
	sig("ico", "image/x-icon", models.KindImage, at(0, "\x00\x00\x01\x00")),
	sig("bmp", "image/bmp", models.KindImage, at(0, "BM")),

	sig("pdf", "application/pdf", models.KindDocument, at(0, "%PDF-")),
	sig("rtf", "application/rtf", models.KindDocument, at(0, "{\\rtf")),
	sig("ole2", "application/x-ole-storage", models.KindDocument, at(0, "\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1")),
	sig("ooxml", "application/vnd.openxmlformats-officedocument", models.KindDocument,
		at(0, zipMagic), anywhere("[Content_Types].xml")),
	sig("odf", "application/vnd.oasis.opendocument", models.KindDocument,
		at(0, zipMagic), at(30, "mimetypeapplication/vnd.oasis.opendocument")),
	sig("epub", "application/epub+zip", models.KindDocument,
		at(0, zipMagic), at(30, "mimetypeapplication/epub+zip")),

	sig("zip", "application/zip", models.KindArchive, at(0, zipMagic)),
	sig("zip-empty", "application/zip", models.KindArchive, at(0, "PK\x05\x06")),
	sig("gzip", "application/gzip", models.KindArchive, at(0, "\x1f\x8b")),
	sig("bzip2", "application/x-bzip2", models.KindArchive, at(0, "BZh")),
	sig("xz", "application/x-xz", models.KindArchive, at(0, "\xfd7zXZ\x00")),
	sig("7z", "application/x-7z-compressed", models.KindArchive, at(0, "7z\xbc\xaf\x27\x1c")),
	sig("rar", "application/vnd.rar", models.KindArchive, at(0, "Rar!\x1a\x07")),
	sig("zstd", "application/zstd", models.KindArchive, at(0, "\x28\xb5\x2f\xfd")),
	sig("tar", "application/x-tar", models.KindArchive, at(257, "ustar")),

	sig("elf", "application/x-elf", models.KindExecutable, at(0, "\x7fELF")),
	sig("macho-64", "application/x-mach-binary", models.KindExecutable, at(0, "\xcf\xfa\xed\xfe")),
	sig("macho-32", "application/x-mach-binary", models.KindExecutable, at(0, "\xce\xfa\xed\xfe")),
	sig("macho-be", "application/x-mach-binary", models.KindExecutable, at(0, "\xfe\xed\xfa\xcf")),
	sig("wasm", "application/wasm", models.KindExecutable, at(0, "\x00asm")),
	sig("pe", "application/vnd.microsoft.portable-executable", models.KindExecutable, at(0, "MZ")),
	sig("shebang", "text/x-shellscript", models.KindExecutable, at(0, "#!")),

	sig("xml", "text/xml", models.KindText, at(0, "<?xml")),
}

func init() {
	sort.SliceStable(signatures, func(i, j int) bool {
		return signatures[i].specificity() > signatures[j].specificity()
	})
}

// Signatures returns the prioritized table, most specific first.
func Signatures() []Signature {
	out := make([]Signature, len(signatures))
	copy(out, signatures)
	return out
}

func matchSignature(buf []byte) (Signature, bool) {
	for _, s := range signatures {
		if s.match(buf) {
			return s, true
		}
	}
	return Signature{}, false
}
