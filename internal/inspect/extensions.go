package inspect

import (
	"path/filepath"
	"strings"

	"github.com/starford/ordo/internal/models"
)

type extEntry struct {
	kind models.Kind
	mime string
}

// extensionTable backs the last-resort heuristic for content without a signature.
var extensionTable = map[string]extEntry{
	"svg":  {models.KindImage, "image/svg+xml"},
	"txt":  {models.KindText, "text/plain"},
	"md":   {models.KindText, "text/markdown"},
	"csv":  {models.KindText, "text/csv"},
	"tsv":  {models.KindText, "text/tab-separated-values"},
	"json": {models.KindText, "application/json"},
	"yaml": {models.KindText, "application/yaml"},
	"yml":  {models.KindText, "application/yaml"},
	"toml": {models.KindText, "application/toml"},
	"html": {models.KindText, "text/html"},
	"htm":  {models.KindText, "text/html"},
	"xml":  {models.KindText, "text/xml"},
	"log":  {models.KindText, "text/plain"},
	"go":   {models.KindText, "text/x-go"},
	"py":   {models.KindText, "text/x-python"},
	"doc":  {models.KindDocument, "application/msword"},
	"docx": {models.KindDocument, "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	"xls":  {models.KindDocument, "application/vnd.ms-excel"},
	"xlsx": {models.KindDocument, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	"pptx": {models.KindDocument, "application/vnd.openxmlformats-officedocument.presentationml.presentation"},
	"odt":  {models.KindDocument, "application/vnd.oasis.opendocument.text"},
	"pdf":  {models.KindDocument, "application/pdf"},
	"epub": {models.KindDocument, "application/epub+zip"},
	"zip":  {models.KindArchive, "application/zip"},
	"tar":  {models.KindArchive, "application/x-tar"},
	"gz":   {models.KindArchive, "application/gzip"},
	"tgz":  {models.KindArchive, "application/gzip"},
	"7z":   {models.KindArchive, "application/x-7z-compressed"},
	"rar":  {models.KindArchive, "application/vnd.rar"},
	"exe":  {models.KindExecutable, "application/vnd.microsoft.portable-executable"},
	"msi":  {models.KindExecutable, "application/x-msi"},
	"sh":   {models.KindExecutable, "text/x-shellscript"},
	"bin":  {models.KindUnknown, octetStream},
}

func classifyExtension(name string) (models.Classification, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return models.Classification{}, false
	}
	e, ok := extensionTable[ext]
	if !ok {
		return models.Classification{}, false
	}
	return models.Classification{Kind: e.kind, MIME: e.mime, Source: "extension"}, true
}
