package workproduct

import (
	"encoding/json"
	"fmt"
	"mime"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/BaSui01/missionflow/workflow"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// 常见 MIME 类型到扩展名, 其余交给 mime.ExtensionsByType
var mimeExtensions = map[string]string{
	"application/json": ".json",
	"text/plain":       ".txt",
	"text/markdown":    ".md",
	"text/html":        ".html",
	"text/csv":         ".csv",
	"application/pdf":  ".pdf",
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
	"application/yaml": ".yaml",
	"application/xml":  ".xml",
}

// SanitizeName reduces s to a file-name-safe token.
func SanitizeName(s string) string {
	s = strings.Trim(unsafeNameChars.ReplaceAllString(s, "_"), "_")
	if s == "" {
		return "output"
	}
	return strings.ToLower(s)
}

// FileName picks the shared-file name for an output. An explicit file name
// wins; otherwise step_<position>_<name><ext>.
func FileName(position int, out workflow.Output) string {
	if out.FileName != "" {
		if base := filepath.Base(out.FileName); base != "." && base != string(filepath.Separator) {
			return base
		}
	}
	return fmt.Sprintf("step_%d_%s%s", position, SanitizeName(out.Name), Extension(out))
}

// Extension infers a file extension. Object results are always written as
// JSON, whatever the declared mime type.
func Extension(out workflow.Output) string {
	if isObject(out.Result) {
		return ".json"
	}
	if out.MimeType != "" {
		mt, _, err := mime.ParseMediaType(out.MimeType)
		if err == nil {
			if ext, ok := mimeExtensions[mt]; ok {
				return ext
			}
			if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
				return exts[0]
			}
		}
	}
	switch out.Result.(type) {
	case []byte:
		return ".bin"
	default:
		return ".txt"
	}
}

// MimeTypeFor returns the declared mime type or one derived from the
// result shape.
func MimeTypeFor(out workflow.Output) string {
	if isObject(out.Result) {
		return "application/json"
	}
	if out.MimeType != "" {
		return out.MimeType
	}
	if _, ok := out.Result.([]byte); ok {
		return "application/octet-stream"
	}
	return "text/plain"
}

// Content serializes an output result for upload.
func Content(out workflow.Output) ([]byte, error) {
	switch v := out.Result.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	}
	if isObject(out.Result) {
		return json.MarshalIndent(out.Result, "", "  ")
	}
	return []byte(fmt.Sprint(out.Result)), nil
}

func isObject(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		return true
	default:
		return false
	}
}

// isEmptyResult treats nil, "" and empty collections as empty.
func isEmptyResult(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
