package artifact

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// CompressedExt is appended to every stored artifact.
	CompressedExt = ".gz"

	stampLayout = "2006-01-02T15:04:05.000Z"
	stampLen    = len("2006-01-02T15-04-05-000Z")
)

// Stamp renders t as ISO-8601 with millisecond precision in UTC, with ':' and
// '.' replaced by '-' so the result is safe in file names.
func Stamp(t time.Time) string {
	s := t.UTC().Format(stampLayout)
	return strings.NewReplacer(":", "-", ".", "-").Replace(s)
}

// ParseStamp reverses Stamp.
func ParseStamp(s string) (time.Time, error) {
	if len(s) != stampLen || s[10] != 'T' || s[len(s)-1] != 'Z' {
		return time.Time{}, fmt.Errorf("malformed timestamp: %q", s)
	}
	b := []byte(s)
	b[13], b[16], b[19] = ':', ':', '.'
	t, err := time.Parse(stampLayout, string(b))
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Normalize truncates t to the precision preserved by file names.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// RawFilename is the uncompressed dump name, e.g. postgres-daily-<stamp>.sql.
func RawFilename(source SourceKind, cadence Cadence, createdAt time.Time) string {
	return fmt.Sprintf("%s-%s-%s.%s", source, cadence, Stamp(createdAt), source.Ext())
}

// Filename is the compressed artifact name, e.g. postgres-daily-<stamp>.sql.gz.
func Filename(source SourceKind, cadence Cadence, createdAt time.Time) string {
	return RawFilename(source, cadence, createdAt) + CompressedExt
}

// ParseFilename recovers the identity encoded in an artifact file name. Only
// the base name is considered, so remote keys may be passed directly.
func ParseFilename(name string) (Identity, error) {
	base := path.Base(name)
	rest, ok := strings.CutSuffix(base, CompressedExt)
	if !ok {
		return Identity{}, fmt.Errorf("not a compressed artifact: %q", base)
	}
	dot := strings.LastIndexByte(rest, '.')
	if dot < 0 {
		return Identity{}, fmt.Errorf("missing extension: %q", base)
	}
	stem, ext := rest[:dot], rest[dot+1:]

	parts := strings.SplitN(stem, "-", 3)
	if len(parts) != 3 {
		return Identity{}, fmt.Errorf("malformed artifact name: %q", base)
	}
	source := SourceKind(parts[0])
	if !source.Valid() {
		return Identity{}, fmt.Errorf("unknown source in %q", base)
	}
	if source.Ext() != ext {
		return Identity{}, fmt.Errorf("extension %q does not match source %s", ext, source)
	}
	cadence, err := ParseCadence(parts[1])
	if err != nil {
		return Identity{}, err
	}
	createdAt, err := ParseStamp(parts[2])
	if err != nil {
		return Identity{}, err
	}
	return Identity{Source: source, Cadence: cadence, CreatedAt: createdAt}, nil
}

// RemoteKey builds <namespace>/<source>/<cadence>/<filename>.
func RemoteKey(namespace string, source SourceKind, cadence Cadence, filename string) string {
	parts := []string{}
	if ns := strings.Trim(namespace, "/"); ns != "" {
		parts = append(parts, ns)
	}
	parts = append(parts, string(source), string(cadence), filename)
	return path.Join(parts...)
}

// RemotePrefix is the listing prefix for every artifact in namespace.
func RemotePrefix(namespace string) string {
	ns := strings.Trim(namespace, "/")
	if ns == "" {
		return ""
	}
	return ns + "/"
}
