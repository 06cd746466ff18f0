package archive

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"
)

// TimestampLayout is embedded in every archive name. It sorts
// lexicographically in time order.
const TimestampLayout = "20060102_150405"

// Archive describes one finished backup file. It is never mutated after
// creation.
type Archive struct {
	Path      string
	Target    string
	CreatedAt time.Time
	Format    Format
}

// Name returns the file name for target at t: <target>_<YYYYMMDD_HHMMSS>.<ext>.
func Name(target string, t time.Time, f Format) string {
	return fmt.Sprintf("%s_%s.%s", target, t.Format(TimestampLayout), f.Ext())
}

var nameRE = regexp.MustCompile(`^(.+)_(\d{8}_\d{6})\.tar(?:\.(gz|bz2|zst))?$`)

// ParseName splits an archive file name produced by Name. ok is false for
// names that do not follow the convention.
func ParseName(path string) (a Archive, ok bool) {
	m := nameRE.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return Archive{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, m[2], time.Local)
	if err != nil {
		return Archive{}, false
	}
	format := FormatTar
	if m[3] != "" {
		format = Format(m[3])
	}
	return Archive{
		Path:      path,
		Target:    m[1],
		CreatedAt: ts,
		Format:    format,
	}, true
}
