// Package config loads a database's two on-disk configuration files
// (spec.md §6.1): database.conf, a small INI file naming the buffer file's
// path and size, and database.dat, a typed tag-length-value catalog
// (internal/tlv) holding the database's schema, UUID, name, time
// precision, buffer size and the shard-duration/mask parameters.
package config

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrMissingKey is returned by BufferConfig field lookups when database.conf
// is missing a key the loader requires.
var ErrMissingKey = errors.New("config: missing required key")

// BufferConfig holds the parsed [buffer] section of database.conf.
type BufferConfig struct {
	Path string // path to the shared sector buffer file
	Size int    // bytes; buffer_len = Size/16 (spec.md §4.1)

	// MaxTruncationPercent bounds how much of series.dat's expected length
	// may be missing at startup before the registry refuses to load rather
	// than warn-and-continue (spec.md §9 open question; resolved in
	// SPEC_FULL.md §E as a configurable value, default 20, grounded on
	// src/siri/db/series.c's siridb_series_load tolerance).
	MaxTruncationPercent int
}

// defaultMaxTruncationPercent is used when database.conf's [buffer] section
// omits max_truncation_percent.
const defaultMaxTruncationPercent = 20

// iniSection is a flat key->value map for one [section] of an INI file.
// database.conf never nests sections or repeats keys, so this is simpler
// than a general-purpose INI model would need to be.
type iniSection map[string]string

// ParseINI reads a minimal INI document: `[section]` headers, `key = value`
// or `key=value` lines, `#`/`;` full-line comments, and blank lines. It is
// hand-rolled rather than pulled from an ecosystem INI library because
// database.conf's grammar (spec.md §6.1: "[buffer] path, size") is a single
// flat section with three keys (path, size and the optional
// max_truncation_percent) — see DESIGN.md for why no pack dependency
// earns a home here.
func ParseINI(r io.Reader) (map[string]iniSection, error) {
	sections := map[string]iniSection{}
	cur := "" // the implicit top-level section, for lines before any header

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			cur = strings.TrimSpace(line[1 : len(line)-1])
			if _, ok := sections[cur]; !ok {
				sections[cur] = iniSection{}
			}
			continue
		}
		key, value, ok := splitKV(line)
		if !ok {
			return nil, errors.Errorf("config: malformed line %q", line)
		}
		if _, ok := sections[cur]; !ok {
			sections[cur] = iniSection{}
		}
		sections[cur][key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "config: read ini")
	}
	return sections, nil
}

func splitKV(line string) (key, value string, ok bool) {
	i := strings.IndexByte(line, '=')
	if i < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:i])
	value = strings.TrimSpace(line[i+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

// LoadBufferConfig parses database.conf's [buffer] section into a
// BufferConfig.
func LoadBufferConfig(r io.Reader) (BufferConfig, error) {
	sections, err := ParseINI(r)
	if err != nil {
		return BufferConfig{}, err
	}
	buf, ok := sections["buffer"]
	if !ok {
		return BufferConfig{}, errors.Wrap(ErrMissingKey, "[buffer] section")
	}

	path, ok := buf["path"]
	if !ok || path == "" {
		return BufferConfig{}, errors.Wrap(ErrMissingKey, "buffer.path")
	}

	sizeStr, ok := buf["size"]
	if !ok || sizeStr == "" {
		return BufferConfig{}, errors.Wrap(ErrMissingKey, "buffer.size")
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return BufferConfig{}, errors.Wrapf(err, "config: buffer.size %q", sizeStr)
	}

	truncation := defaultMaxTruncationPercent
	if s, ok := buf["max_truncation_percent"]; ok && s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return BufferConfig{}, errors.Wrapf(err, "config: buffer.max_truncation_percent %q", s)
		}
		truncation = v
	}

	return BufferConfig{Path: path, Size: size, MaxTruncationPercent: truncation}, nil
}
