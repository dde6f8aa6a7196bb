package performance

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rankwatch/rankwatch/pkg/whttp"
)

// DefaultMirrors are tried in order; {id} is replaced by the beatmap id.
var DefaultMirrors = []string{
	"https://catboy.best/osu/{id}",
	"https://old.ppy.sh/osu/{id}",
}

// Logger is the subset of logrus used here.
type Logger interface {
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}

// MirrorSource downloads .osu files from mirrors and keeps gzip-compressed
// copies in CacheDir.
type MirrorSource struct {
	Fetcher  whttp.Fetcher
	CacheDir string
	Mirrors  []string
	Log      Logger
}

func (m *MirrorSource) log() Logger {
	if m.Log == nil {
		return nopLogger{}
	}
	return m.Log
}

func (m *MirrorSource) path(id int64) string {
	return filepath.Join(m.CacheDir, fmt.Sprintf("%d.osu.gz", id))
}

// Beatmap returns the cached file when its checksum matches md5 (or md5 is
// empty) and downloads it otherwise. A mirror serving a stale file is skipped
// in favour of the next one.
func (m *MirrorSource) Beatmap(ctx context.Context, id int64, md5sum string) ([]byte, error) {
	if b, err := m.readCache(id); err == nil {
		if md5sum == "" || checksum(b) == md5sum {
			return b, nil
		}
		m.log().Warnf("Cached beatmap %d has a stale checksum, downloading again", id)
	}

	mirrors := m.Mirrors
	if len(mirrors) == 0 {
		mirrors = DefaultMirrors
	}
	var stale []byte
	for _, tmpl := range mirrors {
		url := strings.ReplaceAll(tmpl, "{id}", fmt.Sprint(id))
		res, err := m.Fetcher.Fetch(ctx, &whttp.Request{URL: url})
		if err != nil || !res.OK() || len(res.Body) == 0 {
			m.log().Debugf("Beatmap %d not available from %s", id, url)
			continue
		}
		if md5sum != "" && checksum(res.Body) != md5sum {
			m.log().Warnf("Mirror %s has an outdated copy of beatmap %d", url, id)
			stale = res.Body
			continue
		}
		m.writeCache(id, res.Body)
		return res.Body, nil
	}
	if stale != nil {
		m.writeCache(id, stale)
		return stale, nil
	}
	return nil, ErrBeatmapUnavailable
}

func (m *MirrorSource) readCache(id int64) ([]byte, error) {
	if m.CacheDir == "" {
		return nil, os.ErrNotExist
	}
	f, err := os.Open(m.path(id))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func (m *MirrorSource) writeCache(id int64, b []byte) {
	if m.CacheDir == "" {
		return
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return
	}
	if err := zw.Close(); err != nil {
		return
	}
	if err := os.MkdirAll(m.CacheDir, 0o755); err != nil {
		m.log().Warnf("Could not create beatmap cache %s: %v", m.CacheDir, err)
		return
	}
	if err := os.WriteFile(m.path(id), buf.Bytes(), 0o644); err != nil {
		m.log().Warnf("Could not cache beatmap %d: %v", id, err)
	}
}

func checksum(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
