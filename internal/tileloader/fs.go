package tileloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/atlasdatatech/tileserver/internal/asynctask"
	"github.com/atlasdatatech/tileserver/internal/errs"
	"github.com/atlasdatatech/tileserver/internal/metatile"
)

// FSLoader reads tiles laid out as <base>/<version>/z/x/y.mvt
// (SPEC_FULL.md §4.4), grounded on atlasdatatech-tiler/utils.go's
// saveToFiles, inverted into a reader.
type FSLoader struct {
	base     string
	versions map[string]bool
}

// OpenFS returns an FSLoader rooted at base, recognising the given set
// of data versions.
func OpenFS(base string, versions []string) *FSLoader {
	vset := make(map[string]bool, len(versions))
	for _, v := range versions {
		vset[v] = true
	}
	return &FSLoader{base: base, versions: vset}
}

// HasVersion reports whether version is known to this loader.
func (l *FSLoader) HasVersion(version string) bool {
	return l.versions[version]
}

func (l *FSLoader) path(id metatile.TileID, version string) string {
	return filepath.Join(l.base, version, strconv.FormatUint(uint64(id.Z), 10),
		strconv.FormatUint(uint64(id.X), 10), strconv.FormatUint(uint64(id.Y), 10)+".mvt")
}

// Load reads the tile file for id at version, decompressing a gzip/zlib
// payload transparently.
func (l *FSLoader) Load(ctx context.Context, id metatile.TileID, version string, task *asynctask.Task[[]byte]) {
	if !l.HasVersion(version) {
		task.CompleteError(errs.New(errs.NotFound, fmt.Sprintf("unknown data version %q", version)))
		return
	}
	data, err := os.ReadFile(l.path(id, version))
	if errors.Is(err, os.ErrNotExist) {
		task.CompleteError(errs.New(errs.NotFound, fmt.Sprintf("tile %v not found", id)))
		return
	}
	if err != nil {
		task.CompleteError(errs.Wrap(errs.Internal, "fs read", err))
		return
	}
	out, err := decompress(data)
	if err != nil {
		task.CompleteError(err)
		return
	}
	task.CompleteSuccess(out)
}
