// Package tileloader implements the versioned (z,x,y) tile fetch against
// a pluggable backing store (SPEC_FULL.md §4.4): a SQLite-backed
// key-value backend and a filesystem backend. Both transparently
// decompress gzip/zlib payloads.
package tileloader

import (
	"bytes"
	"compress/zlib"
	"context"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/atlasdatatech/tileserver/internal/asynctask"
	"github.com/atlasdatatech/tileserver/internal/errs"
	"github.com/atlasdatatech/tileserver/internal/metatile"
)

// Loader fetches a source tile's raw bytes by (x,y,z) at a given data
// version. load fires task.success(data) or task.error({not_found,
// internal}).
type Loader interface {
	Load(ctx context.Context, id metatile.TileID, version string, task *asynctask.Task[[]byte])
	HasVersion(version string) bool
}

// decompress inflates gzip (magic 0x1F 0x8B) or zlib (magic 0x78 ..)
// payloads; any other payload is returned unchanged, per SPEC_FULL.md
// §4.4.
func decompress(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return data, nil
	}
	switch {
	case data[0] == 0x1F && data[1] == 0x8B:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "gzip open", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "gzip read", err)
		}
		return out, nil
	case data[0] == 0x78:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "zlib open", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "zlib read", err)
		}
		return out, nil
	default:
		return data, nil
	}
}
