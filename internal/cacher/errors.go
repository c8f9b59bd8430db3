package cacher

import "github.com/atlasdatatech/tileserver/internal/errs"

var (
	errRetrieveFailed         = errs.New(errs.Internal, "cache backend retrieve failed")
	errLockReleasedWithoutSet = errs.New(errs.Internal, "cache lock released without a successful set")
)
