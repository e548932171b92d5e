package dfs

import (
	"context"
	"fmt"
)

// Opener constructs a Filesystem for one of the config-selected backend
// types ("local", "s3", "hdfs"). The concrete constructors live in their
// own subpackages (localfs, s3fs, hdfsfs) to keep this package free of
// their third-party client dependencies; callers that know at build time
// which backend they need can import that subpackage directly instead.
type Opener func(ctx context.Context) (Filesystem, error)

// Openers is a registry callers populate (typically from cmd/rangeserverd's
// main, which alone needs to import every backend subpackage) mapping a
// config.DFSConfig.Type value to a constructor.
type Openers map[string]Opener

// Open dispatches to the constructor registered for typ, or an error
// naming the unknown type so a misconfigured deployment fails fast at
// startup rather than on the first commit-log write.
func (o Openers) Open(ctx context.Context, typ string) (Filesystem, error) {
	if typ == "" {
		typ = "local"
	}
	open, ok := o[typ]
	if !ok {
		return nil, fmt.Errorf("dfs: unknown backend type %q", typ)
	}
	return open(ctx)
}
