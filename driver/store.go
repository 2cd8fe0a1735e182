package driver

import (
	"context"
	"strings"

	"github.com/CaliLuke/go-odm/gotype"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Store persists encoded documents by collection and id. Fetch returns
// (nil, nil) for a missing document.
type Store interface {
	Fetch(ctx context.Context, collection string, id bson.RawValue) (bson.Raw, error)
	Put(ctx context.Context, collection string, id bson.RawValue, doc bson.Raw) error
	Delete(ctx context.Context, collection string, id bson.RawValue) (bool, error)
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}

var (
	_ gotype.DocumentStore = (*MemoryStore)(nil)
	_ gotype.DocumentStore = (*SQLiteStore)(nil)
	_ gotype.DocumentStore = (*CachedStore)(nil)
	_ gotype.DocumentStore = Store(nil)
)

// Open creates the store named by uri. See the package documentation for
// the accepted forms. A nil opts uses NewOptions.
func Open(uri string, opts *Options) (Store, error) {
	if opts == nil {
		opts = NewOptions()
	}

	var (
		s   Store
		err error
	)
	switch {
	case uri == "mem://":
		s = NewMemoryStore()
	case strings.HasPrefix(uri, "sqlite://"):
		path := strings.TrimPrefix(uri, "sqlite://")
		if path == "" {
			return nil, errors.Wrapf(ErrUnsupportedURI, "%q has no path", uri)
		}
		s, err = OpenSQLite(path, opts)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedURI, "%q", uri)
	}

	if opts.cacheSize > 0 {
		cached, err := NewCachedStore(s, opts.cacheSize)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		return cached, nil
	}
	return s, nil
}
