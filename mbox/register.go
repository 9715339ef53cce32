//go:build unix

package mbox

import (
	"github.com/infodancer/mboxstore"
	"github.com/infodancer/mboxstore/errors"
)

func init() {
	mboxstore.Register("mbox", func(config mboxstore.StoreConfig) (mboxstore.MsgStore, error) {
		if config.BasePath == "" {
			return nil, errors.ErrStoreConfigInvalid
		}
		readOnly, err := config.BoolOption("read_only", false)
		if err != nil {
			return nil, err
		}
		useMmap, err := config.BoolOption("mmap", true)
		if err != nil {
			return nil, err
		}
		// path_template transforms mailbox names using {domain}, {localpart}, {email}
		// e.g., "{domain}/users/{localpart}" transforms user@example.com to example.com/users/user
		pathTemplate := config.Option("path_template", "")
		// cache_dir holds fetched messages and max-uid sidecars; default <base_path>/.cache
		cacheDir := config.Option("cache_dir", "")
		opts := Options{
			ReadOnly: readOnly,
			NoMmap:   !useMmap,
		}
		return NewStore(config.BasePath, cacheDir, pathTemplate, opts), nil
	})
}
