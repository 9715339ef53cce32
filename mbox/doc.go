// Package mbox provides an mbox-format message store implementation.
//
// Each mailbox is a single file holding messages one after another, each
// starting with a "From <sender> <date>" envelope line and separated by a
// blank line:
//
//	basePath/
//	├── alice            # mbox file for alice
//	├── bob
//	└── .cache/
//	    └── alice/
//	        ├── max-uid  # last UID written to the file
//	        └── 17       # fetched copy of message 17
//
// Every message gets a numeric UID that stays stable across compaction.
// UIDs are kept in the file as an "X-LibEtPan-UID" header field, so other
// programs using the same convention see the same numbers. Access is
// coordinated between processes with flock(2) advisory locks; the file is
// read through a shared memory mapping, or buffered I/O when mapping is
// disabled.
//
// The package registers itself with the mboxstore registry under the name
// "mbox". Import it with a blank identifier to enable mbox support:
//
//	import _ "github.com/infodancer/mboxstore/mbox"
//
// Then open an mbox store:
//
//	store, err := mboxstore.Open(mboxstore.StoreConfig{
//	    Type:     "mbox",
//	    BasePath: "/var/mail",
//	})
//
// Options: "path_template" ({domain}, {localpart}, {email}), "cache_dir",
// "read_only" and "mmap" (booleans as accepted by strconv.ParseBool; "mmap"
// false selects buffered I/O).
package mbox
