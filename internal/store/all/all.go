// Package all links every storage adapter into the binary. Import it for
// its side effects:
//
//	import _ "github.com/kvidx-db/kvidx/internal/store/all"
package all

import (
	_ "github.com/kvidx-db/kvidx/internal/store/bolt"
	_ "github.com/kvidx-db/kvidx/internal/store/leveldb"
	_ "github.com/kvidx-db/kvidx/internal/store/memory"
	_ "github.com/kvidx-db/kvidx/internal/store/pebble"
	_ "github.com/kvidx-db/kvidx/internal/store/sqlite"
)
