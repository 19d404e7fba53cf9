// Package all registers every built-in storage backend. Import it for side
// effects from the wiring layer:
//
//	import _ "customeretl/internal/storage/all"
//
// after which storage.New and storage.EnsureTable accept the kinds
// "postgres", "mssql", "mysql" and "sqlite".
package all

import (
	_ "customeretl/internal/storage/mssql"
	_ "customeretl/internal/storage/mysql"
	_ "customeretl/internal/storage/postgres"
	_ "customeretl/internal/storage/sqlite"
)
