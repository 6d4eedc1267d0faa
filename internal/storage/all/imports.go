// Package all links every storage backend into the binary. Importing it for
// side effects registers the backends with the storage factory.
package all

import (
	_ "github.com/EfeObus/NextProperty-sub002/internal/storage/mssql"
	_ "github.com/EfeObus/NextProperty-sub002/internal/storage/mysql"
	_ "github.com/EfeObus/NextProperty-sub002/internal/storage/postgres"
	_ "github.com/EfeObus/NextProperty-sub002/internal/storage/sqlite"
)
