// Package migrations embeds the RpcDal postgres reference schema so
// golang-migrate can apply it from a compiled binary, matching the
// teacher's pkg/store/metadata/postgres/migrations.FS pattern.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
