// Package migrations 内嵌数据库迁移脚本，供 golang-migrate 的 iofs 源读取。
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
