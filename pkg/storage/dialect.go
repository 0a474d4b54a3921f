package storage

// Dialect SQL方言接口（对外导出）
// 屏蔽sqlite/mysql/postgres在占位符、UPSERT语法和连接配置上的差异
// 建表DDL由各Repository实现自带，不走方言转换
type Dialect interface {
	// Name 返回方言名称（如 "sqlite", "mysql", "postgres"）
	Name() string

	// Placeholder 返回指定位置的占位符
	// SQLite/MySQL: ? (忽略index)
	// PostgreSQL: $1, $2, ...
	Placeholder(index int) string

	// UpsertSQL 返回INSERT或UPDATE的SQL语句（命名占位符形式）
	// tableName: 表名
	// columns: 列名列表
	// conflictColumn: 冲突判断列（通常是主键）
	// updateColumns: 冲突时需要更新的列（不含主键）
	UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string

	// ConfigureDB 返回建立连接后需要执行的配置SQL（如SQLite的PRAGMA）
	ConfigureDB() []string
}
