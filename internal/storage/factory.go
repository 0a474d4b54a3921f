package storage

import (
	"fmt"

	"github.com/LENAX/decision-engine/pkg/storage"
	"github.com/LENAX/decision-engine/pkg/storage/mysql"
	"github.com/LENAX/decision-engine/pkg/storage/postgres"
	pkgsqlite "github.com/LENAX/decision-engine/pkg/storage/sqlite"
)

// NewDecisionRunRepository 按数据库类型创建run历史Repository（内部方法）
// dbType: 数据库类型（sqlite/mysql/postgres）
// dsn: 数据库连接字符串
func NewDecisionRunRepository(dbType, dsn string) (storage.DecisionRunRepository, error) {
	switch dbType {
	case "sqlite":
		repo, err := pkgsqlite.NewDecisionRunRepoFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("create sqlite repository failed: %w", err)
		}
		return repo, nil
	case "mysql":
		repo, err := mysql.NewDecisionRunRepoFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("create mysql repository failed: %w", err)
		}
		return repo, nil
	case "postgres", "postgresql":
		repo, err := postgres.NewDecisionRunRepoFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("create postgres repository failed: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
