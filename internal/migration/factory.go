package migration

import (
	"fmt"
	"net/url"

	"github.com/BaSui01/constraintflow/config"
)

// NewMigratorFromConfig 按 database 配置创建迁移器；memory 驱动没有可迁移的表
func NewMigratorFromConfig(cfg config.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dbType, DatabaseURL: DatabaseURL(dbType, cfg)})
}

// DatabaseURL 构造 golang-migrate 期望的连接串
func DatabaseURL(dbType DatabaseType, cfg config.DatabaseConfig) string {
	switch dbType {
	case DatabaseTypePostgres:
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Path:     "/" + cfg.Name,
			RawQuery: "sslmode=" + url.QueryEscape(sslMode),
		}
		return u.String()
	case DatabaseTypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
	case DatabaseTypeSQLite:
		return fmt.Sprintf("file:%s?mode=rwc", cfg.Name)
	default:
		return ""
	}
}
