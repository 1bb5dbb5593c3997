// Package mysql 负责建立数据库连接、自动迁移表结构并构造 Repository 层
package mysql

import (
	"fmt"
	"time"

	"dm_chat_server/internal/config"
	"dm_chat_server/internal/dao/mysql/repository"
	"dm_chat_server/internal/model"

	"go.uber.org/zap"
	mysqldriver "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Init 打开数据库、迁移表结构并返回 Repository 聚合
func Init(cfg *config.MysqlConfig) (*repository.Repositories, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return repository.NewRepositories(db), nil
}

// Open 按 Driver 建立连接并执行 AutoMigrate
// Driver 为 sqlite 时 DatabaseName 作为 DSN，例如 "file:dm_chat.db" 或 "file:t1?mode=memory&cache=shared"
func Open(cfg *config.MysqlConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabaseName)
	case "", "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.DatabaseName,
		)
		dialector = mysqldriver.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// SQLite 单写者，串行化连接避免 database is locked
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err = db.AutoMigrate(&model.UserInfo{}, &model.Message{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	zap.L().Info("数据库初始化成功", zap.String("driver", dialector.Name()))
	return db, nil
}
