package database

import (
	"fmt"
	"path/filepath"

	"github.com/wfunc/coin-atm/internal/logger"
	"github.com/wfunc/coin-atm/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AutoMigrate 迁移流水表结构。dsn用于定位SQLite文件以加迁移锁
func AutoMigrate(db *gorm.DB, dsn string) error {
	if db == nil {
		return fmt.Errorf("数据库未初始化")
	}

	if db.Dialector.Name() == "sqlite" {
		if path := sqliteFilePath(dsn); path != "" {
			CleanupStaleLocks(filepath.Dir(path))

			lockFile, err := acquireMigrationLock(path)
			if err != nil {
				logger.Error("无法获取迁移锁", zap.Error(err))
				return fmt.Errorf("获取迁移锁失败: %w", err)
			}
			defer releaseMigrationLock(lockFile)
		}
	}

	logger.Info("开始数据库迁移...")
	for _, model := range models.AllModels() {
		if err := db.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	logger.Info("数据库迁移完成")
	return nil
}
