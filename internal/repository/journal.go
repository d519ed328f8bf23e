package repository

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/coin-atm/internal/models"
	"gorm.io/gorm"
)

// ErrVoucherNotFound 兑换码流水不存在
var ErrVoucherNotFound = errors.New("voucher event not found")

// JournalRepository 投币与兑换码流水仓储接口
type JournalRepository interface {
	BaseRepository
	RecordCoin(ctx context.Context, event *models.CoinEvent) error
	RecordVoucher(ctx context.Context, event *models.VoucherEvent) error
	UpdateVoucherStatus(ctx context.Context, uuid string, status models.VoucherStatus, at time.Time) error
	FindVoucher(ctx context.Context, uuid string) (*models.VoucherEvent, error)
	CoinsBySession(ctx context.Context, sessionID string) ([]*models.CoinEvent, error)
	RecentVouchers(ctx context.Context, pagination *Pagination) ([]*models.VoucherEvent, error)
	Summary(ctx context.Context, since time.Time) (*models.JournalSummary, error)
	CleanupBefore(ctx context.Context, before time.Time) (int64, error)
}

// journalRepo 流水仓储实现
type journalRepo struct {
	*BaseRepo
}

// NewJournalRepository 创建流水仓储
func NewJournalRepository(db *gorm.DB) JournalRepository {
	return &journalRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// RecordCoin 记录一次投币
func (r *journalRepo) RecordCoin(ctx context.Context, event *models.CoinEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// RecordVoucher 记录一次兑换码生成
func (r *journalRepo) RecordVoucher(ctx context.Context, event *models.VoucherEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// UpdateVoucherStatus 更新兑换码状态并记录结束时间
func (r *journalRepo) UpdateVoucherStatus(ctx context.Context, uuid string, status models.VoucherStatus, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.VoucherEvent{}).
		Where("uuid = ?", uuid).
		Updates(map[string]interface{}{
			"status":    status,
			"closed_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVoucherNotFound
	}
	return nil
}

// FindVoucher 根据UUID查找
func (r *journalRepo) FindVoucher(ctx context.Context, uuid string) (*models.VoucherEvent, error) {
	var event models.VoucherEvent
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, err
	}
	return &event, nil
}

// CoinsBySession 查询一次取款会话的全部投币
func (r *journalRepo) CoinsBySession(ctx context.Context, sessionID string) ([]*models.CoinEvent, error) {
	var events []*models.CoinEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

// RecentVouchers 最近的兑换码流水
func (r *journalRepo) RecentVouchers(ctx context.Context, pagination *Pagination) ([]*models.VoucherEvent, error) {
	var events []*models.VoucherEvent
	db := r.db.WithContext(ctx).Model(&models.VoucherEvent{})

	if pagination != nil {
		if err := db.Count(&pagination.Total).Error; err != nil {
			return nil, err
		}
		db = db.Scopes(Paginate(pagination))
	}

	err := db.Order("id DESC").Find(&events).Error
	return events, err
}

// Summary 汇总since之后的流水
func (r *journalRepo) Summary(ctx context.Context, since time.Time) (*models.JournalSummary, error) {
	summary := &models.JournalSummary{}

	var coins []struct {
		Accepted bool
		N        int64
		Total    int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.CoinEvent{}).
		Select("accepted, COUNT(*) AS n, COALESCE(SUM(value_cents), 0) AS total").
		Where("created_at >= ?", since).
		Group("accepted").
		Scan(&coins).Error
	if err != nil {
		return nil, err
	}
	for _, c := range coins {
		if c.Accepted {
			summary.CoinsAccepted += c.N
			summary.DepositedCents += uint64(c.Total)
		} else {
			summary.CoinsIgnored += c.N
		}
	}

	var vouchers []struct {
		Status models.VoucherStatus
		N      int64
		Total  int64
	}
	err = r.db.WithContext(ctx).
		Model(&models.VoucherEvent{}).
		Select("status, COUNT(*) AS n, COALESCE(SUM(amount_cents), 0) AS total").
		Where("created_at >= ?", since).
		Group("status").
		Scan(&vouchers).Error
	if err != nil {
		return nil, err
	}
	for _, v := range vouchers {
		switch v.Status {
		case models.VoucherStatusFailed:
			summary.VouchersFailed += v.N
			continue
		case models.VoucherStatusTimeout:
			summary.VouchersTimedOut += v.N
		}
		summary.VouchersIssued += v.N
		summary.WithdrawnCents += uint64(v.Total)
	}

	return summary, nil
}

// CleanupBefore 删除before之前的流水，返回删除的行数
func (r *journalRepo) CleanupBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Where("created_at < ?", before).Delete(&models.CoinEvent{})
		if res.Error != nil {
			return res.Error
		}
		deleted += res.RowsAffected

		res = tx.Where("created_at < ?", before).Delete(&models.VoucherEvent{})
		if res.Error != nil {
			return res.Error
		}
		deleted += res.RowsAffected
		return nil
	})
	return deleted, err
}
