package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aigateway/internal/database"
	"aigateway/internal/metrics"
	"aigateway/internal/model"
	"aigateway/internal/repository"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// errDebitRejected 条件扣减未命中任何行
var errDebitRejected = errors.New("ledger: debit rejected")

// CommitResult 一次提交后的余额
type CommitResult struct {
	Debited   decimal.Decimal
	Used      decimal.Decimal
	Total     decimal.Decimal
	Remaining decimal.Decimal
}

// LedgerService 预算账本：扣减与审计记录在同一事务内完成
// 数据库只有一个连接，事务内只能使用 tx，不能再调用走 db 的方法
type LedgerService struct {
	db        *sql.DB
	quotaRepo repository.QuotaRepositoryInterface
	usageRepo repository.UsageRecordRepositoryInterface
	logRepo   repository.QuotaLogRepositoryInterface
}

func NewLedgerService() *LedgerService {
	return NewLedgerServiceWithDB(database.GetDB())
}

func NewLedgerServiceWithDB(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:        db,
		quotaRepo: repository.NewQuotaRepositoryWithDB(db),
		usageRepo: repository.NewUsageRecordRepositoryWithDB(db),
		logRepo:   repository.NewQuotaLogRepositoryWithDB(db),
	}
}

// Debit 单独扣减一笔金额并返回新的剩余额度；金额 ≤ 0 时不修改
func (s *LedgerService) Debit(ctx context.Context, quotaID string, amount decimal.Decimal) (decimal.Decimal, error) {
	micros := model.DecimalToMicros(amount)

	var result *CommitResult
	err := s.withDebitRetry(ctx, quotaID, micros, func() error {
		r, err := s.commitOnce(ctx, quotaID, micros, nil, "")
		result = r
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return result.Remaining, nil
}

// Commit 扣减 rec.TotalCost 并写入调用记录与扣减流水，三者同一事务
// 余额不足时调用记录单独写入（error_type=quota_exhausted），返回 ErrQuotaExhausted
func (s *LedgerService) Commit(ctx context.Context, quotaID string, rec *model.UsageRecord) (*CommitResult, error) {
	micros := model.DecimalToMicros(rec.TotalCost)

	var result *CommitResult
	err := s.withDebitRetry(ctx, quotaID, micros, func() error {
		r, err := s.commitOnce(ctx, quotaID, micros, rec, "api call "+rec.ModelName)
		result = r
		return err
	})
	if err == nil {
		if micros > 0 {
			metrics.RecordLedger("committed", micros)
		} else {
			metrics.RecordLedger("skipped", 0)
		}
		return result, nil
	}
	if !errors.Is(err, ErrQuotaExhausted) {
		metrics.RecordLedger("failed", micros)
		return nil, err
	}

	metrics.RecordLedger("rejected", micros)
	rec.StatusCode = 429
	rec.ErrorType = string(KindQuotaExhausted)
	rec.ErrorMessage = "insufficient quota to settle call cost"
	if insertErr := s.usageRepo.Insert(ctx, s.db, rec); insertErr != nil {
		log.WithFields(log.Fields{
			"quotaId":   quotaID,
			"requestId": rec.RequestID,
		}).Errorf("ledger: persist rejected usage record failed: %v", insertErr)
		return nil, fmt.Errorf("%w: persist usage record: %v", ErrInternal, insertErr)
	}
	return nil, err
}

// withDebitRetry 扣减被拒时重新读取余额并重试一次；余额确实不足则直接返回 ErrQuotaExhausted
func (s *LedgerService) withDebitRetry(ctx context.Context, quotaID string, micros int64, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errDebitRejected) {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}

		used, total, readErr := s.quotaRepo.GetBalanceMicros(ctx, s.db, quotaID)
		if readErr != nil {
			return fmt.Errorf("%w: reread balance: %v", ErrInternal, readErr)
		}
		if attempt >= 2 || used+micros > total {
			log.WithFields(log.Fields{
				"quotaId": quotaID,
				"amount":  model.MicrosToDecimal(micros).StringFixed(model.MoneyScale),
				"used":    model.MicrosToDecimal(used).StringFixed(model.MoneyScale),
				"total":   model.MicrosToDecimal(total).StringFixed(model.MoneyScale),
				"attempt": attempt,
			}).Warn("ledger: debit rejected")
			return ErrQuotaExhausted
		}
	}
}

func (s *LedgerService) commitOnce(ctx context.Context, quotaID string, micros int64, rec *model.UsageRecord, description string) (*CommitResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback()

	if micros > 0 {
		ok, err := s.quotaRepo.Debit(ctx, tx, quotaID, micros)
		if err != nil {
			return nil, fmt.Errorf("ledger: debit: %w", err)
		}
		if !ok {
			return nil, errDebitRejected
		}
	}

	used, total, err := s.quotaRepo.GetBalanceMicros(ctx, tx, quotaID)
	if err != nil {
		return nil, fmt.Errorf("ledger: read balance: %w", err)
	}

	if rec != nil {
		if err := s.usageRepo.Insert(ctx, tx, rec); err != nil {
			return nil, fmt.Errorf("ledger: insert usage record: %w", err)
		}
	}

	remaining := total - used
	if remaining < 0 {
		remaining = 0
	}

	if micros > 0 {
		entry := &model.QuotaUsageLog{
			QuotaID:     quotaID,
			Action:      model.QuotaLogActionDeduct,
			Amount:      model.MicrosToDecimal(micros),
			Remaining:   model.MicrosToDecimal(remaining),
			Description: description,
		}
		if rec != nil {
			entry.RequestID = rec.RequestID
		}
		if err := s.logRepo.Insert(ctx, tx, entry); err != nil {
			return nil, fmt.Errorf("ledger: insert quota log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ledger: commit: %w", err)
	}

	return &CommitResult{
		Debited:   model.MicrosToDecimal(micros),
		Used:      model.MicrosToDecimal(used),
		Total:     model.MicrosToDecimal(total),
		Remaining: model.MicrosToDecimal(remaining),
	}, nil
}
