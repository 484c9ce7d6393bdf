// Package statement 按月导出主体账单
package statement

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/logger"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/repository"
	"github.com/dumeirei/merch-settlement/internal/service/ledger"
	"github.com/dumeirei/merch-settlement/pkg/money"
	"github.com/dumeirei/merch-settlement/pkg/oss"
)

const (
	streamBatch   = 500
	defaultURLTTL = 24 * time.Hour
	monthLayout   = "2006-01"
)

var header = []string{"entry_id", "created_at", "ref_type", "ref_id", "reason", "amount", "balance"}

// Statement 月度账单
type Statement struct {
	Party    models.Party `json:"party"`
	Currency string       `json:"currency"`
	Month    string       `json:"month"`
	Key      string       `json:"key"`
	URL      string       `json:"url"`
	Opening  money.Money  `json:"opening"`
	Credits  money.Money  `json:"credits"`
	Debits   money.Money  `json:"debits"`
	Closing  money.Money  `json:"closing"`
	Entries  int          `json:"entries"`
}

// Service 账单导出服务
type Service struct {
	ledger  *ledger.Service
	storage oss.Storage
	dir     string
	urlTTL  time.Duration
	log     *zap.Logger
}

// NewService 创建账单导出服务
func NewService(ledgerSvc *ledger.Service, storage oss.Storage, dir string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if dir == "" {
		dir = "statements"
	}
	return &Service{ledger: ledgerSvc, storage: storage, dir: dir, urlTTL: defaultURLTTL, log: log.Named("statement")}
}

// ParseMonth 解析 YYYY-MM
func ParseMonth(s string) (time.Time, error) {
	t, err := time.ParseInLocation(monthLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, errors.ErrInvalidParams.Withf("月份格式应为 YYYY-MM: %q", s)
	}
	return t, nil
}

// Export 导出主体某月分录为 CSV 并上传，期初余额由当月之前的分录累计
func (s *Service) Export(ctx context.Context, party models.Party, currency string, month time.Time) (*Statement, error) {
	cur, err := money.NormalizeCurrency(currency)
	if err != nil {
		return nil, errors.ErrInvalidParams.WithError(err)
	}
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	var (
		buf                    bytes.Buffer
		opening, credit, debit int64
		count                  int
	)
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, errors.ErrInternalError.WithError(err)
	}

	balance := int64(0)
	filter := repository.EntryFilter{Currency: cur, EndTime: &end}
	err = s.ledger.Stream(ctx, party, filter, streamBatch, func(entries []*models.LedgerEntry) error {
		for _, e := range entries {
			balance += e.Delta
			if e.CreatedAt.Before(start) {
				opening += e.Delta
				continue
			}
			if e.Delta >= 0 {
				credit += e.Delta
			} else {
				debit += -e.Delta
			}
			count++
			if err := w.Write([]string{
				strconv.FormatInt(e.ID, 10),
				e.CreatedAt.UTC().Format(time.RFC3339),
				e.RefType,
				e.RefID,
				e.Reason,
				money.New(e.Delta, cur).Format(),
				money.New(balance, cur).Format(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.ErrInternalError.WithError(err)
	}

	key := path.Join(s.dir, string(party.Type), strconv.FormatInt(party.ID, 10),
		fmt.Sprintf("%s-%s.csv", start.Format(monthLayout), cur))
	if _, err := s.storage.Put(ctx, key, &buf, "text/csv"); err != nil {
		return nil, errors.ErrExternalService.WithError(err)
	}
	url, err := s.storage.SignedURL(key, s.urlTTL)
	if err != nil {
		return nil, errors.ErrExternalService.WithError(err)
	}

	st := &Statement{
		Party:    party,
		Currency: cur,
		Month:    start.Format(monthLayout),
		Key:      key,
		URL:      url,
		Opening:  money.New(opening, cur),
		Credits:  money.New(credit, cur),
		Debits:   money.New(debit, cur),
		Closing:  money.New(opening+credit-debit, cur),
		Entries:  count,
	}
	s.log.Info("账单已导出", logger.Party(string(party.Type), party.ID),
		zap.String("month", st.Month), zap.Int("entries", count))
	return st, nil
}
