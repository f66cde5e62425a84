package scraper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// Bahia scrapes the Sefaz-BA consumer receipt page (jurisdiction 29).
type Bahia struct {
	logger *zap.Logger
}

// NewBahia constructs the Bahia strategy.
func NewBahia(logger *zap.Logger) *Bahia {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bahia{logger: logger}
}

func (s *Bahia) Scrape(ctx context.Context, page nfce.Page) (nfce.Payload, error) {
	items, err := extractItems(ctx, page, 15*time.Second)
	if err != nil {
		return nfce.Payload{}, err
	}

	pairs := extractTotalsPairs(ctx, page)
	if pairs == nil {
		s.logger.Warn("receipt totals block missing", zap.String("url", page.URL()))
	}

	return nfce.Payload{
		Items:  items,
		Totals: totalsFromPairs(pairs),
	}, nil
}
