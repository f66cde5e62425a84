package scraper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// extraInfoJS gathers the free-text blocks Rio receipts carry beyond
// the item table: the informative section and the issuer header.
const extraInfoJS = `(function() {
	var text = function(el) { return el ? el.textContent : ''; };
	var info = document.querySelector('.ui-collapsible-content.ui-body-inherit ul.ui-listview li');
	var center = document.querySelector('.txtCenter');
	var issuerName = '';
	var issuerText = '';
	if (center) {
		issuerName = text(center.querySelector('.txtTopo')).trim();
		issuerText = Array.from(center.querySelectorAll('.text'))
			.map(function(el) { return el.textContent; })
			.join('\n');
	}
	return {info: text(info), issuerName: issuerName, issuerText: issuerText};
})()`

type rioExtraInfo struct {
	Info       string `json:"info"`
	IssuerName string `json:"issuerName"`
	IssuerText string `json:"issuerText"`
}

// Rio scrapes the Sefaz-RJ consumer receipt page (jurisdiction 33).
// Rio pages are slower to render and expose document metadata the
// Bahia layout does not.
type Rio struct {
	logger *zap.Logger
}

// NewRio constructs the Rio strategy.
func NewRio(logger *zap.Logger) *Rio {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rio{logger: logger}
}

func (s *Rio) Scrape(ctx context.Context, page nfce.Page) (nfce.Payload, error) {
	items, err := extractItems(ctx, page, 30*time.Second)
	if err != nil {
		return nfce.Payload{}, err
	}

	pairs := extractTotalsPairs(ctx, page)
	if pairs == nil {
		s.logger.Warn("receipt totals block missing", zap.String("url", page.URL()))
	}

	payload := nfce.Payload{
		Items:  items,
		Totals: totalsFromPairs(pairs),
	}

	var extra rioExtraInfo
	if err := page.Evaluate(ctx, extraInfoJS, &extra); err != nil {
		// The metadata section is absent on some receipts. Items and
		// totals still make a usable payload.
		s.logger.Warn("receipt metadata section missing",
			zap.String("url", page.URL()), zap.Error(err))
		return payload, nil
	}
	payload.Metadata = metadataFromText(extra.Info, extra.IssuerName, extra.IssuerText)

	return payload, nil
}
