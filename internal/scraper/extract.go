// Package scraper turns rendered receipt pages into structured
// payloads. Each jurisdiction ships one strategy; the registry maps
// the two-digit code embedded in the lookup URL to it.
package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// resultTableSelector anchors every supported portal layout. The
// strategies wait on it before extracting anything.
const resultTableSelector = "#tabResult tr"

// itemRowsJS pulls the raw text of each product row. Cleanup happens
// Go-side so it stays testable without a browser.
const itemRowsJS = `(function() {
	return Array.from(document.querySelectorAll('#tabResult tr')).map(function(row) {
		var pick = function(sel) {
			var el = row.querySelector(sel);
			return el ? el.textContent : '';
		};
		return {
			title: pick('.txtTit'),
			code: pick('.RCod'),
			quantity: pick('.Rqtd'),
			unit: pick('.RUN'),
			unitPrice: pick('.RvlUnit'),
			totalPrice: pick('.valor')
		};
	});
})()`

// totalsJS pulls the label/value pairs of the summary block in
// document order.
const totalsJS = `(function() {
	return Array.from(document.querySelectorAll('#totalNota > div')).map(function(div) {
		var label = div.querySelector('label');
		var span = div.querySelector('span');
		return {
			label: label ? label.textContent.trim() : '',
			value: span ? span.textContent.trim() : ''
		};
	});
})()`

type rawRow struct {
	Title      string `json:"title"`
	Code       string `json:"code"`
	Quantity   string `json:"quantity"`
	Unit       string `json:"unit"`
	UnitPrice  string `json:"unitPrice"`
	TotalPrice string `json:"totalPrice"`
}

type labelValue struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

func extractItems(ctx context.Context, page nfce.Page, waitTimeout time.Duration) ([]nfce.Item, error) {
	if err := page.WaitVisible(ctx, resultTableSelector, waitTimeout); err != nil {
		return nil, fmt.Errorf("waiting for result table: %w", err)
	}

	var rows []rawRow
	if err := page.Evaluate(ctx, itemRowsJS, &rows); err != nil {
		return nil, fmt.Errorf("extracting item rows: %w", err)
	}

	items := make([]nfce.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, cleanRow(row))
	}
	return items, nil
}

func extractTotalsPairs(ctx context.Context, page nfce.Page) []labelValue {
	var pairs []labelValue
	if err := page.Evaluate(ctx, totalsJS, &pairs); err != nil {
		// The totals block is optional on some receipts.
		return nil
	}
	return pairs
}
