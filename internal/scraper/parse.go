package scraper

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

var (
	nonDigits         = regexp.MustCompile(`[^\d]`)
	nonDigitsOrComma  = regexp.MustCompile(`[^\d,]`)
	unitLabelPrefix   = regexp.MustCompile(`(?i).*UN:\s*`)
	receiptNumber     = regexp.MustCompile(`Número:\s*(\d+)`)
	receiptSeries     = regexp.MustCompile(`Série:\s*(\d+)`)
	receiptIssuedAt   = regexp.MustCompile(`Emissão:\s*([^\n]+)`)
	receiptProtocol   = regexp.MustCompile(`Protocolo de Autorização:\s*(\d+)`)
	issuerTaxIDFormat = regexp.MustCompile(`CNPJ:\s*(\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2})`)
)

func cleanRow(row rawRow) nfce.Item {
	return nfce.Item{
		Title:      strings.TrimSpace(row.Title),
		Code:       cleanCode(row.Code),
		Quantity:   cleanQuantity(row.Quantity),
		Unit:       cleanUnit(row.Unit),
		UnitPrice:  cleanMoney(row.UnitPrice),
		TotalPrice: strings.TrimSpace(row.TotalPrice),
	}
}

// cleanCode strips the "(Código: ...)" dressing down to the digits.
func cleanCode(raw string) string {
	return nonDigits.ReplaceAllString(raw, "")
}

// cleanQuantity turns "Qtde.:1,00" into "1". The portal prints
// quantities with a decimal comma and trailing zeros.
func cleanQuantity(raw string) string {
	cleaned := strings.TrimSpace(nonDigitsOrComma.ReplaceAllString(raw, ""))
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return cleaned
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// cleanUnit turns "UN: UN" into "UN".
func cleanUnit(raw string) string {
	return strings.ToUpper(strings.TrimSpace(unitLabelPrefix.ReplaceAllString(raw, "")))
}

// cleanMoney turns "Vl. Unit.:   4,69" into "4,69", keeping the
// portal's decimal comma.
func cleanMoney(raw string) string {
	return strings.TrimSpace(nonDigitsOrComma.ReplaceAllString(raw, ""))
}

// totalsFromPairs maps the summary block's label/value pairs onto the
// totals struct. Labels are matched by substring because the portals
// append varying punctuation and whitespace.
func totalsFromPairs(pairs []labelValue) nfce.Totals {
	var t nfce.Totals
	for i, pair := range pairs {
		switch {
		case strings.Contains(pair.Label, "Qtd. total de itens"):
			t.TotalItems = pair.Value
		case strings.Contains(pair.Label, "Valor total R$"):
			t.TotalValue = pair.Value
		case strings.Contains(pair.Label, "Descontos R$"):
			t.Discount = pair.Value
		case strings.Contains(pair.Label, "Valor a pagar R$"):
			t.AmountToPay = pair.Value
		case strings.Contains(pair.Label, "Informação dos Tributos Totais Incidentes"):
			t.TaxInfo = pair.Value
		case strings.Contains(pair.Label, "Cartão de Débito"),
			strings.Contains(pair.Label, "Cartão de Crédito"):
			t.PaymentType = pair.Label
			t.PaymentAmount = pair.Value
		case strings.Contains(pair.Label, "Forma de pagamento"):
			t.PaymentMethod = pair.Value
			// Rio lists the actual instrument in the row after the
			// "Forma de pagamento:" header.
			if t.PaymentMethod == "" && i+1 < len(pairs) {
				next := pairs[i+1]
				if next.Label != "" && next.Value != "" {
					t.PaymentMethod = next.Label
					t.PaymentAmount = next.Value
				}
			}
		}
	}
	return t
}

// metadataFromText pulls document-level fields out of the informative
// section's free text.
func metadataFromText(infoText, issuerName, issuerText string) *nfce.Metadata {
	md := &nfce.Metadata{IssuerName: strings.TrimSpace(issuerName)}

	if m := receiptNumber.FindStringSubmatch(infoText); m != nil {
		md.Number = m[1]
	}
	if m := receiptSeries.FindStringSubmatch(infoText); m != nil {
		md.Series = m[1]
	}
	if m := receiptIssuedAt.FindStringSubmatch(infoText); m != nil {
		md.IssuedAt = strings.TrimSpace(m[1])
	}
	if m := receiptProtocol.FindStringSubmatch(infoText); m != nil {
		md.AuthProtocol = m[1]
	}
	if m := issuerTaxIDFormat.FindStringSubmatch(issuerText); m != nil {
		md.IssuerTaxID = m[1]
	}

	if *md == (nfce.Metadata{}) {
		return nil
	}
	return md
}
