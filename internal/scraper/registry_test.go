package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Validate())

	bahia, err := r.ForJurisdiction(CodeBahia)
	require.NoError(t, err)
	assert.IsType(t, &Bahia{}, bahia)

	rio, err := r.ForJurisdiction(CodeRio)
	require.NoError(t, err)
	assert.IsType(t, &Rio{}, rio)

	assert.Equal(t, []string{"29", "33"}, r.Supported())
	assert.True(t, r.Supports("29"))
	assert.False(t, r.Supports("35"))

	_, err = r.ForJurisdiction("35")
	assert.ErrorIs(t, err, nfce.ErrUnknownJurisdiction)
}

// scriptedPage answers Evaluate calls with canned JSON keyed by the
// expression given, without a real browser.
type scriptedPage struct {
	results map[string]string
	waitErr error
}

func (p *scriptedPage) URL() string          { return "http://nfe.sefaz.ba.gov.br/example" }
func (p *scriptedPage) CreatedAt() time.Time { return time.Now() }

func (p *scriptedPage) WaitVisible(context.Context, string, time.Duration) error { return p.waitErr }
func (p *scriptedPage) HasElement(context.Context, string) (bool, error)         { return false, nil }
func (p *scriptedPage) Text(context.Context, string) (string, error)             { return "", nil }
func (p *scriptedPage) BodyText(context.Context) (string, error)                 { return "", nil }
func (p *scriptedPage) HTML(context.Context) (string, error)                     { return "", nil }
func (p *scriptedPage) HasFrameMatching(context.Context, string) (bool, error)   { return false, nil }
func (p *scriptedPage) Click(context.Context, string) error                      { return nil }
func (p *scriptedPage) SendKeys(context.Context, string, string) error           { return nil }
func (p *scriptedPage) Close() error                                             { return nil }

func (p *scriptedPage) Evaluate(_ context.Context, expr string, out any) error {
	raw, ok := p.results[expr]
	if !ok {
		return errors.New("no scripted result for expression")
	}
	return json.Unmarshal([]byte(raw), out)
}

func TestBahiaScrape(t *testing.T) {
	page := &scriptedPage{results: map[string]string{
		itemRowsJS: `[{"title":" CAFE TORRADO 500G ","code":"(Código: 789100011122)","quantity":"Qtde.:1,00","unit":"UN: UN","unitPrice":"Vl. Unit.: 18,90","totalPrice":"18,90"}]`,
		totalsJS:   `[{"label":"Qtd. total de itens:","value":"1"},{"label":"Valor a pagar R$:","value":"18,90"}]`,
	}}

	payload, err := NewBahia(nil).Scrape(context.Background(), page)
	require.NoError(t, err)

	require.Len(t, payload.Items, 1)
	assert.Equal(t, nfce.Item{
		Title:      "CAFE TORRADO 500G",
		Code:       "789100011122",
		Quantity:   "1",
		Unit:       "UN",
		UnitPrice:  "18,90",
		TotalPrice: "18,90",
	}, payload.Items[0])
	assert.Equal(t, "1", payload.Totals.TotalItems)
	assert.Equal(t, "18,90", payload.Totals.AmountToPay)
	assert.Nil(t, payload.Metadata)
}

func TestBahiaScrapeTableNeverRenders(t *testing.T) {
	page := &scriptedPage{waitErr: context.DeadlineExceeded}

	_, err := NewBahia(nil).Scrape(context.Background(), page)
	assert.Error(t, err)
}

func TestRioScrape(t *testing.T) {
	page := &scriptedPage{results: map[string]string{
		itemRowsJS:  `[{"title":"PAO FRANCES","code":"123","quantity":"Qtde.:0,485","unit":"UN: KG","unitPrice":"Vl. Unit.: 14,00","totalPrice":"6,79"}]`,
		totalsJS:    `[{"label":"Valor total R$:","value":"6,79"},{"label":"Forma de pagamento:","value":""},{"label":"Dinheiro","value":"6,79"}]`,
		extraInfoJS: `{"info":"Número: 55 Série: 1 Protocolo de Autorização: 3332500099","issuerName":"PADARIA CARIOCA","issuerText":"CNPJ: 11.222.333/0001-44"}`,
	}}

	payload, err := NewRio(nil).Scrape(context.Background(), page)
	require.NoError(t, err)

	require.Len(t, payload.Items, 1)
	assert.Equal(t, "0.485", payload.Items[0].Quantity)
	assert.Equal(t, "Dinheiro", payload.Totals.PaymentMethod)

	require.NotNil(t, payload.Metadata)
	assert.Equal(t, "55", payload.Metadata.Number)
	assert.Equal(t, "1", payload.Metadata.Series)
	assert.Equal(t, "3332500099", payload.Metadata.AuthProtocol)
	assert.Equal(t, "PADARIA CARIOCA", payload.Metadata.IssuerName)
	assert.Equal(t, "11.222.333/0001-44", payload.Metadata.IssuerTaxID)
}

func TestRioScrapeMetadataSectionMissing(t *testing.T) {
	page := &scriptedPage{results: map[string]string{
		itemRowsJS: `[]`,
		totalsJS:   `[]`,
	}}

	payload, err := NewRio(nil).Scrape(context.Background(), page)
	require.NoError(t, err)
	assert.Nil(t, payload.Metadata)
	assert.Empty(t, payload.Items)
}
