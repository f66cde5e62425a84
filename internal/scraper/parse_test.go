package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

func TestCleanRow(t *testing.T) {
	row := rawRow{
		Title:      "  AGUA MINERAL 500ML  ",
		Code:       " (Código: 7891234567890) ",
		Quantity:   "Qtde.:2,000",
		Unit:       "UN: un ",
		UnitPrice:  "Vl. Unit.:   4,69",
		TotalPrice: " 9,38 ",
	}

	got := cleanRow(row)

	assert.Equal(t, "AGUA MINERAL 500ML", got.Title)
	assert.Equal(t, "7891234567890", got.Code)
	assert.Equal(t, "2", got.Quantity)
	assert.Equal(t, "UN", got.Unit)
	assert.Equal(t, "4,69", got.UnitPrice)
	assert.Equal(t, "9,38", got.TotalPrice)
}

func TestCleanQuantity(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Qtde.:1,00", "1"},
		{"Qtde.:0,485", "0.485"},
		{"Qtde.:12", "12"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanQuantity(tt.raw), "raw=%q", tt.raw)
	}
}

func TestTotalsFromPairsBahia(t *testing.T) {
	pairs := []labelValue{
		{Label: "Qtd. total de itens:", Value: "3"},
		{Label: "Valor total R$:", Value: "27,50"},
		{Label: "Descontos R$:", Value: "0,00"},
		{Label: "Valor a pagar R$:", Value: "27,50"},
		{Label: "Cartão de Débito", Value: "27,50"},
		{Label: "Informação dos Tributos Totais Incidentes (Lei Federal 12.741/2012)", Value: "4,12"},
	}

	got := totalsFromPairs(pairs)

	assert.Equal(t, "3", got.TotalItems)
	assert.Equal(t, "27,50", got.TotalValue)
	assert.Equal(t, "0,00", got.Discount)
	assert.Equal(t, "27,50", got.AmountToPay)
	assert.Equal(t, "Cartão de Débito", got.PaymentType)
	assert.Equal(t, "27,50", got.PaymentAmount)
	assert.Equal(t, "4,12", got.TaxInfo)
}

func TestTotalsFromPairsRioPaymentHeader(t *testing.T) {
	// Rio prints a bare "Forma de pagamento:" header and puts the
	// instrument on the following row.
	pairs := []labelValue{
		{Label: "Valor total R$:", Value: "10,00"},
		{Label: "Forma de pagamento:", Value: ""},
		{Label: "Dinheiro", Value: "10,00"},
	}

	got := totalsFromPairs(pairs)

	assert.Equal(t, "10,00", got.TotalValue)
	assert.Equal(t, "Dinheiro", got.PaymentMethod)
	assert.Equal(t, "10,00", got.PaymentAmount)
}

func TestTotalsFromPairsEmpty(t *testing.T) {
	assert.Equal(t, nfce.Totals{}, totalsFromPairs(nil))
}

func TestMetadataFromText(t *testing.T) {
	info := "Número: 1234\nSérie: 2\nEmissão: 15/03/2025 18:22:10\nProtocolo de Autorização: 333250001234567"
	issuer := "CNPJ: 12.345.678/0001-90, Inscrição Estadual: 99999999"

	md := metadataFromText(info, " MERCADO EXEMPLO LTDA ", issuer)

	require.NotNil(t, md)
	assert.Equal(t, "1234", md.Number)
	assert.Equal(t, "2", md.Series)
	assert.Equal(t, "15/03/2025 18:22:10", md.IssuedAt)
	assert.Equal(t, "333250001234567", md.AuthProtocol)
	assert.Equal(t, "MERCADO EXEMPLO LTDA", md.IssuerName)
	assert.Equal(t, "12.345.678/0001-90", md.IssuerTaxID)
}

func TestMetadataFromTextAllMissing(t *testing.T) {
	assert.Nil(t, metadataFromText("", "", ""))
}
