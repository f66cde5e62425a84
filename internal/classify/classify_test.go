package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

func TestOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		pageText string
		want     nfce.Status
	}{
		{
			name:     "ip block page",
			pageText: "IP bloqueado",
			want:     nfce.StatusBlocked,
		},
		{
			name:     "sefaz range block",
			pageText: "A SEFAZ bloqueia esta faixa de IP para consultas automatizadas.",
			want:     nfce.StatusBlocked,
		},
		{
			name:     "captcha challenge",
			pageText: "Resolva o CAPTCHA para continuar",
			want:     nfce.StatusBlocked,
		},
		{
			name:     "block phrase inside error message",
			err:      errors.New("navigation aborted: acesso bloqueado"),
			pageText: "",
			want:     nfce.StatusBlocked,
		},
		{
			name:     "protocol not found",
			pageText: "protocolo não encontrado",
			want:     nfce.StatusInvalid,
		},
		{
			name:     "note not found feminine form",
			pageText: "Nota fiscal não encontrada na base de dados",
			want:     nfce.StatusInvalid,
		},
		{
			name:     "access validation rejected",
			pageText: "Não foi possível validar o acesso à consulta",
			want:     nfce.StatusInvalid,
		},
		{
			name:     "improper consumption rejection",
			pageText: "Rejeição: Consumo Indevido",
			want:     nfce.StatusInvalid,
		},
		{
			name:     "block wins over invalid",
			pageText: "Protocolo não encontrado. IP bloqueado por excesso de consultas.",
			want:     nfce.StatusBlocked,
		},
		{
			name:     "plain error with empty page",
			err:      errors.New("timeout"),
			pageText: "",
			want:     nfce.StatusError,
		},
		{
			name:     "nothing wrong",
			pageText: "",
			want:     nfce.StatusDone,
		},
		{
			name:     "benign page text",
			pageText: "Consulta realizada com sucesso",
			want:     nfce.StatusDone,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Outcome(tc.err, tc.pageText))
		})
	}
}

func TestNeedsEscalation(t *testing.T) {
	t.Parallel()

	require.True(t, NeedsEscalation("Necessária verificação adicional para prosseguir com a consulta"))
	require.False(t, NeedsEscalation("protocolo não encontrado"))
	require.False(t, NeedsEscalation(""))
}
