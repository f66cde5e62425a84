// Package classify maps scraping failures and page text to a job
// outcome. It is the single place where SEFAZ response wording is
// interpreted.
package classify

import (
	"strings"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// rule associates an outcome with the phrases that trigger it. Rules
// are evaluated in order; the first match wins.
type rule struct {
	outcome nfce.Status
	phrases []string
}

// Phrases are matched case-insensitively against both the visible page
// text and the error message. BLOCKED precedes INVALID: a block page
// that also mentions the receipt must stay retryable.
var rules = []rule{
	{
		outcome: nfce.StatusBlocked,
		phrases: []string{
			"sefaz bloqueia esta faixa de ip",
			"bloqueado",
			"bloqueio",
			"captcha",
		},
	},
	{
		outcome: nfce.StatusInvalid,
		phrases: []string{
			"não foi possível validar o acesso",
			"rejeição: consumo indevido",
			"não encontrado",
			"não encontrada",
		},
	},
}

// Outcome runs the ordered rule list over the caught error and the
// extracted page text.
//
// Block/CAPTCHA wording is usually self-resolving (identity rotation,
// cooldown) and must stay retryable; permanent rejections must not
// burn retry budget; anything else that errored is conservatively
// retryable ERROR; a clean page is DONE.
func Outcome(err error, pageText string) nfce.Status {
	haystack := strings.ToLower(pageText)
	errText := ""
	if err != nil {
		errText = strings.ToLower(err.Error())
	}

	for _, r := range rules {
		for _, phrase := range r.phrases {
			if strings.Contains(haystack, phrase) || strings.Contains(errText, phrase) {
				return r.outcome
			}
		}
	}

	if errText != "" {
		return nfce.StatusError
	}
	return nfce.StatusDone
}

// escalationPhrase marks the INVALID variant that actually means the
// portal demands interactive verification and the job should go to the
// escalation queue instead of dying.
const escalationPhrase = "necessária verificação adicional"

// NeedsEscalation reports whether an INVALID page is really asking for
// interactive challenge resolution.
func NeedsEscalation(pageText string) bool {
	return strings.Contains(strings.ToLower(pageText), escalationPhrase)
}
