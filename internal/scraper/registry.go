package scraper

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// Jurisdiction codes as they appear in the access-key parameter of the
// lookup URL.
const (
	CodeBahia = "29"
	CodeRio   = "33"
)

// Registry maps jurisdiction codes to their scraper strategies. The
// mapping is fixed at construction.
type Registry struct {
	strategies map[string]nfce.Scraper
}

// NewRegistry builds the registry with every supported jurisdiction.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		strategies: map[string]nfce.Scraper{
			CodeBahia: NewBahia(logger),
			CodeRio:   NewRio(logger),
		},
	}
}

// ForJurisdiction returns the strategy for a code, or
// nfce.ErrUnknownJurisdiction when the code is unsupported.
func (r *Registry) ForJurisdiction(code string) (nfce.Scraper, error) {
	s, ok := r.strategies[code]
	if !ok {
		return nil, fmt.Errorf("jurisdiction %q: %w", code, nfce.ErrUnknownJurisdiction)
	}
	return s, nil
}

// Supports reports whether the code has a registered strategy.
func (r *Registry) Supports(code string) bool {
	_, ok := r.strategies[code]
	return ok
}

// Supported lists the registered codes in ascending order.
func (r *Registry) Supported() []string {
	codes := make([]string, 0, len(r.strategies))
	for code := range r.strategies {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Validate checks that every strategy is non-nil. Called once at
// startup so a wiring mistake fails the process instead of every job.
func (r *Registry) Validate() error {
	for code, s := range r.strategies {
		if s == nil {
			return fmt.Errorf("jurisdiction %q has no strategy", code)
		}
	}
	if len(r.strategies) == 0 {
		return fmt.Errorf("no scraper strategies registered")
	}
	return nil
}
