package collector

import (
	"context"
	"fmt"

	"github.com/ahrav/flawtracker/internal/config"
	"github.com/ahrav/flawtracker/internal/domain/keyword"
)

// SeedKeywords upserts the keyword entries from the config file. Entries
// already stored but absent from specs are left alone.
func SeedKeywords(ctx context.Context, repo keyword.Repository, specs []config.KeywordSpec) (int, error) {
	for i, spec := range specs {
		kw, err := keyword.New(spec.Keyword, keyword.Type(spec.Type))
		if err != nil {
			return i, fmt.Errorf("keyword %d (%q): %w", i, spec.Keyword, err)
		}
		if err := repo.Upsert(ctx, kw); err != nil {
			return i, fmt.Errorf("storing keyword %q: %w", spec.Keyword, err)
		}
	}
	return len(specs), nil
}
