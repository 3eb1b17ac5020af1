// Package quota is the tier-3 source for weekly quota consumption. A
// user-managed YAML document supplies a manually maintained percentage
// that is authoritative over any cached or derived value whenever it is
// present.
package quota

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/wilbur182/pulse/internal/source"
	"github.com/wilbur182/pulse/internal/sources/billing"
)

// CategoryName is the freshness category quota data is cached under.
const CategoryName = "quota"

// doc is the user-managed quota document.
type doc struct {
	// WeeklyPercent is the manual override. Nil means not maintained.
	WeeklyPercent *float64 `yaml:"weekly_percent"`
	// WeeklyLimitUSD lets the percentage be derived from billing cost
	// when no manual value is kept.
	WeeklyLimitUSD float64 `yaml:"weekly_limit_usd"`
}

// Descriptor returns the quota data source.
func Descriptor(timeout time.Duration) source.Descriptor {
	return source.New(
		"quota",
		source.TierGlobal,
		source.Options{Category: CategoryName, Timeout: timeout},
		fetch,
		merge,
	)
}

func fetch(_ context.Context, inv *source.Invocation) (source.QuotaInfo, error) {
	data, err := os.ReadFile(inv.Cfg.Quota.Path)
	if err != nil {
		return source.QuotaInfo{}, errors.Wrap(err, "quota: read document")
	}

	var d doc
	if err := yaml.Unmarshal(data, &d); err != nil {
		return source.QuotaInfo{}, errors.Wrap(err, "quota: parse document")
	}

	if d.WeeklyPercent != nil {
		return source.QuotaInfo{WeeklyPercent: *d.WeeklyPercent, Source: "manual"}, nil
	}

	if d.WeeklyLimitUSD > 0 {
		if pct, ok := deriveFromBilling(inv, d.WeeklyLimitUSD); ok {
			return source.QuotaInfo{WeeklyPercent: pct, Source: "derived"}, nil
		}
	}
	return source.QuotaInfo{}, errors.New("quota: no usable value in document")
}

// deriveFromBilling computes percent-of-limit from the cached billing
// entry. Staleness is acceptable here: the figure is advisory and the
// manual value always wins when present.
func deriveFromBilling(inv *source.Invocation, limitUSD float64) (float64, bool) {
	entry, _ := inv.Store.Read(billing.CategoryName)
	if entry == nil {
		return 0, false
	}
	var info source.BillingInfo
	if err := json.Unmarshal(entry.Value, &info); err != nil {
		return 0, false
	}
	return info.CostUSD / limitUSD * 100, true
}

func merge(info source.QuotaInfo, h *source.Health) {
	h.Quota = &info
}
