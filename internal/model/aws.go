package model

import "time"

// LineItemType enumerates the lineitem_lineitemtype values the attributor
// special-cases (spec §4.6).
type LineItemType string

const (
	LineItemUsage                   LineItemType = "Usage"
	LineItemTax                     LineItemType = "Tax"
	LineItemSavingsPlanCoveredUsage LineItemType = "SavingsPlanCoveredUsage"
)

// LineItem is a single AWS Cost-and-Usage-Report row (spec §3 "AWS line
// item").
type LineItem struct {
	UsageStart               time.Time
	LineItemResourceID       string
	LineItemProductCode      string
	ProductProductFamily     string
	ProductProductName       string
	ProductInstanceType      string
	ProductRegion            string
	LineItemUsageType        string
	LineItemOperation        string
	LineItemUsageAmount      float64
	LineItemUnblendedCost    float64
	LineItemUnblendedRate    float64
	LineItemBlendedCost      float64
	LineItemLineItemType     LineItemType
	SavingsPlanEffectiveCost float64
	BillBillingEntity        string
	LineItemUsageAccountID   string
	LineItemAvailabilityZone string
	LineItemCurrencyCode     string
	PricingUnit              string
	ResourceTags             map[string]string
	CostCategory             map[string]string

	// Matched* fields are populated by the resource matcher (spec §4.5)
	// and consumed by the cost attributor (spec §4.6).
	ResourceIDMatched bool
	MatchedTag        string

	// MatchedNodeResourceID / MatchedPersistentVolume record which specific
	// OCP identifier satisfied the resource-id match, so the attributor
	// (spec §4.6) knows whether to route a matched row through the compute
	// or CSI-storage rule without re-deriving the suffix/substring check.
	MatchedNodeResourceID string
	MatchedPersistentVolume string
}

// EnabledTagKeys is the set of tag keys the warehouse allows through label
// filtering (spec §3). The four listed keys are always members regardless
// of what the warehouse table contains.
type EnabledTagKeys map[string]struct{}

// AlwaysEnabledTagKeys are the tag keys spec §3 requires regardless of
// external configuration.
var AlwaysEnabledTagKeys = []string{
	"openshift_cluster",
	"openshift_node",
	"openshift_project",
	"vm_kubevirt_io_name",
}

// NewEnabledTagKeys builds an EnabledTagKeys set from the warehouse-sourced
// keys plus the always-enabled set.
func NewEnabledTagKeys(fromWarehouse []string) EnabledTagKeys {
	set := make(EnabledTagKeys, len(fromWarehouse)+len(AlwaysEnabledTagKeys))
	for _, k := range fromWarehouse {
		set[k] = struct{}{}
	}
	for _, k := range AlwaysEnabledTagKeys {
		set[k] = struct{}{}
	}
	return set
}

func (s EnabledTagKeys) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// FilterTags returns a copy of tags containing only enabled keys.
func (s EnabledTagKeys) FilterTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if s.Has(k) {
			out[k] = v
		}
	}
	return out
}
