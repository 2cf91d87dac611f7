// Package attribution turns matched AWS line items into namespace-level
// attributed-cost rows (spec §4.6).
package attribution

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	cpierrors "github.com/costpipeline/parquet-aggregator/internal/errors"
	"github.com/costpipeline/parquet-aggregator/internal/model"
)

// PreprocessedItem is an AWS line item after spec §4.6's line-item
// preprocessing rules, with cost fields promoted to decimal.Decimal.
type PreprocessedItem struct {
	model.LineItem

	UnblendedCost           decimal.Decimal
	BlendedCost             decimal.Decimal
	SavingsPlanEffectiveCost decimal.Decimal
	CalculatedAmortizedCost decimal.Decimal
	ProductCode             string
	DataTransferDirection   model.DataTransferDirection
}

// Preprocess applies spec §4.6's "Line-item preprocessing" rules to a
// matched AWS line item.
func Preprocess(item model.LineItem) PreprocessedItem {
	unblended := decimal.NewFromFloat(item.LineItemUnblendedCost)
	blended := decimal.NewFromFloat(item.LineItemBlendedCost)
	savingsPlan := decimal.NewFromFloat(item.SavingsPlanEffectiveCost)

	if item.LineItemLineItemType == model.LineItemSavingsPlanCoveredUsage {
		unblended = decimal.Zero
		blended = decimal.Zero
	}

	var amortized decimal.Decimal
	switch item.LineItemLineItemType {
	case model.LineItemTax, model.LineItemUsage:
		amortized = unblended
	default:
		amortized = savingsPlan
	}

	productCode := item.LineItemProductCode
	if item.BillBillingEntity == "AWS Marketplace" {
		if item.ProductProductName != "" {
			productCode = item.ProductProductName
		}
	}

	direction := deriveDataTransferDirection(item)

	return PreprocessedItem{
		LineItem:                 item,
		UnblendedCost:            unblended,
		BlendedCost:              blended,
		SavingsPlanEffectiveCost: savingsPlan,
		CalculatedAmortizedCost:  amortized,
		ProductCode:              productCode,
		DataTransferDirection:    direction,
	}
}

func deriveDataTransferDirection(item model.LineItem) model.DataTransferDirection {
	if item.LineItemProductCode != "AmazonEC2" || item.ProductProductFamily != "Data Transfer" {
		return model.DirectionNone
	}

	usageType := strings.ToLower(item.LineItemUsageType)
	operation := strings.ToLower(item.LineItemOperation)

	switch {
	case strings.Contains(usageType, "in-bytes"):
		return model.DirectionIn
	case strings.Contains(usageType, "out-bytes"):
		return model.DirectionOut
	case strings.Contains(usageType, "regional-bytes"):
		if strings.Contains(operation, "-in") {
			return model.DirectionIn
		}
		if strings.Contains(operation, "-out") {
			return model.DirectionOut
		}
	}
	return model.DirectionNone
}

// costFields names the cost columns markup and rounding apply to
// independently (spec §4.6 "Markup").
type costFields struct {
	unblended, markupUnblended           decimal.Decimal
	blended, markupBlended               decimal.Decimal
	savingsPlan, markupSavingsPlan        decimal.Decimal
	amortized, markupAmortized            decimal.Decimal
}

func applyMarkup(unblended, blended, savingsPlan, amortized decimal.Decimal, markup float64) costFields {
	m := decimal.NewFromFloat(markup)
	return costFields{
		unblended:          unblended,
		markupUnblended:    unblended.Mul(m),
		blended:            blended,
		markupBlended:      blended.Mul(m),
		savingsPlan:        savingsPlan,
		markupSavingsPlan:  savingsPlan.Mul(m),
		amortized:          amortized,
		markupAmortized:    amortized.Mul(m),
	}
}

func scaleCostFields(cf costFields, ratio decimal.Decimal) costFields {
	return costFields{
		unblended:         cf.unblended.Mul(ratio),
		markupUnblended:   cf.markupUnblended.Mul(ratio),
		blended:           cf.blended.Mul(ratio),
		markupBlended:     cf.markupBlended.Mul(ratio),
		savingsPlan:       cf.savingsPlan.Mul(ratio),
		markupSavingsPlan: cf.markupSavingsPlan.Mul(ratio),
		amortized:         cf.amortized.Mul(ratio),
		markupAmortized:   cf.markupAmortized.Mul(ratio),
	}
}

func rowFromCostFields(base model.AWSSummaryRow, cf costFields) model.AWSSummaryRow {
	base.UnblendedCost = cf.unblended
	base.MarkupCost = cf.markupUnblended
	base.BlendedCost = cf.blended
	base.MarkupCostBlended = cf.markupBlended
	base.SavingsPlanEffectiveCost = cf.savingsPlan
	base.MarkupCostSavingsPlan = cf.markupSavingsPlan
	base.CalculatedAmortizedCost = cf.amortized
	base.MarkupCostAmortized = cf.markupAmortized
	return base
}

// NodePodView is the minimal per-pod view the compute attributor needs:
// usage relative to the node's capacity for the same day.
type NodePodView struct {
	ClusterID            string
	ClusterAlias          string
	Namespace             string
	Node                  string
	UsageStart            time.Time
	PodUsageCPUCoreHours  float64
	PodUsageMemoryGigabyteHours float64
	NodeCapacityCPUCoreHours    float64
	NodeCapacityMemoryGigabyteHours float64
	Labels                model.Labels
}

// AttributeCompute distributes a matched compute line item's cost across
// every pod observed on the matched node that day, using the conservative
// (larger) of the CPU and memory usage ratios (spec §4.6 "Compute").
func AttributeCompute(item PreprocessedItem, markup float64, pods []NodePodView) []model.AWSSummaryRow {
	cf := applyMarkup(item.UnblendedCost, item.BlendedCost, item.SavingsPlanEffectiveCost, item.CalculatedAmortizedCost, markup)

	out := make([]model.AWSSummaryRow, 0, len(pods))
	for _, p := range pods {
		r := computeRatio(p)
		ratio := decimal.NewFromFloat(r)

		row := model.AWSSummaryRow{
			OCPSummaryRow: model.OCPSummaryRow{
				UsageStart:   p.UsageStart,
				ClusterID:    p.ClusterID,
				ClusterAlias: p.ClusterAlias,
				DataSource:   model.DataSourcePod,
				Namespace:  p.Namespace,
				Node:       p.Node,
			},
			ResourceID:       item.LineItemResourceID,
			ProductCode:      item.ProductCode,
			ProductFamily:    item.ProductProductFamily,
			InstanceType:     item.ProductInstanceType,
			UsageAccountID:   item.LineItemUsageAccountID,
			AvailabilityZone: item.LineItemAvailabilityZone,
			Region:           item.ProductRegion,
			Unit:             item.PricingUnit,
			UsageAmount:      decimal.NewFromFloat(item.LineItemUsageAmount),
			CurrencyCode:     item.LineItemCurrencyCode,
			ResourceIDMatched: item.ResourceIDMatched,
			TagMatched:        item.MatchedTag,
		}
		out = append(out, rowFromCostFields(row, scaleCostFields(cf, ratio)))
	}
	return out
}

func computeRatio(p NodePodView) float64 {
	var cpuRatio, memRatio float64
	if p.NodeCapacityCPUCoreHours > 0 {
		cpuRatio = p.PodUsageCPUCoreHours / p.NodeCapacityCPUCoreHours
	}
	if p.NodeCapacityMemoryGigabyteHours > 0 {
		memRatio = p.PodUsageMemoryGigabyteHours / p.NodeCapacityMemoryGigabyteHours
	}
	if cpuRatio > memRatio {
		return cpuRatio
	}
	return memRatio
}

// PVCView is the minimal per-claim view storage attribution needs.
type PVCView struct {
	ClusterID             string
	Namespace             string
	PersistentVolume      string
	PersistentVolumeClaim string
	CapacityBytes         float64
}

// AttributeStorageCSI distributes the cost of a matched CSI-backed EBS line
// item across the PVCs sharing that volume, proportional to capacity (spec
// §4.6 "Storage (CSI)" and "Multi-cluster shared volume"). hoursInMonth and
// the line item's unblended cost/rate determine disk capacity; claims spans
// every cluster that observed the volume that day. Residual capacity not
// claimed by any PVC is attributed to "Storage unattributed" on the
// canonical (lexicographically smallest) cluster.
func AttributeStorageCSI(item PreprocessedItem, markup float64, hoursInMonth float64, claims []PVCView) ([]model.AWSSummaryRow, error) {
	if item.LineItemUnblendedRate <= 0 || hoursInMonth <= 0 {
		return nil, cpierrors.New(cpierrors.AttributionInvariant, "", "attributing",
			"disk capacity undefined: unblended rate or hours-in-month is non-positive")
	}

	diskCapacityBytes := (item.LineItemUnblendedCost / (item.LineItemUnblendedRate / hoursInMonth)) * (1 << 30)
	if diskCapacityBytes <= 0 && totalClaimedBytes(claims) > 0 {
		return nil, cpierrors.New(cpierrors.AttributionInvariant, "", "attributing",
			"disk capacity is non-positive but nonzero PVC capacity claims against it")
	}

	cf := applyMarkup(item.UnblendedCost, item.BlendedCost, item.SavingsPlanEffectiveCost, item.CalculatedAmortizedCost, markup)

	canonicalCluster := canonicalClusterOf(claims)
	var claimedBytes float64
	out := make([]model.AWSSummaryRow, 0, len(claims)+1)

	for _, c := range claims {
		claimedBytes += c.CapacityBytes
		var ratio decimal.Decimal
		if diskCapacityBytes > 0 {
			ratio = decimal.NewFromFloat(c.CapacityBytes / diskCapacityBytes)
		}
		row := model.AWSSummaryRow{
			OCPSummaryRow: model.OCPSummaryRow{
				ClusterID:             c.ClusterID,
				DataSource:            model.DataSourceStorage,
				Namespace:             c.Namespace,
				PersistentVolume:      c.PersistentVolume,
				PersistentVolumeClaim: c.PersistentVolumeClaim,
			},
			ResourceID:        item.LineItemResourceID,
			ProductCode:       item.ProductCode,
			ProductFamily:     item.ProductProductFamily,
			InstanceType:      item.ProductInstanceType,
			UsageAccountID:    item.LineItemUsageAccountID,
			AvailabilityZone:  item.LineItemAvailabilityZone,
			Region:            item.ProductRegion,
			Unit:              item.PricingUnit,
			UsageAmount:       decimal.NewFromFloat(item.LineItemUsageAmount),
			CurrencyCode:      item.LineItemCurrencyCode,
			ResourceIDMatched: item.ResourceIDMatched,
			TagMatched:        item.MatchedTag,
		}
		out = append(out, rowFromCostFields(row, scaleCostFields(cf, ratio)))
	}

	residualBytes := diskCapacityBytes - claimedBytes
	if residualBytes > 0 {
		ratio := decimal.NewFromFloat(residualBytes / diskCapacityBytes)
		row := model.AWSSummaryRow{
			OCPSummaryRow: model.OCPSummaryRow{
				ClusterID:  canonicalCluster,
				DataSource: model.DataSourceStorage,
				Namespace:  model.NamespaceStorageUnattributed,
			},
			ResourceID:        item.LineItemResourceID,
			ProductCode:       item.ProductCode,
			ProductFamily:     item.ProductProductFamily,
			InstanceType:      item.ProductInstanceType,
			UsageAccountID:    item.LineItemUsageAccountID,
			AvailabilityZone:  item.LineItemAvailabilityZone,
			Region:            item.ProductRegion,
			Unit:              item.PricingUnit,
			UsageAmount:       decimal.NewFromFloat(item.LineItemUsageAmount),
			CurrencyCode:      item.LineItemCurrencyCode,
			ResourceIDMatched: item.ResourceIDMatched,
			TagMatched:        item.MatchedTag,
		}
		out = append(out, rowFromCostFields(row, scaleCostFields(cf, ratio)))
	}

	return out, nil
}

func totalClaimedBytes(claims []PVCView) float64 {
	var total float64
	for _, c := range claims {
		total += c.CapacityBytes
	}
	return total
}

func canonicalClusterOf(claims []PVCView) string {
	clusters := make([]string, 0, len(claims))
	for _, c := range claims {
		clusters = append(clusters, c.ClusterID)
	}
	sort.Strings(clusters)
	if len(clusters) == 0 {
		return ""
	}
	return clusters[0]
}

// AttributeStorageTagOnly attributes a non-CSI EBS row, matched only by an
// openshift_project tag, entirely to that namespace (spec §4.6 "Non-CSI
// storage (tag-only)").
func AttributeStorageTagOnly(item PreprocessedItem, markup float64, clusterID, namespace string) model.AWSSummaryRow {
	cf := applyMarkup(item.UnblendedCost, item.BlendedCost, item.SavingsPlanEffectiveCost, item.CalculatedAmortizedCost, markup)
	row := model.AWSSummaryRow{
		OCPSummaryRow: model.OCPSummaryRow{
			ClusterID:  clusterID,
			DataSource: model.DataSourceStorage,
			Namespace:  namespace,
		},
		ResourceID:        item.LineItemResourceID,
		ProductCode:       item.ProductCode,
		ProductFamily:     item.ProductProductFamily,
		InstanceType:      item.ProductInstanceType,
		UsageAccountID:    item.LineItemUsageAccountID,
		AvailabilityZone:  item.LineItemAvailabilityZone,
		Region:            item.ProductRegion,
		Unit:              item.PricingUnit,
		UsageAmount:       decimal.NewFromFloat(item.LineItemUsageAmount),
		CurrencyCode:      item.LineItemCurrencyCode,
		ResourceIDMatched: item.ResourceIDMatched,
		TagMatched:        item.MatchedTag,
	}
	return rowFromCostFields(row, cf)
}

// AttributeNetwork attributes a data-transfer line item to the "Network
// unattributed" bucket on the matched node (spec §4.6 "Network").
func AttributeNetwork(item PreprocessedItem, markup float64, clusterID, node string) model.AWSSummaryRow {
	cf := applyMarkup(item.UnblendedCost, item.BlendedCost, item.SavingsPlanEffectiveCost, item.CalculatedAmortizedCost, markup)
	row := model.AWSSummaryRow{
		OCPSummaryRow: model.OCPSummaryRow{
			ClusterID:  clusterID,
			DataSource: model.DataSourceNode,
			Namespace:  model.NamespaceNetworkUnattributed,
			Node:       node,
		},
		ResourceID:            item.LineItemResourceID,
		ProductCode:           item.ProductCode,
		ProductFamily:         item.ProductProductFamily,
		InstanceType:          item.ProductInstanceType,
		UsageAccountID:        item.LineItemUsageAccountID,
		AvailabilityZone:      item.LineItemAvailabilityZone,
		Region:                item.ProductRegion,
		Unit:                  item.PricingUnit,
		UsageAmount:           decimal.NewFromFloat(item.LineItemUsageAmount),
		CurrencyCode:          item.LineItemCurrencyCode,
		DataTransferDirection: item.DataTransferDirection,
		ResourceIDMatched:     item.ResourceIDMatched,
		TagMatched:            item.MatchedTag,
	}
	switch item.DataTransferDirection {
	case model.DirectionIn:
		row.InfrastructureDataInGigabytes = item.LineItemUsageAmount
	case model.DirectionOut:
		row.InfrastructureDataOutGigabytes = item.LineItemUsageAmount
	}
	return rowFromCostFields(row, cf)
}
