// Package awsagg groups the attributed-cost row stream into the nine
// summary outputs the warehouse writer persists (spec §4.7).
package awsagg

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/costpipeline/parquet-aggregator/internal/model"
)

var databaseProductCodes = map[string]struct{}{
	"AmazonRDS":         {},
	"AmazonDynamoDB":    {},
	"AmazonElastiCache": {},
	"AmazonNeptune":     {},
	"AmazonRedshift":    {},
	"AmazonDocumentDB":  {},
}

var networkProductCodes = map[string]struct{}{
	"AmazonVPC":        {},
	"AmazonCloudFront": {},
	"AmazonRoute53":    {},
	"AmazonAPIGateway": {},
}

// costAccum sums every cost field and tracks max of descriptive fields
// (spec §4.7 "Each output carries the sum of every cost field and max of
// descriptive fields").
type costAccum struct {
	row model.AWSSummaryRow
}

func (a *costAccum) add(r model.AWSSummaryRow) {
	a.row.UnblendedCost = a.row.UnblendedCost.Add(r.UnblendedCost)
	a.row.MarkupCost = a.row.MarkupCost.Add(r.MarkupCost)
	a.row.BlendedCost = a.row.BlendedCost.Add(r.BlendedCost)
	a.row.MarkupCostBlended = a.row.MarkupCostBlended.Add(r.MarkupCostBlended)
	a.row.SavingsPlanEffectiveCost = a.row.SavingsPlanEffectiveCost.Add(r.SavingsPlanEffectiveCost)
	a.row.MarkupCostSavingsPlan = a.row.MarkupCostSavingsPlan.Add(r.MarkupCostSavingsPlan)
	a.row.CalculatedAmortizedCost = a.row.CalculatedAmortizedCost.Add(r.CalculatedAmortizedCost)
	a.row.MarkupCostAmortized = a.row.MarkupCostAmortized.Add(r.MarkupCostAmortized)
	a.row.InfrastructureDataInGigabytes += r.InfrastructureDataInGigabytes
	a.row.InfrastructureDataOutGigabytes += r.InfrastructureDataOutGigabytes

	if r.ClusterID > a.row.ClusterID {
		a.row.ClusterID = r.ClusterID
	}
	if r.ClusterAlias > a.row.ClusterAlias {
		a.row.ClusterAlias = r.ClusterAlias
	}
	if r.CurrencyCode > a.row.CurrencyCode {
		a.row.CurrencyCode = r.CurrencyCode
	}
}

func newAccum(seed model.AWSSummaryRow) *costAccum {
	row := seed
	row.UnblendedCost = decimal.Decimal{}
	row.MarkupCost = decimal.Decimal{}
	row.BlendedCost = decimal.Decimal{}
	row.MarkupCostBlended = decimal.Decimal{}
	row.SavingsPlanEffectiveCost = decimal.Decimal{}
	row.MarkupCostSavingsPlan = decimal.Decimal{}
	row.CalculatedAmortizedCost = decimal.Decimal{}
	row.MarkupCostAmortized = decimal.Decimal{}
	row.InfrastructureDataInGigabytes = 0
	row.InfrastructureDataOutGigabytes = 0
	a := &costAccum{row: row}
	return a
}

func groupBy[K comparable](rows []model.AWSSummaryRow, keyFn func(model.AWSSummaryRow) K, filter func(model.AWSSummaryRow) bool) []model.AWSSummaryRow {
	order := make([]K, 0)
	groups := make(map[K]*costAccum)

	for _, r := range rows {
		if filter != nil && !filter(r) {
			continue
		}
		k := keyFn(r)
		g, ok := groups[k]
		if !ok {
			g = newAccum(r)
			groups[k] = g
			order = append(order, k)
		}
		g.add(r)
	}

	out := make([]model.AWSSummaryRow, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k].row)
	}
	return out
}

type detailKey struct {
	day, cluster, dataSource, namespace, node, pvc, pv, storageClass string
	resourceID, productCode, instanceType, account, az, region, unit string
	direction                                                        model.DataTransferDirection
}

// DetailedLineItems groups by the full detail tuple (spec §4.7 "detailed
// line items").
func DetailedLineItems(rows []model.AWSSummaryRow) []model.AWSSummaryRow {
	return groupBy(rows, func(r model.AWSSummaryRow) detailKey {
		return detailKey{
			day: dayKey(r.UsageStart), cluster: r.ClusterID, dataSource: string(r.DataSource),
			namespace: r.Namespace, node: r.Node, pvc: r.PersistentVolumeClaim, pv: r.PersistentVolume,
			storageClass: r.StorageClass, resourceID: r.ResourceID, productCode: r.ProductCode,
			instanceType: r.InstanceType, account: r.UsageAccountID, az: r.AvailabilityZone,
			region: r.Region, unit: r.Unit, direction: r.DataTransferDirection,
		}
	}, nil)
}

// ClusterTotals groups by day only (spec §4.7 "cluster totals").
func ClusterTotals(rows []model.AWSSummaryRow) []model.AWSSummaryRow {
	return groupBy(rows, func(r model.AWSSummaryRow) string { return dayKey(r.UsageStart) }, nil)
}

type accountKey struct{ day, account, alias string }

// ByAccount groups by (day, usage_account_id, account_alias_id).
func ByAccount(rows []model.AWSSummaryRow) []model.AWSSummaryRow {
	return groupBy(rows, func(r model.AWSSummaryRow) accountKey {
		return accountKey{dayKey(r.UsageStart), r.UsageAccountID, r.UsageAccountID}
	}, nil)
}

type serviceKey struct{ day, account, alias, productCode, productFamily string }

// ByService groups by (day, account, account_alias_id, product_code, product_family).
func ByService(rows []model.AWSSummaryRow) []model.AWSSummaryRow {
	return groupBy(rows, func(r model.AWSSummaryRow) serviceKey {
		return serviceKey{dayKey(r.UsageStart), r.UsageAccountID, r.UsageAccountID, r.ProductCode, r.ProductFamily}
	}, nil)
}

type regionKey struct{ day, account, alias, region, az string }

// ByRegion groups by (day, account, account_alias_id, region, availability_zone).
func ByRegion(rows []model.AWSSummaryRow) []model.AWSSummaryRow {
	return groupBy(rows, func(r model.AWSSummaryRow) regionKey {
		return regionKey{dayKey(r.UsageStart), r.UsageAccountID, r.UsageAccountID, r.Region, r.AvailabilityZone}
	}, nil)
}

type computeKey struct{ day, account, alias, instanceType, resourceID string }

// ComputeSummary groups by (day, account, account_alias_id, instance_type,
// resource_id), filtered to rows with a non-empty instance type.
func ComputeSummary(rows []model.AWSSummaryRow) []model.AWSSummaryRow {
	return groupBy(rows, func(r model.AWSSummaryRow) computeKey {
		return computeKey{dayKey(r.UsageStart), r.UsageAccountID, r.UsageAccountID, r.InstanceType, r.ResourceID}
	}, func(r model.AWSSummaryRow) bool { return r.InstanceType != "" })
}

type storageKey struct{ day, account, alias, productFamily string }

// StorageSummary groups by (day, account, account_alias_id, product_family),
// filtered to rows whose product family mentions storage and whose unit is
// GB-Mo.
func StorageSummary(rows []model.AWSSummaryRow) []model.AWSSummaryRow {
	return groupBy(rows, func(r model.AWSSummaryRow) storageKey {
		return storageKey{dayKey(r.UsageStart), r.UsageAccountID, r.UsageAccountID, r.ProductFamily}
	}, func(r model.AWSSummaryRow) bool {
		return strings.Contains(r.ProductFamily, "Storage") && r.Unit == "GB-Mo"
	})
}

type productKey struct{ day, account, alias, productCode string }

// DatabaseSummary groups by (day, account, account_alias_id, product_code),
// filtered to the fixed database product-code set (spec §4.7).
func DatabaseSummary(rows []model.AWSSummaryRow) []model.AWSSummaryRow {
	return groupBy(rows, func(r model.AWSSummaryRow) productKey {
		return productKey{dayKey(r.UsageStart), r.UsageAccountID, r.UsageAccountID, r.ProductCode}
	}, func(r model.AWSSummaryRow) bool {
		_, ok := databaseProductCodes[r.ProductCode]
		return ok
	})
}

// NetworkSummary groups by (day, account, account_alias_id, product_code),
// filtered to the fixed network product-code set (spec §4.7).
func NetworkSummary(rows []model.AWSSummaryRow) []model.AWSSummaryRow {
	return groupBy(rows, func(r model.AWSSummaryRow) productKey {
		return productKey{dayKey(r.UsageStart), r.UsageAccountID, r.UsageAccountID, r.ProductCode}
	}, func(r model.AWSSummaryRow) bool {
		_, ok := networkProductCodes[r.ProductCode]
		return ok
	})
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
