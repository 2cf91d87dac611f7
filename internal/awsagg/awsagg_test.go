package awsagg

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/costpipeline/parquet-aggregator/internal/model"
)

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func row(usageStart time.Time, account, productCode, productFamily, instanceType, unit string, cost float64) model.AWSSummaryRow {
	r := model.AWSSummaryRow{
		UsageAccountID: account,
		ProductCode:    productCode,
		ProductFamily:  productFamily,
		InstanceType:   instanceType,
		Unit:           unit,
	}
	r.UsageStart = usageStart
	r.UnblendedCost = decimal.NewFromFloat(cost)
	return r
}

func TestDetailedLineItems_GroupsByFullDetailTuple(t *testing.T) {
	d := day("2026-07-01")
	rows := []model.AWSSummaryRow{
		row(d, "acct1", "AmazonEC2", "Compute Instance", "m5.large", "Hrs", 10),
		row(d, "acct1", "AmazonEC2", "Compute Instance", "m5.large", "Hrs", 5),
		row(d, "acct1", "AmazonEC2", "Compute Instance", "m5.xlarge", "Hrs", 7),
	}

	out := DetailedLineItems(rows)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].UnblendedCost.String() != "15" {
		t.Errorf("first group cost = %v, want 15", out[0].UnblendedCost)
	}
	if out[1].UnblendedCost.String() != "7" {
		t.Errorf("second group cost = %v, want 7", out[1].UnblendedCost)
	}
}

func TestClusterTotals_GroupsByDayOnly(t *testing.T) {
	d1 := day("2026-07-01")
	d2 := day("2026-07-02")
	rows := []model.AWSSummaryRow{
		row(d1, "acct1", "AmazonEC2", "Compute", "m5.large", "Hrs", 10),
		row(d1, "acct2", "AmazonRDS", "Database", "", "Hrs", 20),
		row(d2, "acct1", "AmazonEC2", "Compute", "m5.large", "Hrs", 3),
	}

	out := ClusterTotals(rows)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].UnblendedCost.String() != "30" {
		t.Errorf("day1 total = %v, want 30", out[0].UnblendedCost)
	}
	if out[1].UnblendedCost.String() != "3" {
		t.Errorf("day2 total = %v, want 3", out[1].UnblendedCost)
	}
}

func TestComputeSummary_FiltersToNonEmptyInstanceType(t *testing.T) {
	d := day("2026-07-01")
	rows := []model.AWSSummaryRow{
		row(d, "acct1", "AmazonEC2", "Compute Instance", "m5.large", "Hrs", 10),
		row(d, "acct1", "AmazonRDS", "Database", "", "Hrs", 20),
	}

	out := ComputeSummary(rows)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0].InstanceType != "m5.large" {
		t.Errorf("InstanceType = %q, want m5.large", out[0].InstanceType)
	}
}

func TestStorageSummary_FiltersToStorageProductFamilyAndGBMoUnit(t *testing.T) {
	d := day("2026-07-01")
	rows := []model.AWSSummaryRow{
		row(d, "acct1", "AmazonEBS", "Storage", "", "GB-Mo", 10),
		row(d, "acct1", "AmazonEBS", "Storage Snapshot", "", "GB-Mo", 4),
		row(d, "acct1", "AmazonEBS", "Storage", "", "Hrs", 99), // wrong unit, excluded
		row(d, "acct1", "AmazonEC2", "Compute Instance", "m5.large", "Hrs", 7),
	}

	out := StorageSummary(rows)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
}

func TestDatabaseSummary_FiltersToFixedProductCodeSet(t *testing.T) {
	d := day("2026-07-01")
	rows := []model.AWSSummaryRow{
		row(d, "acct1", "AmazonRDS", "Database", "", "Hrs", 10),
		row(d, "acct1", "AmazonDynamoDB", "NoSQL Database", "", "Hrs", 5),
		row(d, "acct1", "AmazonEC2", "Compute Instance", "m5.large", "Hrs", 7),
	}

	out := DatabaseSummary(rows)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
}

func TestNetworkSummary_FiltersToFixedProductCodeSet(t *testing.T) {
	d := day("2026-07-01")
	rows := []model.AWSSummaryRow{
		row(d, "acct1", "AmazonVPC", "Network", "", "Hrs", 1),
		row(d, "acct1", "AmazonCloudFront", "Content Delivery", "", "Hrs", 2),
		row(d, "acct1", "AmazonRDS", "Database", "", "Hrs", 3),
	}

	out := NetworkSummary(rows)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
}

func TestByAccount_SumsCostAcrossMatchingRows(t *testing.T) {
	d := day("2026-07-01")
	rows := []model.AWSSummaryRow{
		row(d, "acct1", "AmazonEC2", "Compute Instance", "m5.large", "Hrs", 10),
		row(d, "acct1", "AmazonRDS", "Database", "", "Hrs", 5),
		row(d, "acct2", "AmazonEC2", "Compute Instance", "m5.large", "Hrs", 1),
	}

	out := ByAccount(rows)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].UnblendedCost.String() != "15" {
		t.Errorf("acct1 total = %v, want 15", out[0].UnblendedCost)
	}
}

func TestGroupBy_PreservesFirstSeenOrder(t *testing.T) {
	d := day("2026-07-01")
	rows := []model.AWSSummaryRow{
		row(d, "acct2", "AmazonEC2", "Compute Instance", "m5.large", "Hrs", 1),
		row(d, "acct1", "AmazonEC2", "Compute Instance", "m5.large", "Hrs", 1),
		row(d, "acct2", "AmazonEC2", "Compute Instance", "m5.large", "Hrs", 1),
	}

	out := ByAccount(rows)
	if len(out) != 2 || out[0].UsageAccountID != "acct2" || out[1].UsageAccountID != "acct1" {
		t.Fatalf("order = %v, want [acct2, acct1]", out)
	}
}
