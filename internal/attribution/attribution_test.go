package attribution

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/costpipeline/parquet-aggregator/internal/model"
)

func TestPreprocess_SavingsPlanCoveredUsageZeroesCosts(t *testing.T) {
	item := model.LineItem{
		LineItemLineItemType:     model.LineItemSavingsPlanCoveredUsage,
		LineItemUnblendedCost:    10,
		LineItemBlendedCost:      10,
		SavingsPlanEffectiveCost: 7,
	}

	got := Preprocess(item)

	if !got.UnblendedCost.IsZero() {
		t.Errorf("UnblendedCost = %v, want 0", got.UnblendedCost)
	}
	if !got.BlendedCost.IsZero() {
		t.Errorf("BlendedCost = %v, want 0", got.BlendedCost)
	}
	if !got.CalculatedAmortizedCost.Equal(got.SavingsPlanEffectiveCost) {
		t.Errorf("CalculatedAmortizedCost = %v, want savingsplan effective cost %v", got.CalculatedAmortizedCost, got.SavingsPlanEffectiveCost)
	}
}

func TestPreprocess_UsageTypeUsesUnblendedForAmortized(t *testing.T) {
	item := model.LineItem{
		LineItemLineItemType:  model.LineItemUsage,
		LineItemUnblendedCost: 5,
	}

	got := Preprocess(item)
	if got.CalculatedAmortizedCost.String() != "5" {
		t.Errorf("CalculatedAmortizedCost = %v, want 5", got.CalculatedAmortizedCost)
	}
}

func TestPreprocess_MarketplaceProductCodeUsesProductName(t *testing.T) {
	item := model.LineItem{
		BillBillingEntity:   "AWS Marketplace",
		ProductProductName:  "Some Vendor Product",
		LineItemProductCode: "abc123",
	}

	got := Preprocess(item)
	if got.ProductCode != "Some Vendor Product" {
		t.Errorf("ProductCode = %q, want %q", got.ProductCode, "Some Vendor Product")
	}
}

func TestPreprocess_DataTransferDirectionFromUsageType(t *testing.T) {
	in := model.LineItem{
		LineItemProductCode:  "AmazonEC2",
		ProductProductFamily: "Data Transfer",
		LineItemUsageType:    "USE1-In-Bytes",
	}
	if got := Preprocess(in).DataTransferDirection; got != model.DirectionIn {
		t.Errorf("direction = %v, want IN", got)
	}

	out := model.LineItem{
		LineItemProductCode:  "AmazonEC2",
		ProductProductFamily: "Data Transfer",
		LineItemUsageType:    "USE1-Out-Bytes",
	}
	if got := Preprocess(out).DataTransferDirection; got != model.DirectionOut {
		t.Errorf("direction = %v, want OUT", got)
	}
}

func TestPreprocess_NonDataTransferHasNoDirection(t *testing.T) {
	item := model.LineItem{LineItemProductCode: "AmazonRDS"}
	if got := Preprocess(item).DataTransferDirection; got != model.DirectionNone {
		t.Errorf("direction = %v, want none", got)
	}
}

func TestAttributeCompute_UsesConservativeRatio(t *testing.T) {
	item := Preprocess(model.LineItem{LineItemUnblendedCost: 100})

	pods := []NodePodView{
		{
			Namespace:                       "ns1",
			PodUsageCPUCoreHours:            2,
			NodeCapacityCPUCoreHours:        10, // cpu ratio 0.2
			PodUsageMemoryGigabyteHours:     6,
			NodeCapacityMemoryGigabyteHours: 10, // mem ratio 0.6 -- conservative
		},
	}

	rows := AttributeCompute(item, 0, pods)
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	want := "60" // 0.6 * 100
	if rows[0].UnblendedCost.String() != want {
		t.Errorf("UnblendedCost = %v, want %v", rows[0].UnblendedCost, want)
	}
}

func TestAttributeCompute_ZeroCapacityGivesZeroRatio(t *testing.T) {
	item := Preprocess(model.LineItem{LineItemUnblendedCost: 100})
	pods := []NodePodView{{PodUsageCPUCoreHours: 5, NodeCapacityCPUCoreHours: 0}}

	rows := AttributeCompute(item, 0, pods)
	if !rows[0].UnblendedCost.IsZero() {
		t.Errorf("UnblendedCost = %v, want 0 when capacity denominators are zero", rows[0].UnblendedCost)
	}
}

func TestApplyMarkup_AppliesIndependentlyPerCostField(t *testing.T) {
	item := Preprocess(model.LineItem{LineItemUnblendedCost: 100, LineItemBlendedCost: 50})
	row := AttributeStorageTagOnly(item, 0.1, "c1", "ns1")

	if row.UnblendedCost.String() != "100" {
		t.Errorf("UnblendedCost = %v, want 100", row.UnblendedCost)
	}
	if row.MarkupCost.String() != "10" {
		t.Errorf("MarkupCost = %v, want 10", row.MarkupCost)
	}
	if row.MarkupCostBlended.String() != "5" {
		t.Errorf("MarkupCostBlended = %v, want 5", row.MarkupCostBlended)
	}
}

func TestAttributeStorageCSI_DistributesByCapacityShareAndResidual(t *testing.T) {
	item := Preprocess(model.LineItem{
		LineItemUnblendedCost: 30,
		LineItemUnblendedRate: 1, // disk_capacity = 30 / (1/720) GB = 21600 GB... keep hoursInMonth small for a clean test
	})

	claims := []PVCView{
		{ClusterID: "c1", Namespace: "ns1", CapacityBytes: 10 << 30},
	}

	rows, err := AttributeStorageCSI(item, 0, 1, claims) // hoursInMonth=1 => disk_capacity_gb = 30 GB
	if err != nil {
		t.Fatalf("AttributeStorageCSI() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2 (claim + residual)", len(rows))
	}
	// claim share: 10/30 * 30 = 10
	if rows[0].UnblendedCost.String() != "10" {
		t.Errorf("claim UnblendedCost = %v, want 10", rows[0].UnblendedCost)
	}
	if rows[1].Namespace != model.NamespaceStorageUnattributed {
		t.Errorf("residual Namespace = %q, want %q", rows[1].Namespace, model.NamespaceStorageUnattributed)
	}
}

func TestAttributeStorageCSI_NonPositiveRateIsInvariantError(t *testing.T) {
	item := Preprocess(model.LineItem{LineItemUnblendedCost: 30, LineItemUnblendedRate: 0})

	_, err := AttributeStorageCSI(item, 0, 1, []PVCView{{CapacityBytes: 1}})
	if err == nil {
		t.Fatal("expected AttributionInvariant error for non-positive rate")
	}
}

func TestAttributeNetwork_SetsDirectionalGigabytes(t *testing.T) {
	item := Preprocess(model.LineItem{
		LineItemProductCode:  "AmazonEC2",
		ProductProductFamily: "Data Transfer",
		LineItemUsageType:    "In-Bytes",
		LineItemUsageAmount:  42,
	})

	row := AttributeNetwork(item, 0, "c1", "node1")
	if row.InfrastructureDataInGigabytes != 42 {
		t.Errorf("InfrastructureDataInGigabytes = %v, want 42", row.InfrastructureDataInGigabytes)
	}
	if row.Namespace != model.NamespaceNetworkUnattributed {
		t.Errorf("Namespace = %q, want %q", row.Namespace, model.NamespaceNetworkUnattributed)
	}
}

func TestAttributeStorageTagOnly_CarriesDescriptiveAndUsageFields(t *testing.T) {
	item := Preprocess(model.LineItem{
		LineItemUsageAccountID:   "acct-1",
		LineItemAvailabilityZone: "us-east-1a",
		ProductRegion:            "us-east-1",
		ProductProductFamily:     "Storage",
		PricingUnit:              "GB-Mo",
		LineItemUsageAmount:      12.5,
	})

	row := AttributeStorageTagOnly(item, 0, "c1", "prod-app")

	if row.UsageAccountID != "acct-1" || row.AvailabilityZone != "us-east-1a" || row.Region != "us-east-1" {
		t.Errorf("descriptive fields not carried: %+v", row)
	}
	if row.ProductFamily != "Storage" || row.Unit != "GB-Mo" {
		t.Errorf("ProductFamily/Unit not carried: %+v", row)
	}
	if !row.UsageAmount.Equal(decimal.NewFromFloat(12.5)) {
		t.Errorf("UsageAmount = %v, want 12.5", row.UsageAmount)
	}
}

func TestAttributeNetwork_CarriesDescriptiveAndUsageFields(t *testing.T) {
	item := Preprocess(model.LineItem{
		LineItemProductCode:      "AmazonEC2",
		ProductProductFamily:     "Data Transfer",
		LineItemUsageType:        "Out-Bytes",
		LineItemUsageAccountID:   "acct-2",
		LineItemAvailabilityZone: "us-west-2a",
		ProductRegion:            "us-west-2",
		PricingUnit:              "GB",
		LineItemUsageAmount:      7.5,
	})

	row := AttributeNetwork(item, 0, "c1", "node1")

	if row.UsageAccountID != "acct-2" || row.AvailabilityZone != "us-west-2a" || row.Region != "us-west-2" {
		t.Errorf("descriptive fields not carried: %+v", row)
	}
	if row.Unit != "GB" || !row.UsageAmount.Equal(decimal.NewFromFloat(7.5)) {
		t.Errorf("Unit/UsageAmount not carried: %+v", row)
	}
}
