package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DataSource distinguishes the three summary-row shapes spec §3/§4 produce.
type DataSource string

const (
	DataSourcePod     DataSource = "Pod"
	DataSourceStorage DataSource = "Storage"
	DataSourceNode    DataSource = "Node"
)

// DataTransferDirection is set only for attributed network rows (spec §4.6).
type DataTransferDirection string

const (
	DirectionIn  DataTransferDirection = "IN"
	DirectionOut DataTransferDirection = "OUT"
	DirectionNone DataTransferDirection = ""
)

// Namespace sentinel values used across the unallocated engine and cost
// attributor (spec §4.4, §4.6).
const (
	NamespaceWorkerUnallocated   = "Worker unallocated"
	NamespacePlatformUnallocated = "Platform unallocated"
	NamespaceStorageUnattributed = "Storage unattributed"
	NamespaceNetworkUnattributed = "Network unattributed"
)

// OCPSummaryRow is the OCP-only daily summary tuple (spec §3 "Summary row
// (OCP-only)").
type OCPSummaryRow struct {
	UUID       string
	UsageStart time.Time
	ClusterID  string
	ClusterAlias string
	DataSource DataSource
	Namespace  string
	Node       string

	Pod                   string
	PersistentVolumeClaim string
	PersistentVolume      string
	StorageClass          string

	PodUsageCPUCoreHours          float64
	PodRequestCPUCoreHours        float64
	PodEffectiveUsageCPUCoreHours float64
	PodLimitCPUCoreHours          float64

	PodUsageMemoryGigabyteHours          float64
	PodRequestMemoryGigabyteHours        float64
	PodEffectiveUsageMemoryGigabyteHours float64
	PodLimitMemoryGigabyteHours          float64

	NodeCapacityCPUCoreHours       float64
	NodeCapacityMemoryGigabyteHours float64
	ClusterCapacityCPUCoreHours    float64
	ClusterCapacityMemoryGigabyteHours float64

	PersistentVolumeClaimCapacityGigabyteMonths float64
	PersistentVolumeClaimUsageGigabyteMonths    float64
	VolumeRequestStorageGigabyteMonths          float64

	PodLabels    Labels
	VolumeLabels Labels
	AllLabels    Labels
}

// AWSSummaryRow is the OCP-on-AWS daily summary tuple (spec §3 "Summary row
// (OCP-on-AWS)"). Cost fields use decimal.Decimal to preserve the
// ≥9-fractional-digit precision spec §4.6/§9 require; rounding to the
// warehouse's column precision happens only at the write boundary.
type AWSSummaryRow struct {
	OCPSummaryRow

	ResourceID       string
	ProductCode      string
	ProductFamily    string
	InstanceType     string
	UsageAccountID   string
	AvailabilityZone string
	Region           string
	Unit             string
	UsageAmount      decimal.Decimal

	UnblendedCost             decimal.Decimal
	MarkupCost                decimal.Decimal
	BlendedCost               decimal.Decimal
	MarkupCostBlended         decimal.Decimal
	SavingsPlanEffectiveCost  decimal.Decimal
	MarkupCostSavingsPlan     decimal.Decimal
	CalculatedAmortizedCost   decimal.Decimal
	MarkupCostAmortized       decimal.Decimal

	DataTransferDirection            DataTransferDirection
	InfrastructureDataInGigabytes    float64
	InfrastructureDataOutGigabytes   float64

	Tags           map[string]string
	AWSCostCategory map[string]string

	ResourceIDMatched bool
	TagMatched        string

	CurrencyCode string
}
