// Package parquetio decodes Parquet row groups into the pipeline's record
// types (spec §4.1). It wraps apache/arrow's pqarrow reader, the library
// promoted in SPEC_FULL.md's DOMAIN STACK from a transitive pack dependency
// to a direct one, since no complete example repo reads Parquet directly.
package parquetio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v15/parquet/file"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"

	cpierrors "github.com/costpipeline/parquet-aggregator/internal/errors"
	"github.com/costpipeline/parquet-aggregator/internal/model"
)

// Reader decodes a single in-memory Parquet object, with optional column
// projection, into Arrow record batches of at most batchSize rows.
type Reader struct {
	fileReader  *file.Reader
	arrowReader *pqarrow.FileReader
	schema      *arrow.Schema
}

// Open parses a Parquet object's footer and schema. It fails with
// InputCorrupt on an unreadable footer (spec §4.1).
func Open(data []byte, batchSize int) (*Reader, error) {
	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, cpierrors.Wrap(cpierrors.InputCorrupt, "", "reading", err, "reading parquet footer")
	}

	if batchSize <= 0 {
		batchSize = 50_000
	}
	arrowReader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: int64(batchSize)}, memory.DefaultAllocator)
	if err != nil {
		return nil, cpierrors.Wrap(cpierrors.InputCorrupt, "", "reading", err, "constructing arrow reader")
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		return nil, cpierrors.Wrap(cpierrors.InputCorrupt, "", "reading", err, "reading arrow schema")
	}

	return &Reader{fileReader: pf, arrowReader: arrowReader, schema: schema}, nil
}

// Close releases the underlying Parquet file handle.
func (r *Reader) Close() error {
	return r.fileReader.Close()
}

// columnIndices resolves projected column names to their positions in the
// Arrow schema, failing with InputSchema when a name is absent (spec §4.1).
func (r *Reader) columnIndices(projection []string) ([]int, error) {
	if len(projection) == 0 {
		indices := make([]int, r.schema.NumFields())
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}

	indices := make([]int, 0, len(projection))
	for _, name := range projection {
		idx := r.schema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, cpierrors.New(cpierrors.InputSchema, "", "reading",
				fmt.Sprintf("projected column %q not present in parquet schema", name))
		}
		indices = append(indices, idx[0])
	}
	return indices, nil
}

// Batches returns a lazy sequence of record batches over the requested
// column projection across every row group in the file.
func (r *Reader) Batches(ctx context.Context, projection []string) (pqarrow.RecordReader, error) {
	colIndices, err := r.columnIndices(projection)
	if err != nil {
		return nil, err
	}

	rowGroups := make([]int, r.fileReader.NumRowGroups())
	for i := range rowGroups {
		rowGroups[i] = i
	}

	rr, err := r.arrowReader.GetRecordReader(ctx, colIndices, rowGroups)
	if err != nil {
		return nil, cpierrors.Wrap(cpierrors.InputCorrupt, "", "reading", err, "building arrow record reader")
	}
	return rr, nil
}

// NumRows reports the row count recorded in the Parquet footer. The
// coordinator does not call it.
func (r *Reader) NumRows() int64 {
	return r.fileReader.NumRows()
}

// --- column accessors -------------------------------------------------

func columnByName(rec arrow.Record, name string) (arrow.Array, bool) {
	for i, f := range rec.Schema().Fields() {
		if f.Name == name {
			return rec.Column(i), true
		}
	}
	return nil, false
}

func stringAt(rec arrow.Record, col string, row int) string {
	arr, ok := columnByName(rec, col)
	if !ok {
		return ""
	}
	sa, ok := arr.(*array.String)
	if !ok || sa.IsNull(row) {
		return ""
	}
	return sa.Value(row)
}

func float64At(rec arrow.Record, col string, row int) float64 {
	arr, ok := columnByName(rec, col)
	if !ok {
		return 0
	}
	switch a := arr.(type) {
	case *array.Float64:
		if a.IsNull(row) {
			return 0
		}
		return a.Value(row)
	case *array.Int64:
		if a.IsNull(row) {
			return 0
		}
		return float64(a.Value(row))
	default:
		return 0
	}
}

func boolAt(rec arrow.Record, col string, row int) bool {
	arr, ok := columnByName(rec, col)
	if !ok {
		return false
	}
	ba, ok := arr.(*array.Boolean)
	if !ok || ba.IsNull(row) {
		return false
	}
	return ba.Value(row)
}

func timestampAt(rec arrow.Record, col string, row int) time.Time {
	arr, ok := columnByName(rec, col)
	if !ok {
		return time.Time{}
	}
	switch a := arr.(type) {
	case *array.Timestamp:
		if a.IsNull(row) {
			return time.Time{}
		}
		dt, ok := a.DataType().(*arrow.TimestampType)
		if !ok {
			return time.Time{}
		}
		return a.Value(row).ToTime(dt.Unit)
	case *array.String:
		if a.IsNull(row) {
			return time.Time{}
		}
		t, err := time.Parse("2006-01-02", a.Value(row)[:10])
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

func jsonMapAt(rec arrow.Record, col string, row int) map[string]string {
	raw := stringAt(rec, col, row)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// DecodePodRecords decodes one Arrow batch of openshift_pod_usage_line_items_daily
// rows into model.PodRecord values.
func DecodePodRecords(rec arrow.Record, startSeq int64) []model.PodRecord {
	n := int(rec.NumRows())
	out := make([]model.PodRecord, n)
	for i := 0; i < n; i++ {
		out[i] = model.PodRecord{
			UsageStart:                  timestampAt(rec, "usage_start", i),
			ClusterID:                   stringAt(rec, "cluster_id", i),
			ClusterAlias:                stringAt(rec, "cluster_alias", i),
			Node:                        stringAt(rec, "node", i),
			ResourceID:                  stringAt(rec, "resource_id", i),
			Namespace:                   stringAt(rec, "namespace", i),
			Pod:                         stringAt(rec, "pod", i),
			PodLabels:                   jsonMapAt(rec, "pod_labels", i),
			NodeLabels:                  jsonMapAt(rec, "node_labels", i),
			NamespaceLabels:             jsonMapAt(rec, "namespace_labels", i),
			PodUsageCPUCoreSeconds:      float64At(rec, "pod_usage_cpu_core_seconds", i),
			PodRequestCPUCoreSeconds:    float64At(rec, "pod_request_cpu_core_seconds", i),
			PodLimitCPUCoreSeconds:      float64At(rec, "pod_limit_cpu_core_seconds", i),
			PodUsageMemoryByteSeconds:   float64At(rec, "pod_usage_memory_byte_seconds", i),
			PodRequestMemoryByteSeconds: float64At(rec, "pod_request_memory_byte_seconds", i),
			PodLimitMemoryByteSeconds:   float64At(rec, "pod_limit_memory_byte_seconds", i),
			NodeCapacityCPUCoreSeconds:    float64At(rec, "node_capacity_cpu_core_seconds", i),
			NodeCapacityMemoryByteSeconds: float64At(rec, "node_capacity_memory_byte_seconds", i),
			PodSeconds:                  float64At(rec, "pod_seconds", i),
			ObservationSequence:         startSeq + int64(i),
		}
	}
	return out
}

// DecodeVolumeRecords decodes one Arrow batch of openshift_storage_usage_line_items_daily
// rows into model.VolumeRecord values.
func DecodeVolumeRecords(rec arrow.Record, startSeq int64) []model.VolumeRecord {
	n := int(rec.NumRows())
	out := make([]model.VolumeRecord, n)
	for i := 0; i < n; i++ {
		out[i] = model.VolumeRecord{
			UsageStart:                            timestampAt(rec, "usage_start", i),
			ClusterID:                              stringAt(rec, "cluster_id", i),
			Namespace:                               stringAt(rec, "namespace", i),
			Node:                                    stringAt(rec, "node", i),
			PersistentVolumeClaim:                   stringAt(rec, "persistentvolumeclaim", i),
			PersistentVolume:                        stringAt(rec, "persistentvolume", i),
			StorageClass:                            stringAt(rec, "storageclass", i),
			CSIVolumeHandle:                         stringAt(rec, "csi_volume_handle", i),
			VolumeLabels:                            jsonMapAt(rec, "volume_labels", i),
			PersistentVolumeClaimCapacityBytes:      float64At(rec, "persistentvolumeclaim_capacity_bytes", i),
			PersistentVolumeClaimUsageByteSeconds:   float64At(rec, "persistentvolumeclaim_usage_byte_seconds", i),
			VolumeRequestStorageByteSeconds:         float64At(rec, "volume_request_storage_byte_seconds", i),
			ObservationSequence:                     startSeq + int64(i),
		}
	}
	return out
}

// DecodeLineItems decodes one Arrow batch of aws_line_items_daily rows into
// model.LineItem values.
func DecodeLineItems(rec arrow.Record) []model.LineItem {
	n := int(rec.NumRows())
	out := make([]model.LineItem, n)
	for i := 0; i < n; i++ {
		out[i] = model.LineItem{
			UsageStart:               timestampAt(rec, "usage_start", i),
			LineItemResourceID:       stringAt(rec, "lineitem_resourceid", i),
			LineItemProductCode:      stringAt(rec, "lineitem_productcode", i),
			ProductProductFamily:     stringAt(rec, "product_productfamily", i),
			ProductProductName:       stringAt(rec, "product_productname", i),
			ProductInstanceType:      stringAt(rec, "product_instancetype", i),
			ProductRegion:            stringAt(rec, "product_region", i),
			LineItemUsageType:        stringAt(rec, "lineitem_usagetype", i),
			LineItemOperation:        stringAt(rec, "lineitem_operation", i),
			LineItemUsageAmount:      float64At(rec, "lineitem_usageamount", i),
			LineItemUnblendedCost:    float64At(rec, "lineitem_unblendedcost", i),
			LineItemUnblendedRate:    float64At(rec, "lineitem_unblendedrate", i),
			LineItemBlendedCost:      float64At(rec, "lineitem_blendedcost", i),
			LineItemLineItemType:     model.LineItemType(stringAt(rec, "lineitem_lineitemtype", i)),
			SavingsPlanEffectiveCost: float64At(rec, "savingsplan_savingsplaneffectivecost", i),
			BillBillingEntity:        stringAt(rec, "bill_billingentity", i),
			LineItemUsageAccountID:   stringAt(rec, "lineitem_usageaccountid", i),
			LineItemAvailabilityZone: stringAt(rec, "lineitem_availabilityzone", i),
			LineItemCurrencyCode:     stringAt(rec, "lineitem_currencycode", i),
			PricingUnit:              stringAt(rec, "pricing_unit", i),
			ResourceTags:             jsonMapAt(rec, "resourcetags", i),
			CostCategory:             jsonMapAt(rec, "costcategory", i),
		}
	}
	return out
}
