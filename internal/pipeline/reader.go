package pipeline

import (
	"context"

	cpierrors "github.com/costpipeline/parquet-aggregator/internal/errors"
	"github.com/costpipeline/parquet-aggregator/internal/metrics"
	"github.com/costpipeline/parquet-aggregator/internal/model"
	"github.com/costpipeline/parquet-aggregator/internal/objectstore"
	"github.com/costpipeline/parquet-aggregator/internal/parquetio"
)

// partitionReader is the narrow surface the coordinator needs from the
// object store, so tests can substitute a fake without standing up S3
// (spec §4.1).
type partitionReader interface {
	ListObjects(ctx context.Context, p objectstore.Partition) ([]string, error)
	GetObject(ctx context.Context, key string, provider string) ([]byte, error)
}

// readPods loads every openshift_pod_usage_line_items_daily object under a
// partition into a single in-memory slice, assigning each row a
// monotonically increasing ObservationSequence across files in the
// lexicographic key order ListObjects returns (spec §5 "Ordering
// guarantees").
func readPods(ctx context.Context, store partitionReader, partition objectstore.Partition, providerID string, chunkSize int) ([]model.PodRecord, error) {
	partition.Subtype = objectstore.SubtypeOCPPodUsage
	keys, err := store.ListObjects(ctx, partition)
	if err != nil {
		return nil, err
	}

	var out []model.PodRecord
	var seq int64
	for _, key := range keys {
		data, err := store.GetObject(ctx, key, providerID)
		if err != nil {
			return nil, err
		}
		rows, err := decodePodObject(ctx, data, chunkSize, &seq)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	metrics.RowsRead.WithLabelValues(providerID, string(objectstore.SubtypeOCPPodUsage)).Add(float64(len(out)))
	return out, nil
}

func decodePodObject(ctx context.Context, data []byte, batchSize int, seq *int64) ([]model.PodRecord, error) {
	r, err := parquetio.Open(data, batchSize)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rr, err := r.Batches(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer rr.Release()

	var rows []model.PodRecord
	for rr.Next() {
		decoded := parquetio.DecodePodRecords(rr.Record(), *seq)
		*seq += int64(len(decoded))
		rows = append(rows, decoded...)
	}
	if err := rr.Err(); err != nil {
		return nil, cpierrors.Wrap(cpierrors.InputCorrupt, "", "reading", err, "iterating pod record batches")
	}
	return rows, nil
}

// readVolumes mirrors readPods for openshift_storage_usage_line_items_daily.
func readVolumes(ctx context.Context, store partitionReader, partition objectstore.Partition, providerID string, chunkSize int) ([]model.VolumeRecord, error) {
	partition.Subtype = objectstore.SubtypeOCPStorageUsage
	keys, err := store.ListObjects(ctx, partition)
	if err != nil {
		return nil, err
	}

	var out []model.VolumeRecord
	var seq int64
	for _, key := range keys {
		data, err := store.GetObject(ctx, key, providerID)
		if err != nil {
			return nil, err
		}
		r, err := parquetio.Open(data, chunkSize)
		if err != nil {
			return nil, err
		}
		rr, err := r.Batches(ctx, nil)
		if err != nil {
			r.Close()
			return nil, err
		}
		for rr.Next() {
			decoded := parquetio.DecodeVolumeRecords(rr.Record(), seq)
			seq += int64(len(decoded))
			out = append(out, decoded...)
		}
		batchErr := rr.Err()
		rr.Release()
		r.Close()
		if batchErr != nil {
			return nil, cpierrors.Wrap(cpierrors.InputCorrupt, "", "reading", batchErr, "iterating volume record batches")
		}
	}
	metrics.RowsRead.WithLabelValues(providerID, string(objectstore.SubtypeOCPStorageUsage)).Add(float64(len(out)))
	return out, nil
}

// readLineItems mirrors readPods for aws_line_items_daily.
func readLineItems(ctx context.Context, store partitionReader, partition objectstore.Partition, providerID string, chunkSize int) ([]model.LineItem, error) {
	partition.Subtype = objectstore.SubtypeAWSLineItems
	keys, err := store.ListObjects(ctx, partition)
	if err != nil {
		return nil, err
	}

	var out []model.LineItem
	for _, key := range keys {
		data, err := store.GetObject(ctx, key, providerID)
		if err != nil {
			return nil, err
		}
		r, err := parquetio.Open(data, chunkSize)
		if err != nil {
			return nil, err
		}
		rr, err := r.Batches(ctx, nil)
		if err != nil {
			r.Close()
			return nil, err
		}
		for rr.Next() {
			out = append(out, parquetio.DecodeLineItems(rr.Record())...)
		}
		batchErr := rr.Err()
		rr.Release()
		r.Close()
		if batchErr != nil {
			return nil, cpierrors.Wrap(cpierrors.InputCorrupt, "", "reading", batchErr, "iterating line item batches")
		}
	}
	metrics.RowsRead.WithLabelValues(providerID, string(objectstore.SubtypeAWSLineItems)).Add(float64(len(out)))
	return out, nil
}

// nodeLabelsFromPods derives per-node label sets directly from already
// decoded pod records instead of reading the (otherwise unused)
// openshift_node_labels_line_items_daily subtype: every pod record already
// carries its node's labels, so a second partition read would only
// duplicate data already in memory.
func nodeLabelsFromPods(pods []model.PodRecord) map[string]model.Labels {
	out := make(map[string]model.Labels)
	for _, p := range pods {
		if p.Node == "" {
			continue
		}
		if _, ok := out[p.Node]; !ok {
			out[p.Node] = p.NodeLabels
		}
	}
	return out
}
