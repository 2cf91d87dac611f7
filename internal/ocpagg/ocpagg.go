// Package ocpagg aggregates raw OCP pod and volume observations into daily
// summary rows, and derives the unallocated-capacity rows the rest of the
// pipeline treats as ordinary namespaces (spec §4.3, §4.4).
package ocpagg

import (
	"fmt"
	"sort"
	"time"

	cpierrors "github.com/costpipeline/parquet-aggregator/internal/errors"
	"github.com/costpipeline/parquet-aggregator/internal/labels"
	"github.com/costpipeline/parquet-aggregator/internal/model"
)

const bytesPerGigabyte = 1 << 30

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func secondsInMonth(t time.Time) float64 {
	return float64(daysInMonth(t) * 86400)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// podKey groups pod observations into one summary row (spec §4.3 "Pod summary").
type podKey struct {
	day       time.Time
	clusterID string
	namespace string
	node      string
}

type podAccum struct {
	usageCPU, requestCPU, limitCPU float64
	usageMem, requestMem, limitMem float64
	effectiveCPU, effectiveMem     float64
	podLabels                      model.Labels
	clusterAlias                   string
}

type capObservation struct {
	usageStart time.Time
	seq        int64
	cpu, mem   float64
}

// AggregatePods groups a stream of pod records into daily (cluster,
// namespace, node) summary rows. allowed gates which label keys survive
// into the summary row (spec §4.2 filter, §4.3 pod_labels).
func AggregatePods(records []model.PodRecord, allowed model.EnabledTagKeys) ([]model.OCPSummaryRow, error) {
	groups := make(map[podKey]*podAccum)
	capacities := make(map[podKey]capObservation)

	for _, r := range records {
		if r.PodUsageCPUCoreSeconds < 0 || r.PodRequestCPUCoreSeconds < 0 || r.PodLimitCPUCoreSeconds < 0 ||
			r.PodUsageMemoryByteSeconds < 0 || r.PodRequestMemoryByteSeconds < 0 || r.PodLimitMemoryByteSeconds < 0 ||
			r.NodeCapacityCPUCoreSeconds < 0 || r.NodeCapacityMemoryByteSeconds < 0 {
			return nil, cpierrors.New(cpierrors.AggregationArithmetic, "", "aggregating",
				fmt.Sprintf("negative metric on pod %s/%s at %s", r.Namespace, r.Pod, r.UsageStart))
		}

		k := podKey{day: dayOf(r.UsageStart), clusterID: r.ClusterID, namespace: r.Namespace, node: r.Node}
		a, ok := groups[k]
		if !ok {
			a = &podAccum{}
			groups[k] = a
		}

		a.usageCPU += r.PodUsageCPUCoreSeconds
		a.requestCPU += r.PodRequestCPUCoreSeconds
		a.limitCPU += r.PodLimitCPUCoreSeconds
		a.usageMem += r.PodUsageMemoryByteSeconds
		a.requestMem += r.PodRequestMemoryByteSeconds
		a.limitMem += r.PodLimitMemoryByteSeconds
		a.effectiveCPU += maxFloat(r.PodUsageCPUCoreSeconds, r.PodRequestCPUCoreSeconds)
		a.effectiveMem += maxFloat(r.PodUsageMemoryByteSeconds, r.PodRequestMemoryByteSeconds)

		merged := labels.MergePrecedence(r.PodLabels, r.NamespaceLabels, r.NodeLabels)
		a.podLabels = merged.Filter(allowed)
		if r.ClusterAlias != "" {
			a.clusterAlias = r.ClusterAlias
		}

		// Last-wins tie-break for capacity, keyed on (usage_start, observation_sequence)
		// per spec §5 "Ordering guarantees".
		prev, seen := capacities[k]
		if !seen || r.UsageStart.After(prev.usageStart) ||
			(r.UsageStart.Equal(prev.usageStart) && r.ObservationSequence > prev.seq) {
			capacities[k] = capObservation{
				usageStart: r.UsageStart,
				seq:        r.ObservationSequence,
				cpu:        r.NodeCapacityCPUCoreSeconds,
				mem:        r.NodeCapacityMemoryByteSeconds,
			}
		}
	}

	// cluster_capacity_cpu_core_hours sums node capacity across distinct
	// nodes within the same (day, cluster) — not across rows.
	type dayCluster struct {
		day       time.Time
		clusterID string
	}
	type dayClusterNode struct {
		dayCluster
		node string
	}
	clusterCap := make(map[dayCluster]struct{ cpu, mem float64 })
	seenNode := make(map[dayClusterNode]struct{})
	for k := range groups {
		dc := dayCluster{day: k.day, clusterID: k.clusterID}
		dcn := dayClusterNode{dc, k.node}
		if _, ok := seenNode[dcn]; ok {
			continue
		}
		seenNode[dcn] = struct{}{}
		capObs := capacities[k]
		cc := clusterCap[dc]
		cc.cpu += capObs.cpu / 3600
		cc.mem += capObs.mem / 3600
		clusterCap[dc] = cc
	}

	out := make([]model.OCPSummaryRow, 0, len(groups))
	for k, a := range groups {
		capObs := capacities[k]
		dc := dayCluster{day: k.day, clusterID: k.clusterID}
		cc := clusterCap[dc]
		out = append(out, model.OCPSummaryRow{
			UsageStart:                           k.day,
			ClusterID:                            k.clusterID,
			ClusterAlias:                         a.clusterAlias,
			DataSource:                           model.DataSourcePod,
			Namespace:                            k.namespace,
			Node:                                 k.node,
			PodUsageCPUCoreHours:                 a.usageCPU / 3600,
			PodRequestCPUCoreHours:               a.requestCPU / 3600,
			PodEffectiveUsageCPUCoreHours:        a.effectiveCPU / 3600,
			PodLimitCPUCoreHours:                 a.limitCPU / 3600,
			PodUsageMemoryGigabyteHours:          a.usageMem / 3600 / bytesPerGigabyte,
			PodRequestMemoryGigabyteHours:        a.requestMem / 3600 / bytesPerGigabyte,
			PodEffectiveUsageMemoryGigabyteHours: a.effectiveMem / 3600 / bytesPerGigabyte,
			PodLimitMemoryGigabyteHours:          a.limitMem / 3600 / bytesPerGigabyte,
			NodeCapacityCPUCoreHours:             capObs.cpu / 3600,
			NodeCapacityMemoryGigabyteHours:      capObs.mem / 3600 / bytesPerGigabyte,
			ClusterCapacityCPUCoreHours:          cc.cpu,
			ClusterCapacityMemoryGigabyteHours:   cc.mem / bytesPerGigabyte,
			PodLabels:                            a.podLabels,
			AllLabels:                            a.podLabels,
		})
	}

	sortSummaries(out)
	return out, nil
}

// volKey groups volume observations into one summary row (spec §4.3 "Volume summary").
type volKey struct {
	day          time.Time
	clusterID    string
	namespace    string
	node         string
	pvc          string
	pv           string
	storageClass string
}

type volAccum struct {
	usageByteSeconds   float64
	requestByteSeconds float64
	capacityBytes      float64
	labels             model.Labels
}

// AggregateVolumes groups a stream of volume records into daily (cluster,
// namespace, node, pvc, pv, storageclass) summary rows, applying the
// shared-PV rule: capacity is counted once per (pv, pvc) per day, summed
// across node observations for usage.
func AggregateVolumes(records []model.VolumeRecord, allowed model.EnabledTagKeys) ([]model.OCPSummaryRow, error) {
	groups := make(map[volKey]*volAccum)
	// claimCapacity tracks capacity once per (day, pv, pvc), independent of
	// which node(s) observed it.
	type claimKey struct {
		day time.Time
		pv  string
		pvc string
	}
	claimCapacitySet := make(map[claimKey]struct{})

	for _, r := range records {
		if r.PersistentVolumeClaimCapacityBytes < 0 || r.PersistentVolumeClaimUsageByteSeconds < 0 || r.VolumeRequestStorageByteSeconds < 0 {
			return nil, cpierrors.New(cpierrors.AggregationArithmetic, "", "aggregating",
				fmt.Sprintf("negative metric on volume %s/%s at %s", r.Namespace, r.PersistentVolumeClaim, r.UsageStart))
		}

		day := dayOf(r.UsageStart)
		k := volKey{day: day, clusterID: r.ClusterID, namespace: r.Namespace, node: r.Node, pvc: r.PersistentVolumeClaim, pv: r.PersistentVolume, storageClass: r.StorageClass}
		a, ok := groups[k]
		if !ok {
			a = &volAccum{}
			groups[k] = a
		}

		a.usageByteSeconds += r.PersistentVolumeClaimUsageByteSeconds
		a.requestByteSeconds += r.VolumeRequestStorageByteSeconds
		a.labels = r.VolumeLabels.Filter(allowed)

		ck := claimKey{day: day, pv: r.PersistentVolume, pvc: r.PersistentVolumeClaim}
		if _, counted := claimCapacitySet[ck]; !counted {
			claimCapacitySet[ck] = struct{}{}
			a.capacityBytes += r.PersistentVolumeClaimCapacityBytes
		}
	}

	out := make([]model.OCPSummaryRow, 0, len(groups))
	for k, a := range groups {
		secInMonth := secondsInMonth(k.day)
		out = append(out, model.OCPSummaryRow{
			UsageStart:                                  k.day,
			ClusterID:                                   k.clusterID,
			DataSource:                                   model.DataSourceStorage,
			Namespace:                                    k.namespace,
			Node:                                         k.node,
			PersistentVolumeClaim:                        k.pvc,
			PersistentVolume:                             k.pv,
			StorageClass:                                 k.storageClass,
			PersistentVolumeClaimCapacityGigabyteMonths:  a.capacityBytes / bytesPerGigabyte,
			PersistentVolumeClaimUsageGigabyteMonths:     a.usageByteSeconds / bytesPerGigabyte / secInMonth,
			VolumeRequestStorageGigabyteMonths:            a.requestByteSeconds / bytesPerGigabyte / secInMonth,
			VolumeLabels:                                 a.labels,
			AllLabels:                                    a.labels,
		})
	}

	sortSummaries(out)
	return out, nil
}

func sortSummaries(rows []model.OCPSummaryRow) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].UsageStart.Equal(rows[j].UsageStart) {
			return rows[i].UsageStart.Before(rows[j].UsageStart)
		}
		if rows[i].ClusterID != rows[j].ClusterID {
			return rows[i].ClusterID < rows[j].ClusterID
		}
		if rows[i].Namespace != rows[j].Namespace {
			return rows[i].Namespace < rows[j].Namespace
		}
		if rows[i].Node != rows[j].Node {
			return rows[i].Node < rows[j].Node
		}
		if rows[i].PersistentVolumeClaim != rows[j].PersistentVolumeClaim {
			return rows[i].PersistentVolumeClaim < rows[j].PersistentVolumeClaim
		}
		return rows[i].PersistentVolume < rows[j].PersistentVolume
	})
}

// UnallocatedRows derives Worker/Platform unallocated rows per (day,
// cluster, node) from the already-aggregated pod summary rows (spec §4.4).
// podRows must contain only DataSourcePod rows for a single partition.
func UnallocatedRows(podRows []model.OCPSummaryRow, nodeLabels map[string]model.Labels) []model.OCPSummaryRow {
	type nodeKey struct {
		day       time.Time
		clusterID string
		node      string
	}
	capacity := make(map[nodeKey]struct{ cpu, mem float64 })
	claimed := make(map[nodeKey]struct{ cpu, mem float64 })
	clusterAlias := make(map[nodeKey]string)

	for _, row := range podRows {
		k := nodeKey{day: row.UsageStart, clusterID: row.ClusterID, node: row.Node}
		if c, ok := capacity[k]; !ok || row.NodeCapacityCPUCoreHours > c.cpu {
			capacity[k] = struct{ cpu, mem float64 }{row.NodeCapacityCPUCoreHours, row.NodeCapacityMemoryGigabyteHours}
		}
		cl := claimed[k]
		cl.cpu += row.PodEffectiveUsageCPUCoreHours
		cl.mem += row.PodEffectiveUsageMemoryGigabyteHours
		claimed[k] = cl
		if row.ClusterAlias != "" {
			clusterAlias[k] = row.ClusterAlias
		}
	}

	out := make([]model.OCPSummaryRow, 0, len(capacity))
	for k, capObs := range capacity {
		cl := claimed[k]
		residualCPU := maxFloat(capObs.cpu-cl.cpu, 0)
		residualMem := maxFloat(capObs.mem-cl.mem, 0)

		namespace := model.NamespaceWorkerUnallocated
		if model.IsPlatformNode(nodeLabels[k.node]) {
			namespace = model.NamespacePlatformUnallocated
		}

		out = append(out, model.OCPSummaryRow{
			UsageStart:                           k.day,
			ClusterID:                            k.clusterID,
			ClusterAlias:                         clusterAlias[k],
			DataSource:                           model.DataSourcePod,
			Namespace:                            namespace,
			Node:                                 k.node,
			PodEffectiveUsageCPUCoreHours:        residualCPU,
			PodEffectiveUsageMemoryGigabyteHours: residualMem,
			NodeCapacityCPUCoreHours:             capObs.cpu,
			NodeCapacityMemoryGigabyteHours:      capObs.mem,
		})
	}

	sortSummaries(out)
	return out
}

// UnattributedStorageRows produces "Storage unattributed" rows for volume
// summary rows whose namespace is empty (no associated pod claim observed
// in OCP data), per spec §4.4.
func UnattributedStorageRows(volRows []model.OCPSummaryRow) []model.OCPSummaryRow {
	out := make([]model.OCPSummaryRow, 0)
	for _, row := range volRows {
		if row.Namespace != "" {
			continue
		}
		row.Namespace = model.NamespaceStorageUnattributed
		out = append(out, row)
	}
	sortSummaries(out)
	return out
}
