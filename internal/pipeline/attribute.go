package pipeline

import (
	"strings"
	"time"

	"github.com/costpipeline/parquet-aggregator/internal/attribution"
	"github.com/costpipeline/parquet-aggregator/internal/model"
	"github.com/costpipeline/parquet-aggregator/internal/resourcematch"
)

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

const bytesPerGigabyte = 1 << 30

// hoursInMonth returns the number of hours in t's calendar month, the
// denominator AttributeStorageCSI uses to recover a CSI volume's billed
// capacity from its hourly rate (spec §4.6 "Storage (CSI)").
func hoursInMonth(t time.Time) float64 {
	firstOfNext := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	firstOfThis := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.Sub(firstOfThis).Hours()
}

// parseMatchedTag splits a resourcematch.Match assertion string
// ("openshift_cluster=c1,openshift_project=ns") into a key/value map.
func parseMatchedTag(assertions string) map[string]string {
	out := make(map[string]string)
	if assertions == "" {
		return out
	}
	for _, part := range strings.Split(assertions, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// nodeToClusterIndex maps every OCP node name observed in pods to the
// cluster it belongs to (last-wins across records, same tie-break spirit as
// the rest of the aggregator).
func nodeToClusterIndex(pods []model.PodRecord) map[string]string {
	out := make(map[string]string)
	for _, p := range pods {
		if p.Node != "" && p.ClusterID != "" {
			out[p.Node] = p.ClusterID
		}
	}
	return out
}

// namespaceToClusterIndex maps every namespace observed in pods or volumes
// to the cluster it belongs to, for the tag-only storage attribution rule
// where no resource id is available to recover the cluster from.
func namespaceToClusterIndex(pods []model.PodRecord, vols []model.VolumeRecord) map[string]string {
	out := make(map[string]string)
	for _, p := range pods {
		if p.Namespace != "" && p.ClusterID != "" {
			out[p.Namespace] = p.ClusterID
		}
	}
	for _, v := range vols {
		if v.Namespace != "" && v.ClusterID != "" {
			out[v.Namespace] = v.ClusterID
		}
	}
	return out
}

// podViewsByDayNode groups the day's namespace-on-node pod summary rows
// (including the unallocated pseudo-namespaces) by (day, node), the unit
// AttributeCompute distributes a matched compute line item's cost across.
func podViewsByDayNode(rows []model.OCPSummaryRow) map[string][]attribution.NodePodView {
	out := make(map[string][]attribution.NodePodView)
	for _, r := range rows {
		if r.DataSource != model.DataSourcePod || r.Node == "" {
			continue
		}
		key := dayKey(r.UsageStart) + "|" + r.Node
		out[key] = append(out[key], attribution.NodePodView{
			ClusterID:                       r.ClusterID,
			ClusterAlias:                    r.ClusterAlias,
			Namespace:                       r.Namespace,
			Node:                            r.Node,
			UsageStart:                      r.UsageStart,
			PodUsageCPUCoreHours:            r.PodUsageCPUCoreHours,
			PodUsageMemoryGigabyteHours:     r.PodUsageMemoryGigabyteHours,
			NodeCapacityCPUCoreHours:        r.NodeCapacityCPUCoreHours,
			NodeCapacityMemoryGigabyteHours: r.NodeCapacityMemoryGigabyteHours,
			Labels:                          r.PodLabels,
		})
	}
	return out
}

// pvcViewsByDayPV groups the day's volume summary rows (excluding synthetic
// "Storage unattributed" rows, which ocpagg.UnattributedStorageRows produces
// and which are not real PVC claims) by (day, persistent volume), the unit AttributeStorageCSI splits a
// matched CSI line item's cost across.
func pvcViewsByDayPV(rows []model.OCPSummaryRow) map[string][]attribution.PVCView {
	out := make(map[string][]attribution.PVCView)
	for _, r := range rows {
		if r.DataSource != model.DataSourceStorage || r.PersistentVolume == "" || r.Namespace == model.NamespaceStorageUnattributed {
			continue
		}
		key := dayKey(r.UsageStart) + "|" + r.PersistentVolume
		out[key] = append(out[key], attribution.PVCView{
			ClusterID:             r.ClusterID,
			Namespace:             r.Namespace,
			PersistentVolume:      r.PersistentVolume,
			PersistentVolumeClaim: r.PersistentVolumeClaim,
			CapacityBytes:         r.PersistentVolumeClaimCapacityGigabyteMonths * bytesPerGigabyte,
		})
	}
	return out
}

// attributeIndexes bundles the lookup tables attributeMatched needs, built
// once per provider run from the partition's OCP records (spec §5 "Shared
// resources").
type attributeIndexes struct {
	ocpIndex        *resourcematch.OCPIndex
	nodeToCluster   map[string]string
	namespaceToCluster map[string]string
	podViews        map[string][]attribution.NodePodView
	pvcViews        map[string][]attribution.PVCView
}

// attributeMatched routes one matched, preprocessed AWS line item to the
// correct attribution rule (spec §4.6), following the fixed precedence:
// network data-transfer rows first, then compute (node resource-id match),
// then CSI storage (persistent-volume match), then tag-only storage
// (openshift_project tag match with no resource-id match), and finally a
// conservative "Storage unattributed" fallback for any other tag match
// (cluster/node tag or generic label match) that carries no resource id.
func attributeMatched(item model.LineItem, markup float64, idx attributeIndexes) ([]model.AWSSummaryRow, error) {
	pre := attribution.Preprocess(item)
	tags := parseMatchedTag(item.MatchedTag)
	day := dayKey(item.UsageStart)

	if pre.DataTransferDirection != model.DirectionNone {
		node := idx.ocpIndex.NodeByResourceID[item.MatchedNodeResourceID]
		if node == "" {
			node = tags["openshift_node"]
		}
		clusterID := idx.nodeToCluster[node]
		if clusterID == "" {
			clusterID = tags["openshift_cluster"]
		}
		return []model.AWSSummaryRow{attribution.AttributeNetwork(pre, markup, clusterID, node)}, nil
	}

	if item.MatchedNodeResourceID != "" {
		node := idx.ocpIndex.NodeByResourceID[item.MatchedNodeResourceID]
		pods := idx.podViews[day+"|"+node]
		return attribution.AttributeCompute(pre, markup, pods), nil
	}

	if item.MatchedPersistentVolume != "" {
		claims := idx.pvcViews[day+"|"+item.MatchedPersistentVolume]
		return attribution.AttributeStorageCSI(pre, markup, hoursInMonth(item.UsageStart), claims)
	}

	if ns, ok := tags["openshift_project"]; ok {
		clusterID := tags["openshift_cluster"]
		if clusterID == "" {
			clusterID = idx.namespaceToCluster[ns]
		}
		return []model.AWSSummaryRow{attribution.AttributeStorageTagOnly(pre, markup, clusterID, ns)}, nil
	}

	clusterID := tags["openshift_cluster"]
	return []model.AWSSummaryRow{attribution.AttributeStorageTagOnly(pre, markup, clusterID, model.NamespaceStorageUnattributed)}, nil
}
