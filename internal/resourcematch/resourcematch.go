// Package resourcematch joins AWS line items against OCP pod/volume
// records by resource id and tag, in the order spec §4.5 prescribes.
package resourcematch

import (
	"sort"
	"strings"

	"github.com/costpipeline/parquet-aggregator/internal/labels"
	"github.com/costpipeline/parquet-aggregator/internal/model"
)

// OCPIndex is the read-only snapshot of OCP identifiers and labels the
// matcher joins AWS rows against (spec §5 "Shared resources" — materialised
// once, before matching begins, never mutated downstream).
type OCPIndex struct {
	NodeResourceIDs  map[string]struct{}
	VolumeNames      map[string]struct{}
	CSIHandleByPV    map[string]string
	ClusterIDs       map[string]struct{}
	ClusterAliases   map[string]struct{}
	NodeNames        map[string]struct{}
	Namespaces       map[string]struct{}
	PodLabelsByNode  map[string]model.Labels
	VolumeLabelsByPV map[string]model.Labels

	// NodeByResourceID lets the attributor recover which node a matched
	// AWS row belongs to without re-running the suffix scan (spec §4.6
	// "Compute"); ClusterByPV maps each persistent volume to the cluster
	// that reported it.
	NodeByResourceID map[string]string
	ClusterByPV      map[string]string
}

// NewOCPIndex builds an OCPIndex from the partition's pod and volume
// records.
func NewOCPIndex(pods []model.PodRecord, vols []model.VolumeRecord) *OCPIndex {
	idx := &OCPIndex{
		NodeResourceIDs:  make(map[string]struct{}),
		VolumeNames:      make(map[string]struct{}),
		CSIHandleByPV:    make(map[string]string),
		ClusterIDs:       make(map[string]struct{}),
		ClusterAliases:   make(map[string]struct{}),
		NodeNames:        make(map[string]struct{}),
		Namespaces:       make(map[string]struct{}),
		PodLabelsByNode:  make(map[string]model.Labels),
		VolumeLabelsByPV: make(map[string]model.Labels),
		NodeByResourceID: make(map[string]string),
		ClusterByPV:      make(map[string]string),
	}

	for _, p := range pods {
		if p.ResourceID != "" {
			idx.NodeResourceIDs[p.ResourceID] = struct{}{}
			idx.NodeByResourceID[p.ResourceID] = p.Node
		}
		if p.ClusterID != "" {
			idx.ClusterIDs[p.ClusterID] = struct{}{}
		}
		if p.ClusterAlias != "" {
			idx.ClusterAliases[p.ClusterAlias] = struct{}{}
		}
		if p.Node != "" {
			idx.NodeNames[p.Node] = struct{}{}
		}
		if p.Namespace != "" {
			idx.Namespaces[p.Namespace] = struct{}{}
		}
		if p.Node != "" {
			merged := labels.MergePrecedence(p.PodLabels, p.NamespaceLabels, p.NodeLabels)
			idx.PodLabelsByNode[p.Node] = merged
		}
	}

	for _, v := range vols {
		if v.PersistentVolume != "" {
			idx.VolumeNames[v.PersistentVolume] = struct{}{}
			idx.VolumeLabelsByPV[v.PersistentVolume] = v.VolumeLabels
			if v.ClusterID != "" {
				idx.ClusterByPV[v.PersistentVolume] = v.ClusterID
			}
		}
		if v.CSIVolumeHandle != "" && v.PersistentVolume != "" {
			idx.CSIHandleByPV[v.PersistentVolume] = v.CSIVolumeHandle
		}
		if v.ClusterID != "" {
			idx.ClusterIDs[v.ClusterID] = struct{}{}
		}
		if v.Namespace != "" {
			idx.Namespaces[v.Namespace] = struct{}{}
		}
	}

	return idx
}

// Match annotates one AWS line item's ResourceIDMatched/MatchedTag fields
// following spec §4.5's fixed algorithm order, and reports whether the row
// should be carried into attribution (the output invariant:
// resource_id_matched ∨ matched_tag ≠ "").
func Match(item *model.LineItem, idx *OCPIndex, allowed model.EnabledTagKeys) bool {
	// Step 1: node suffix match.
	for n := range idx.NodeResourceIDs {
		if n != "" && strings.HasSuffix(item.LineItemResourceID, n) {
			item.ResourceIDMatched = true
			item.MatchedNodeResourceID = n
			break
		}
	}

	// Step 2: PV suffix match.
	if !item.ResourceIDMatched {
		for p := range idx.VolumeNames {
			if p != "" && strings.HasSuffix(item.LineItemResourceID, p) {
				item.ResourceIDMatched = true
				item.MatchedPersistentVolume = p
				break
			}
		}
	}

	// Step 3: CSI substring match.
	if !item.ResourceIDMatched {
		for pv, handle := range idx.CSIHandleByPV {
			if handle != "" && strings.Contains(item.LineItemResourceID, handle) {
				item.ResourceIDMatched = true
				item.MatchedPersistentVolume = pv
				break
			}
		}
	}

	// Tag filtering happens before step 4 (spec §4.5 "Tag filtering").
	filteredTags := allowed.FilterTags(item.ResourceTags)

	// Step 4: tag match. Matching assertions accumulate, comma-joined.
	var assertions []string
	if v, ok := filteredTags["openshift_cluster"]; ok {
		if _, known := idx.ClusterIDs[v]; known {
			assertions = append(assertions, "openshift_cluster="+v)
		} else if _, known := idx.ClusterAliases[v]; known {
			assertions = append(assertions, "openshift_cluster="+v)
		}
	}
	if v, ok := filteredTags["openshift_node"]; ok {
		if _, known := idx.NodeNames[v]; known {
			assertions = append(assertions, "openshift_node="+v)
		}
	}
	if v, ok := filteredTags["openshift_project"]; ok {
		if _, known := idx.Namespaces[v]; known {
			assertions = append(assertions, "openshift_project="+v)
		}
	}

	// Step 5: generic tag match, only attempted when nothing above matched.
	if !item.ResourceIDMatched && len(assertions) == 0 {
		if key := firstGenericMatch(filteredTags, idx.PodLabelsByNode); key != "" {
			assertions = append(assertions, key)
		} else if key := firstGenericMatch(filteredTags, idx.VolumeLabelsByPV); key != "" {
			assertions = append(assertions, key)
		}
	}

	item.MatchedTag = strings.Join(assertions, ",")
	item.ResourceTags = filteredTags

	return item.ResourceIDMatched || item.MatchedTag != ""
}

// firstGenericMatch scans byKey in a deterministic (sorted) order and
// returns the first generic-match key found, or "".
func firstGenericMatch(tags map[string]string, byKey map[string]model.Labels) string {
	names := make([]string, 0, len(byKey))
	for name := range byKey {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if key := genericMatchWithKey(tags, byKey[name]); key != "" {
			return key
		}
	}
	return ""
}

// genericMatchWithKey returns the first tag key that appears as a substring
// of the serialised label blob, or "" if none (spec §4.5 step 5, §4.2
// generic_match: "at least one key of aws_tags appears as a substring in the
// serialised ocp_label_blob").
func genericMatchWithKey(tags map[string]string, lbls model.Labels) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	blob := lbls.Serialize()
	for _, k := range keys {
		if k == "" {
			continue
		}
		if strings.Contains(blob, k) {
			return k
		}
	}
	return ""
}
