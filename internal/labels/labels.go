// Package labels implements the label-precedence, enabled-tag filtering and
// matching rules shared by the OCP aggregator and the resource matcher.
package labels

import (
	"strings"

	"github.com/costpipeline/parquet-aggregator/internal/model"
)

// MergePrecedence combines pod, namespace, and node label sets into one map,
// with pod labels winning over namespace labels winning over node labels on
// key collision. An empty string value is treated as absent and does not
// participate in precedence.
func MergePrecedence(pod, namespace, node model.Labels) model.Labels {
	out := make(model.Labels, len(pod)+len(namespace)+len(node))
	for k, v := range node {
		if v != "" {
			out[k] = v
		}
	}
	for k, v := range namespace {
		if v != "" {
			out[k] = v
		}
	}
	for k, v := range pod {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Filter keeps only the keys present in allowed. model.AlwaysEnabledTagKeys
// survive only because a set built by model.NewEnabledTagKeys contains them.
func Filter(l model.Labels, allowed model.EnabledTagKeys) model.Labels {
	return l.Filter(allowed)
}

// GenericMatch reports whether any key of tags appears as a case-sensitive
// substring of the serialised labels blob (spec §4.2 op 3: "at least one key
// of aws_tags appears as a substring in the serialised ocp_label_blob"). This
// is the fallback join rule the resource matcher applies when no tag key
// directly names a cluster/node/project.
func GenericMatch(tags map[string]string, labels model.Labels) bool {
	blob := labels.Serialize()
	for k := range tags {
		if k == "" {
			continue
		}
		if strings.Contains(blob, k) {
			return true
		}
	}
	return false
}

// MatchTagKey returns the first of the well-known OpenShift identity tag
// keys present in tags whose value equals the matching argument (clusterID,
// nodeName or namespace; exact match), or "" if none match. Checked in the fixed order: cluster, node, project.
func MatchTagKey(tags map[string]string, clusterID, nodeName, namespace string) string {
	if v, ok := tags["openshift_cluster"]; ok && v == clusterID {
		return "openshift_cluster"
	}
	if v, ok := tags["openshift_node"]; ok && v == nodeName {
		return "openshift_node"
	}
	if v, ok := tags["openshift_project"]; ok && v == namespace {
		return "openshift_project"
	}
	return ""
}
