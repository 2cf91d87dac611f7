package model

import (
	"encoding/json"
	"time"
)

// Labels is an opaque string-to-string key/value mapping. Values are never
// interpreted beyond substring comparison (spec §4.2); the JSON-shaped blob
// the source Parquet stores is decoded into this type at read time and only
// re-serialised at egress.
type Labels map[string]string

// Filter returns a copy of l containing only keys present in allowed.
func (l Labels) Filter(allowed EnabledTagKeys) Labels {
	out := make(Labels, len(l))
	for k, v := range l {
		if allowed.Has(k) {
			out[k] = v
		}
	}
	return out
}

// Serialize renders l as the JSON-shaped blob generic-match tests substring
// containment against (spec §4.2 "generic_match"). Labels never fails to
// marshal since it is a plain string-to-string map.
func (l Labels) Serialize() string {
	b, _ := json.Marshal(l)
	return string(b)
}

// PodRecord is an hourly or daily observation of a pod on a node
// (spec §3 "OCP pod record").
type PodRecord struct {
	UsageStart    time.Time
	ClusterID     string
	ClusterAlias  string
	Node          string
	ResourceID    string // empty string means "no known instance"
	Namespace     string
	Pod           string
	PodLabels     Labels
	NodeLabels    Labels
	NamespaceLabels Labels

	PodUsageCPUCoreSeconds      float64
	PodRequestCPUCoreSeconds    float64
	PodLimitCPUCoreSeconds      float64
	PodUsageMemoryByteSeconds   float64
	PodRequestMemoryByteSeconds float64
	PodLimitMemoryByteSeconds   float64

	NodeCapacityCPUCoreSeconds    float64
	NodeCapacityMemoryByteSeconds float64

	PodSeconds float64

	// ObservationSequence breaks ties between rows sharing the same
	// UsageStart (spec §5 "last-wins tie-break on capacity").
	ObservationSequence int64
}

// VolumeRecord describes a persistent volume observation (spec §3 "OCP
// volume record"). A volume may be shared across pods and may appear on
// multiple nodes within the same day (a "shared PV").
type VolumeRecord struct {
	UsageStart            time.Time
	ClusterID             string
	Namespace             string
	Node                  string
	PersistentVolumeClaim string
	PersistentVolume      string
	StorageClass          string
	CSIVolumeHandle       string
	VolumeLabels          Labels

	PersistentVolumeClaimCapacityBytes     float64
	PersistentVolumeClaimUsageByteSeconds  float64
	VolumeRequestStorageByteSeconds        float64

	ObservationSequence int64
}

// IsPlatformNode reports whether the OCP node-role labels mark this node as
// infra/master (platform) rather than worker (spec §4.4).
func IsPlatformNode(nodeLabels Labels) bool {
	for _, key := range []string{
		"node_role_kubernetes_io_infra",
		"node_role_kubernetes_io_master",
		"label_node_role_kubernetes_io_infra",
		"label_node_role_kubernetes_io_master",
	} {
		if v, ok := nodeLabels[key]; ok && v != "" {
			return true
		}
	}
	return false
}
