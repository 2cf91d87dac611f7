package labels

import (
	"testing"

	"github.com/costpipeline/parquet-aggregator/internal/model"
)

func TestMergePrecedence_PodWinsOverNamespaceWinsOverNode(t *testing.T) {
	pod := model.Labels{"app": "pod-value", "pod_only": "p"}
	namespace := model.Labels{"app": "ns-value", "ns_only": "n"}
	node := model.Labels{"app": "node-value", "node_only": "z"}

	got := MergePrecedence(pod, namespace, node)

	if got["app"] != "pod-value" {
		t.Errorf("app = %q, want pod-value", got["app"])
	}
	if got["pod_only"] != "p" || got["ns_only"] != "n" || got["node_only"] != "z" {
		t.Errorf("unexpected merge result: %+v", got)
	}
}

func TestMergePrecedence_EmptyValueTreatedAsAbsent(t *testing.T) {
	pod := model.Labels{"app": ""}
	namespace := model.Labels{"app": "ns-value"}

	got := MergePrecedence(pod, namespace, nil)

	if got["app"] != "ns-value" {
		t.Errorf("app = %q, want ns-value (pod's empty value should not win)", got["app"])
	}
}

func TestFilter_DropsDisabledKeys(t *testing.T) {
	allowed := model.NewEnabledTagKeys([]string{"team"})
	l := model.Labels{"team": "a", "secret": "b", "openshift_cluster": "c"}

	got := Filter(l, allowed)

	if _, ok := got["secret"]; ok {
		t.Error("secret should have been filtered out")
	}
	if got["team"] != "a" {
		t.Error("team should survive filtering")
	}
	if got["openshift_cluster"] != "c" {
		t.Error("openshift_cluster is always-enabled and should survive filtering")
	}
}

func TestGenericMatch_TagKeySubstringOfSerializedLabels(t *testing.T) {
	tags := map[string]string{"hostname": "irrelevant-value"}
	lbls := model.Labels{"kubernetes.io/hostname": "worker-1"}

	if !GenericMatch(tags, lbls) {
		t.Error("expected tag key to substring-match the serialised label blob")
	}
}

func TestGenericMatch_NoMatch(t *testing.T) {
	tags := map[string]string{"unrelated-key": "worker-1"}
	lbls := model.Labels{"kubernetes.io/hostname": "worker-1"}

	if GenericMatch(tags, lbls) {
		t.Error("expected no match")
	}
}

func TestMatchTagKey_ChecksFixedOrder(t *testing.T) {
	tags := map[string]string{"openshift_node": "node-1"}

	got := MatchTagKey(tags, "cluster-x", "node-1", "ns-1")

	if got != "openshift_node" {
		t.Errorf("MatchTagKey() = %q, want openshift_node", got)
	}
}
