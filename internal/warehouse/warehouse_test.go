package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/costpipeline/parquet-aggregator/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Schema: "org1"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ddl := []string{
		`CREATE TABLE org1.cluster_totals (
			uuid TEXT, source_uuid TEXT, year TEXT, month TEXT,
			usage_start TEXT, cluster_id TEXT, cluster_alias TEXT, data_source TEXT, namespace TEXT, node TEXT,
			pod TEXT, persistentvolumeclaim TEXT, persistentvolume TEXT, storageclass TEXT,
			pod_usage_cpu_core_hours REAL, pod_request_cpu_core_hours REAL, pod_effective_usage_cpu_core_hours REAL, pod_limit_cpu_core_hours REAL,
			pod_usage_memory_gigabyte_hours REAL, pod_request_memory_gigabyte_hours REAL, pod_effective_usage_memory_gigabyte_hours REAL, pod_limit_memory_gigabyte_hours REAL,
			node_capacity_cpu_core_hours REAL, node_capacity_memory_gigabyte_hours REAL, cluster_capacity_cpu_core_hours REAL, cluster_capacity_memory_gigabyte_hours REAL,
			persistentvolumeclaim_capacity_gigabyte_months REAL, persistentvolumeclaim_usage_gigabyte_months REAL, volume_request_storage_gigabyte_months REAL,
			resource_id TEXT, product_code TEXT, product_family TEXT, instance_type TEXT,
			usage_account_id TEXT, availability_zone TEXT, region TEXT, unit TEXT, usage_amount TEXT,
			unblended_cost TEXT, markup_cost TEXT, blended_cost TEXT, markup_cost_blended TEXT,
			savingsplan_effective_cost TEXT, markup_cost_savingsplan TEXT,
			calculated_amortized_cost TEXT, markup_cost_amortized TEXT,
			data_transfer_direction TEXT, infrastructure_data_in_gigabytes REAL, infrastructure_data_out_gigabytes REAL,
			resource_id_matched INTEGER, tag_matched TEXT, currency_code TEXT
		)`,
		`CREATE TABLE org1.enabled_tag_keys (tag_key TEXT)`,
		`INSERT INTO org1.enabled_tag_keys (tag_key) VALUES ('team'), ('cost-center')`,
	}
	for _, stmt := range ddl {
		if _, err := db.sql.Exec(stmt); err != nil {
			t.Fatalf("executing %q: %v", stmt, err)
		}
	}
	return db
}

func TestLoadEnabledTagKeys_MergesWarehouseKeysWithAlwaysEnabled(t *testing.T) {
	db := openTestDB(t)
	keys, err := LoadEnabledTagKeys(context.Background(), db)
	if err != nil {
		t.Fatalf("LoadEnabledTagKeys() error = %v", err)
	}
	if !keys.Has("team") || !keys.Has("cost-center") {
		t.Errorf("expected warehouse-sourced keys present, got %v", keys)
	}
	if !keys.Has("vm_kubevirt_io_name") {
		t.Error("expected vm_kubevirt_io_name always enabled")
	}
}

func TestWriteAWSSummary_InsertsRowsAndVerifiesCount(t *testing.T) {
	db := openTestDB(t)
	row := model.AWSSummaryRow{}
	row.UUID = "row-1"
	row.UsageStart = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	row.ClusterID = "c1"
	row.UnblendedCost = decimal.NewFromFloat(12.5)

	target := Target{Table: "cluster_totals", SourceUUID: "src-1", Year: "2026", Month: "07"}
	if err := WriteAWSSummary(context.Background(), db, target, []model.AWSSummaryRow{row}); err != nil {
		t.Fatalf("WriteAWSSummary() error = %v", err)
	}

	var count int
	if err := db.sql.QueryRow(`SELECT COUNT(*) FROM org1.cluster_totals WHERE source_uuid = ?`, "src-1").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}

	var cost string
	if err := db.sql.QueryRow(`SELECT unblended_cost FROM org1.cluster_totals WHERE uuid = ?`, "row-1").Scan(&cost); err != nil {
		t.Fatal(err)
	}
	if cost != "12.500000000" {
		t.Errorf("unblended_cost = %q, want 12.500000000", cost)
	}
}

func TestWriteAWSSummary_ReplacesPriorPartitionRows(t *testing.T) {
	db := openTestDB(t)
	target := Target{Table: "cluster_totals", SourceUUID: "src-1", Year: "2026", Month: "07"}

	first := model.AWSSummaryRow{}
	first.UUID = "row-1"
	if err := WriteAWSSummary(context.Background(), db, target, []model.AWSSummaryRow{first}); err != nil {
		t.Fatalf("first write error = %v", err)
	}

	second := model.AWSSummaryRow{}
	second.UUID = "row-2"
	if err := WriteAWSSummary(context.Background(), db, target, []model.AWSSummaryRow{second}); err != nil {
		t.Fatalf("second write error = %v", err)
	}

	var count int
	if err := db.sql.QueryRow(`SELECT COUNT(*) FROM org1.cluster_totals WHERE source_uuid = ?`, "src-1").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("row count after re-run = %d, want 1 (delete-and-reload)", count)
	}

	var uuid string
	if err := db.sql.QueryRow(`SELECT uuid FROM org1.cluster_totals WHERE source_uuid = ?`, "src-1").Scan(&uuid); err != nil {
		t.Fatal(err)
	}
	if uuid != "row-2" {
		t.Errorf("uuid = %q, want row-2", uuid)
	}
}

func TestWriteAWSSummary_TruncateModeClearsOtherPartitions(t *testing.T) {
	db := openTestDB(t)
	other := model.AWSSummaryRow{}
	other.UUID = "other-partition-row"
	otherTarget := Target{Table: "cluster_totals", SourceUUID: "src-other", Year: "2025", Month: "01"}
	if err := WriteAWSSummary(context.Background(), db, otherTarget, []model.AWSSummaryRow{other}); err != nil {
		t.Fatalf("seeding other partition: %v", err)
	}

	row := model.AWSSummaryRow{}
	row.UUID = "row-1"
	target := Target{Table: "cluster_totals", SourceUUID: "src-1", Year: "2026", Month: "07", Truncate: true}
	if err := WriteAWSSummary(context.Background(), db, target, []model.AWSSummaryRow{row}); err != nil {
		t.Fatalf("WriteAWSSummary() error = %v", err)
	}

	var count int
	if err := db.sql.QueryRow(`SELECT COUNT(*) FROM org1.cluster_totals`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("row count after truncate write = %d, want 1 (other partition cleared)", count)
	}
}

func TestWriteAWSSummary_FailedInsertRollsBackWholeTransaction(t *testing.T) {
	db := openTestDB(t)
	// A unique index on uuid forces the second of two identical-uuid rows
	// to fail its insert, which should abort the whole transaction.
	if _, err := db.sql.Exec(`CREATE UNIQUE INDEX org1.idx_cluster_totals_uuid ON cluster_totals(uuid)`); err != nil {
		t.Fatal(err)
	}

	dup := model.AWSSummaryRow{}
	dup.UUID = "dup"
	target := Target{Table: "cluster_totals", SourceUUID: "src-1", Year: "2026", Month: "07"}

	err := WriteAWSSummary(context.Background(), db, target, []model.AWSSummaryRow{dup, dup})
	if err == nil {
		t.Fatal("expected error from duplicate uuid insert")
	}

	var count int
	if err := db.sql.QueryRow(`SELECT COUNT(*) FROM org1.cluster_totals WHERE source_uuid = ?`, "src-1").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("row count after aborted write = %d, want 0 (no partial write survives)", count)
	}
}
