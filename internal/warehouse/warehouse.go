// Package warehouse is the relational sink the pipeline bulk-loads summary
// rows into (spec §4.8). It follows the teacher's store.Open/pragma shape
// but targets schema-qualified tables that are expected to pre-exist: the
// writer never emits DDL, only per-table delete-then-insert transactions.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"

	perrors "github.com/costpipeline/parquet-aggregator/internal/errors"
	"github.com/costpipeline/parquet-aggregator/internal/model"
)

// Config describes the target relational warehouse (spec §6 "database").
type Config struct {
	// Path is the main SQLite database file. Empty means an in-process
	// temporary database; cmd/aggregator leaves it empty and addresses
	// every target through the attached schema.
	Path string
	// AttachPath is the file backing the org's schema. It is attached
	// under the name Schema so that every target table is addressed as
	// schema.table, matching spec §4.8's "enforces schema-qualified
	// target names".
	AttachPath string
	Schema     string
}

// DB wraps the attached warehouse connection.
type DB struct {
	sql    *sql.DB
	schema string
}

// Open opens the base database and attaches cfg.Schema as a named schema,
// mirroring the teacher's store.Open pragma sequence (db.go) adapted to a
// two-file attach instead of a single file.
func Open(cfg Config) (*DB, error) {
	if cfg.Schema == "" {
		return nil, perrors.New(perrors.ConfigInvalid, "", "warehouse.open", "database.schema is required")
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, perrors.Wrap(perrors.ConfigInvalid, "", "warehouse.open", err, "opening warehouse database")
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, perrors.Wrap(perrors.ConfigInvalid, "", "warehouse.open", err, fmt.Sprintf("setting pragma %q", p))
		}
	}

	attach := cfg.AttachPath
	if attach == "" {
		attach = ":memory:"
	}
	if _, err := sqlDB.Exec(fmt.Sprintf("ATTACH DATABASE ? AS %s", quoteIdent(cfg.Schema)), attach); err != nil {
		sqlDB.Close()
		return nil, perrors.Wrap(perrors.ConfigInvalid, "", "warehouse.open", err, fmt.Sprintf("attaching schema %q", cfg.Schema))
	}

	return &DB{sql: sqlDB, schema: cfg.Schema}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}

func (d *DB) qualified(table string) string {
	return fmt.Sprintf("%s.%s", quoteIdent(d.schema), quoteIdent(table))
}

// EnabledTagKeysTable is the pre-existing table the enabled-tag-key cache
// reads from (spec §2 component 2, §3 "EnabledTagKeys").
const EnabledTagKeysTable = "enabled_tag_keys"

// LoadEnabledTagKeys reads the warehouse-configured allowed tag keys and
// augments them with the fixed always-enabled set (spec §3 invariant).
func LoadEnabledTagKeys(ctx context.Context, db *DB) (model.EnabledTagKeys, error) {
	rows, err := db.sql.QueryContext(ctx, fmt.Sprintf("SELECT tag_key FROM %s", db.qualified(EnabledTagKeysTable)))
	if err != nil {
		return nil, perrors.Wrap(perrors.InputUnavailable, "", "enabled-tag-keys", err, "reading enabled tag keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, perrors.Wrap(perrors.InputCorrupt, "", "enabled-tag-keys", err, "scanning tag_key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, perrors.Wrap(perrors.InputUnavailable, "", "enabled-tag-keys", err, "iterating enabled tag keys")
	}

	return model.NewEnabledTagKeys(keys), nil
}

// Target identifies one truncate-and-bulk-load destination (spec §4.8).
type Target struct {
	Table      string
	SourceUUID string
	Year       string
	Month      string
	// Truncate, when true, deletes every row in the table instead of only
	// the rows matching (SourceUUID, Year, Month) — the coordinator's
	// "truncate=true mode" (spec §4.8).
	Truncate bool
}

// batchSize bounds how many rows go into a single multi-row INSERT
// statement, keeping well under SQLite's bound-parameter limit regardless
// of how wide a row is.
const batchSize = 200

// writeRows runs one delete-then-insert-then-verify transaction against
// t.Table, matching spec §4.8's contract: any failure aborts and leaves
// prior state intact, and a post-insert row-count check that disagrees
// with the input aborts the transaction with WarehouseConflict rather than
// letting a partial write survive commit.
func (d *DB) writeRows(ctx context.Context, t Target, columns []string, rows [][]any) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return perrors.Wrap(perrors.WarehouseConflict, "", "warehouse.write", err, fmt.Sprintf("beginning transaction for %s", t.Table))
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	qualified := d.qualified(t.Table)

	if t.Truncate {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", qualified)); err != nil {
			return perrors.Wrap(perrors.WarehouseConflict, t.SourceUUID, "warehouse.write", err, fmt.Sprintf("truncating %s", t.Table))
		}
	} else {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE source_uuid = ? AND year = ? AND month = ?", qualified)
		if _, err := tx.ExecContext(ctx, stmt, t.SourceUUID, t.Year, t.Month); err != nil {
			return perrors.Wrap(perrors.WarehouseConflict, t.SourceUUID, "warehouse.write", err, fmt.Sprintf("deleting partition from %s", t.Table))
		}
	}

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := insertBatch(ctx, tx, qualified, columns, rows[start:end]); err != nil {
			return perrors.Wrap(perrors.WarehouseConflict, t.SourceUUID, "warehouse.write", err, fmt.Sprintf("inserting into %s", t.Table))
		}
	}

	var gotCount int
	countStmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE source_uuid = ? AND year = ? AND month = ?", qualified)
	if err := tx.QueryRowContext(ctx, countStmt, t.SourceUUID, t.Year, t.Month).Scan(&gotCount); err != nil {
		return perrors.Wrap(perrors.WarehouseConflict, t.SourceUUID, "warehouse.write", err, fmt.Sprintf("verifying row count for %s", t.Table))
	}
	if gotCount != len(rows) {
		return perrors.New(perrors.WarehouseConflict, t.SourceUUID, "warehouse.write",
			fmt.Sprintf("%s: post-commit row count %d disagrees with input row count %d", t.Table, gotCount, len(rows)))
	}

	if err := tx.Commit(); err != nil {
		return perrors.Wrap(perrors.WarehouseConflict, t.SourceUUID, "warehouse.write", err, fmt.Sprintf("committing %s", t.Table))
	}
	committed = true
	return nil
}

func insertBatch(ctx context.Context, tx *sql.Tx, qualifiedTable string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	rowPlaceholder := "(" + placeholders(len(columns)) + ")"
	groups := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	for i, r := range rows {
		groups[i] = rowPlaceholder
		args = append(args, r...)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", qualifiedTable, columnList(columns), joinStrings(groups, ","))
	_, err := tx.ExecContext(ctx, stmt, args...)
	return err
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func columnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	return joinStrings(quoted, ", ")
}

func joinStrings(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// WriteOCPSummary bulk-loads OCP-only summary rows into t.Table, which is
// expected to already carry the columns spec §3 "Summary row (OCP-only)"
// enumerates.
func WriteOCPSummary(ctx context.Context, db *DB, t Target, rows []model.OCPSummaryRow) error {
	cols := ocpSummaryColumns()
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = ocpSummaryValues(r, t.SourceUUID, t.Year, t.Month)
	}
	return db.writeRows(ctx, t, cols, data)
}

// WriteAWSSummary bulk-loads OCP-on-AWS summary rows (any of the nine
// groupings in internal/awsagg share this column shape) into t.Table.
func WriteAWSSummary(ctx context.Context, db *DB, t Target, rows []model.AWSSummaryRow) error {
	cols := awsSummaryColumns()
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = awsSummaryValues(r, t.SourceUUID, t.Year, t.Month)
	}
	return db.writeRows(ctx, t, cols, data)
}

func dayString(t time.Time) string {
	return t.Format("2006-01-02")
}

func ocpSummaryColumns() []string {
	return []string{
		"uuid", "source_uuid", "year", "month",
		"usage_start", "cluster_id", "cluster_alias", "data_source", "namespace", "node",
		"pod", "persistentvolumeclaim", "persistentvolume", "storageclass",
		"pod_usage_cpu_core_hours", "pod_request_cpu_core_hours", "pod_effective_usage_cpu_core_hours", "pod_limit_cpu_core_hours",
		"pod_usage_memory_gigabyte_hours", "pod_request_memory_gigabyte_hours", "pod_effective_usage_memory_gigabyte_hours", "pod_limit_memory_gigabyte_hours",
		"node_capacity_cpu_core_hours", "node_capacity_memory_gigabyte_hours", "cluster_capacity_cpu_core_hours", "cluster_capacity_memory_gigabyte_hours",
		"persistentvolumeclaim_capacity_gigabyte_months", "persistentvolumeclaim_usage_gigabyte_months", "volume_request_storage_gigabyte_months",
	}
}

func ocpSummaryValues(r model.OCPSummaryRow, sourceUUID, year, month string) []any {
	return []any{
		r.UUID, sourceUUID, year, month,
		dayString(r.UsageStart), r.ClusterID, r.ClusterAlias, string(r.DataSource), r.Namespace, r.Node,
		r.Pod, r.PersistentVolumeClaim, r.PersistentVolume, r.StorageClass,
		r.PodUsageCPUCoreHours, r.PodRequestCPUCoreHours, r.PodEffectiveUsageCPUCoreHours, r.PodLimitCPUCoreHours,
		r.PodUsageMemoryGigabyteHours, r.PodRequestMemoryGigabyteHours, r.PodEffectiveUsageMemoryGigabyteHours, r.PodLimitMemoryGigabyteHours,
		r.NodeCapacityCPUCoreHours, r.NodeCapacityMemoryGigabyteHours, r.ClusterCapacityCPUCoreHours, r.ClusterCapacityMemoryGigabyteHours,
		r.PersistentVolumeClaimCapacityGigabyteMonths, r.PersistentVolumeClaimUsageGigabyteMonths, r.VolumeRequestStorageGigabyteMonths,
	}
}

func awsSummaryColumns() []string {
	return append(ocpSummaryColumns(),
		"resource_id", "product_code", "product_family", "instance_type",
		"usage_account_id", "availability_zone", "region", "unit", "usage_amount",
		"unblended_cost", "markup_cost", "blended_cost", "markup_cost_blended",
		"savingsplan_effective_cost", "markup_cost_savingsplan",
		"calculated_amortized_cost", "markup_cost_amortized",
		"data_transfer_direction", "infrastructure_data_in_gigabytes", "infrastructure_data_out_gigabytes",
		"resource_id_matched", "tag_matched", "currency_code",
	)
}

// warehousePrecision is the fractional-digit count costs are rounded to at
// the write boundary (spec §4.6/§9: "rounding is applied only at
// warehouse-write boundary with half-to-even semantics").
const warehousePrecision = 9

// roundForWrite applies the half-to-even rounding spec §9 reserves for this
// single boundary; every computation upstream of the writer keeps full
// decimal.Decimal precision.
func roundForWrite(d decimal.Decimal) string {
	return d.RoundBank(warehousePrecision).StringFixed(warehousePrecision)
}

func awsSummaryValues(r model.AWSSummaryRow, sourceUUID, year, month string) []any {
	vals := ocpSummaryValues(r.OCPSummaryRow, sourceUUID, year, month)
	return append(vals,
		r.ResourceID, r.ProductCode, r.ProductFamily, r.InstanceType,
		r.UsageAccountID, r.AvailabilityZone, r.Region, r.Unit, roundForWrite(r.UsageAmount),
		roundForWrite(r.UnblendedCost), roundForWrite(r.MarkupCost), roundForWrite(r.BlendedCost), roundForWrite(r.MarkupCostBlended),
		roundForWrite(r.SavingsPlanEffectiveCost), roundForWrite(r.MarkupCostSavingsPlan),
		roundForWrite(r.CalculatedAmortizedCost), roundForWrite(r.MarkupCostAmortized),
		string(r.DataTransferDirection), r.InfrastructureDataInGigabytes, r.InfrastructureDataOutGigabytes,
		r.ResourceIDMatched, r.TagMatched, r.CurrencyCode,
	)
}

// Summarize renders a human-readable progress line for the coordinator's
// logs, e.g. "wrote 4,096 rows (21 batches) to ocpaws_cluster_totals".
func Summarize(table string, rowCount int) string {
	batches := (rowCount + batchSize - 1) / batchSize
	if rowCount == 0 {
		batches = 0
	}
	return fmt.Sprintf("wrote %s rows (%s batches) to %s", humanize.Comma(int64(rowCount)), humanize.Comma(int64(batches)), table)
}
