// Package pipeline coordinates one run of the aggregator: for every
// configured provider it reads OCP (and, for OCP-on-AWS providers, AWS CUR)
// Parquet partitions, aggregates and attributes cost, and bulk-loads the
// results into the warehouse (spec §2, §5). Each provider advances through
// a fixed sequence of stages — reading, aggregating, (matching,
// attributing), writing — and never moves backward; the first provider
// failure aborts the run without touching providers still queued.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/costpipeline/parquet-aggregator/internal/awsagg"
	"github.com/costpipeline/parquet-aggregator/internal/config"
	cpierrors "github.com/costpipeline/parquet-aggregator/internal/errors"
	"github.com/costpipeline/parquet-aggregator/internal/logging"
	"github.com/costpipeline/parquet-aggregator/internal/metrics"
	"github.com/costpipeline/parquet-aggregator/internal/model"
	"github.com/costpipeline/parquet-aggregator/internal/objectstore"
	"github.com/costpipeline/parquet-aggregator/internal/ocpagg"
	"github.com/costpipeline/parquet-aggregator/internal/resourcematch"
	"github.com/costpipeline/parquet-aggregator/internal/warehouse"
)

// Warehouse target table names (spec §4.7, §4.8).
const (
	TableOCPPodSummary    = "ocp_pod_summary"
	TableOCPVolumeSummary = "ocp_volume_summary"

	TableDetailedLineItems = "ocpaws_line_items_detailed"
	TableClusterTotals     = "ocpaws_cluster_totals"
	TableByAccount         = "ocpaws_by_account"
	TableByService         = "ocpaws_by_service"
	TableByRegion          = "ocpaws_by_region"
	TableComputeSummary    = "ocpaws_compute_summary"
	TableStorageSummary    = "ocpaws_storage_summary"
	TableDatabaseSummary   = "ocpaws_database_summary"
	TableNetworkSummary    = "ocpaws_network_summary"
)

// Coordinator runs every enabled provider in a config against one warehouse
// connection and one object-store client (spec §2 component 10).
type Coordinator struct {
	cfg    *config.Config
	store  *objectstore.Store
	wh     *warehouse.DB
	logger *slog.Logger
}

// NewCoordinator builds a Coordinator from an already-validated config and
// already-opened dependencies.
func NewCoordinator(cfg *config.Config, store *objectstore.Store, wh *warehouse.DB, logger *slog.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, store: store, wh: wh, logger: logger}
}

// Run executes every enabled provider in configuration order, stopping at
// the first failure (spec §7: a failed provider aborts the whole run rather
// than letting downstream providers commit against a partially-consistent
// enabled-tag-key snapshot).
func (c *Coordinator) Run(ctx context.Context, truncate bool) error {
	for _, p := range c.cfg.Providers {
		if !p.Enabled {
			continue
		}
		if err := c.runProvider(ctx, p, truncate); err != nil {
			return err
		}
	}
	return nil
}

func providerLabel(p config.Provider) string {
	if p.SourceUUID != "" {
		return p.SourceUUID
	}
	if p.OCPSourceUUID != "" && p.AWSSourceUUID != "" {
		return p.OCPSourceUUID + "/" + p.AWSSourceUUID
	}
	if p.OCPSourceUUID != "" {
		return p.OCPSourceUUID
	}
	return p.AWSSourceUUID
}

// runProvider drives one provider through idle -> reading -> aggregating ->
// [matching -> attributing] -> writing -> committed|failed.
func (c *Coordinator) runProvider(ctx context.Context, p config.Provider, truncate bool) (err error) {
	id := providerLabel(p)
	logger := logging.ForStage(c.logger, id, "idle")
	logger.Info("provider run starting", "type", p.Type)

	runCtx := ctx
	if c.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.ProviderTimeout)
		defer cancel()
	}

	result := "failed"
	defer func() {
		metrics.ProviderRuns.WithLabelValues(id, result).Inc()
		if err != nil {
			logging.ForStage(c.logger, id, "failed").Error("provider run failed", "error", err)
		}
	}()

	finish := func(stageErr error, stage string) error {
		return wrapStageErr(stageErr, ctx, runCtx, id, stage)
	}

	ocpUUID := p.OCPSourceUUID
	if ocpUUID == "" {
		ocpUUID = p.SourceUUID
	}

	basePartition := objectstore.Partition{
		OrgID:      c.cfg.Database.Schema,
		Provider:   model.OCP,
		SourceUUID: ocpUUID,
		Year:       c.cfg.DateRange.Year,
		Month:      c.cfg.DateRange.Month,
	}

	stage := "reading"
	stageStart := time.Now()
	pods, rerr := readPods(runCtx, c.store, basePartition, id, c.cfg.Performance.ChunkSize)
	if rerr != nil {
		return finish(rerr, stage)
	}
	vols, rerr := readVolumes(runCtx, c.store, basePartition, id, c.cfg.Performance.ChunkSize)
	if rerr != nil {
		return finish(rerr, stage)
	}
	metrics.StageDuration.WithLabelValues(id, stage).Observe(time.Since(stageStart).Seconds())

	stage = "aggregating"
	stageStart = time.Now()
	allowedTags, aerr := warehouse.LoadEnabledTagKeys(runCtx, c.wh)
	if aerr != nil {
		return finish(aerr, stage)
	}
	podRows, aerr := ocpagg.AggregatePods(pods, allowedTags)
	if aerr != nil {
		return finish(aerr, stage)
	}
	volRows, aerr := ocpagg.AggregateVolumes(vols, allowedTags)
	if aerr != nil {
		return finish(aerr, stage)
	}

	nodeLabels := nodeLabelsFromPods(pods)
	unallocated := ocpagg.UnallocatedRows(podRows, nodeLabels)
	unattributedStorage := ocpagg.UnattributedStorageRows(volRows)
	// UnattributedStorageRows returns copies of the empty-namespace rows
	// under a new name; exclude the originals here so the combined output
	// doesn't carry both the blank-namespace row and its renamed twin.
	claimedVolRows := excludeEmptyNamespace(volRows)

	finalPodRows := append(append([]model.OCPSummaryRow{}, podRows...), unallocated...)
	finalVolRows := append(append([]model.OCPSummaryRow{}, claimedVolRows...), unattributedStorage...)
	assignOCPUUIDs(finalPodRows)
	assignOCPUUIDs(finalVolRows)
	metrics.StageDuration.WithLabelValues(id, "aggregating").Observe(time.Since(stageStart).Seconds())

	switch p.Type {
	case config.ProviderOCP:
		stage = "writing"
		stageStart = time.Now()
		writeLogger := logging.ForStage(c.logger, id, stage)
		target := warehouse.Target{SourceUUID: ocpUUID, Year: c.cfg.DateRange.Year, Month: c.cfg.DateRange.Month, Truncate: truncate}

		target.Table = TableOCPPodSummary
		if werr := warehouse.WriteOCPSummary(runCtx, c.wh, target, finalPodRows); werr != nil {
			return finish(werr, stage)
		}
		metrics.WarehouseRowsWritten.WithLabelValues(id, target.Table).Add(float64(len(finalPodRows)))
		writeLogger.Info(warehouse.Summarize(target.Table, len(finalPodRows)))

		target.Table = TableOCPVolumeSummary
		if werr := warehouse.WriteOCPSummary(runCtx, c.wh, target, finalVolRows); werr != nil {
			return finish(werr, stage)
		}
		metrics.WarehouseRowsWritten.WithLabelValues(id, target.Table).Add(float64(len(finalVolRows)))
		writeLogger.Info(warehouse.Summarize(target.Table, len(finalVolRows)))

		metrics.StageDuration.WithLabelValues(id, stage).Observe(time.Since(stageStart).Seconds())
		result = "committed"
		logging.ForStage(c.logger, id, "committed").Info("provider run committed")
		return nil

	case config.ProviderOCPAWS:
		awsUUID := p.AWSSourceUUID
		awsPartition := basePartition
		awsPartition.Provider = model.AWS
		awsPartition.SourceUUID = awsUUID

		stage = "matching"
		stageStart = time.Now()
		lineItems, rerr := readLineItems(runCtx, c.store, awsPartition, id, c.cfg.Performance.ChunkSize)
		if rerr != nil {
			return finish(rerr, stage)
		}

		ocpIdx := resourcematch.NewOCPIndex(pods, vols)
		matched := make([]model.LineItem, 0, len(lineItems))
		for _, item := range lineItems {
			if resourcematch.Match(&item, ocpIdx, allowedTags) {
				matched = append(matched, item)
				metrics.RowsMatched.WithLabelValues(id).Inc()
			} else {
				metrics.RowsDiscarded.WithLabelValues(id).Inc()
			}
		}
		metrics.StageDuration.WithLabelValues(id, stage).Observe(time.Since(stageStart).Seconds())

		stage = "attributing"
		stageStart = time.Now()
		idxs := attributeIndexes{
			ocpIndex:           ocpIdx,
			nodeToCluster:      nodeToClusterIndex(pods),
			namespaceToCluster: namespaceToClusterIndex(pods, vols),
			podViews:           podViewsByDayNode(finalPodRows),
			pvcViews:           pvcViewsByDayPV(finalVolRows),
		}

		var awsRows []model.AWSSummaryRow
		for _, item := range matched {
			rows, aterr := attributeMatched(item, p.Markup, idxs)
			if aterr != nil {
				return finish(aterr, stage)
			}
			awsRows = append(awsRows, rows...)
		}
		assignAWSUUIDs(awsRows)
		for _, r := range awsRows {
			metrics.RowsAttributed.WithLabelValues(id, string(r.DataSource)).Inc()
		}
		metrics.StageDuration.WithLabelValues(id, stage).Observe(time.Since(stageStart).Seconds())

		stage = "writing"
		stageStart = time.Now()
		writeLogger := logging.ForStage(c.logger, id, stage)
		outputs := []struct {
			table string
			rows  []model.AWSSummaryRow
		}{
			{TableDetailedLineItems, awsagg.DetailedLineItems(awsRows)},
			{TableClusterTotals, awsagg.ClusterTotals(awsRows)},
			{TableByAccount, awsagg.ByAccount(awsRows)},
			{TableByService, awsagg.ByService(awsRows)},
			{TableByRegion, awsagg.ByRegion(awsRows)},
			{TableComputeSummary, awsagg.ComputeSummary(awsRows)},
			{TableStorageSummary, awsagg.StorageSummary(awsRows)},
			{TableDatabaseSummary, awsagg.DatabaseSummary(awsRows)},
			{TableNetworkSummary, awsagg.NetworkSummary(awsRows)},
		}

		for _, o := range outputs {
			assignAWSUUIDs(o.rows)
			target := warehouse.Target{Table: o.table, SourceUUID: awsUUID, Year: c.cfg.DateRange.Year, Month: c.cfg.DateRange.Month, Truncate: truncate}
			if werr := warehouse.WriteAWSSummary(runCtx, c.wh, target, o.rows); werr != nil {
				return finish(werr, stage)
			}
			metrics.WarehouseRowsWritten.WithLabelValues(id, o.table).Add(float64(len(o.rows)))
			writeLogger.Info(warehouse.Summarize(o.table, len(o.rows)))
		}
		metrics.StageDuration.WithLabelValues(id, stage).Observe(time.Since(stageStart).Seconds())

		result = "committed"
		logging.ForStage(c.logger, id, "committed").Info("provider run committed")
		return nil

	default:
		return annotate(cpierrors.New(cpierrors.ConfigInvalid, id, "idle", fmt.Sprintf("unknown provider type %q", p.Type)), id, "idle")
	}
}

// annotate fills in the provider/stage context on a pipeline error if the
// component that raised it didn't already know its own provider identity
// (most of internal/objectstore, internal/ocpagg, and internal/attribution
// report "" since they operate on raw records with no notion of which
// configured provider entry is running).
func annotate(err error, provider, stage string) error {
	var pe *cpierrors.Error
	if stderrors.As(err, &pe) {
		if pe.Provider == "" {
			pe.Provider = provider
		}
		if pe.Stage == "" {
			pe.Stage = stage
		}
		return pe
	}
	return err
}

// wrapStageErr wraps a stage error with provider/stage context, promoting it
// to cpierrors.Timeout when it was the per-provider deadline — not the
// parent run context — that actually expired (spec §5, §7, §4.11: a
// provider that exceeds its configured wall clock fails with kind Timeout,
// distinct from an operator-initiated cancellation of the whole run).
func wrapStageErr(stageErr error, parentCtx, runCtx context.Context, provider, stage string) error {
	if stageErr == nil {
		return nil
	}
	if runCtx.Err() == context.DeadlineExceeded && parentCtx.Err() == nil {
		return cpierrors.Wrap(cpierrors.Timeout, provider, stage, stageErr, "provider exceeded configured timeout")
	}
	return annotate(stageErr, provider, stage)
}

func excludeEmptyNamespace(rows []model.OCPSummaryRow) []model.OCPSummaryRow {
	out := make([]model.OCPSummaryRow, 0, len(rows))
	for _, r := range rows {
		if r.Namespace == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

func assignOCPUUIDs(rows []model.OCPSummaryRow) {
	for i := range rows {
		rows[i].UUID = uuid.NewString()
	}
}

func assignAWSUUIDs(rows []model.AWSSummaryRow) {
	for i := range rows {
		rows[i].UUID = uuid.NewString()
	}
}
