package cmd

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jgiquality/qualer-harvester/internal/harvest/dispatch"
	"github.com/jgiquality/qualer-harvester/internal/harvest/orchestrator"
	"github.com/jgiquality/qualer-harvester/internal/observability"
	"github.com/jgiquality/qualer-harvester/internal/qualer"
)

// newHarvestCmd creates the `harvest` command: one login, a full sweep of
// the configured endpoints, everything persisted.
func newHarvestCmd() *cobra.Command {
	var (
		clientIDs       []int64
		serviceGroupIDs []int64
		orderItemIDs    []int64
		standardsPages  int
		schedule        string
	)

	harvestCmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs a bulk harvest over the portal endpoints",
		Long: `Authenticates once and sweeps the portal: the client list, client
counts, the first pages of the standards grid, and the per-entity endpoints
for every identifier supplied via flags. Each raw response is stored under
its service label; responses already stored are left untouched.

With --schedule (or harvest.schedule in the config) the sweep repeats on the
given cron expression until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			descs := buildSweep(clientIDs, serviceGroupIDs, orderItemIDs, standardsPages)

			cronExpr := schedule
			if cronExpr == "" {
				cronExpr = cfg.Harvest.Schedule
			}
			if cronExpr == "" {
				return runSweep(ctx, logger, descs)
			}
			return runScheduled(ctx, logger, cronExpr, descs)
		},
	}

	harvestCmd.Flags().Int64SliceVar(&clientIDs, "client-ids", nil, "client ids to fetch information forms for")
	harvestCmd.Flags().Int64SliceVar(&serviceGroupIDs, "service-group-ids", nil, "service group ids to fetch measurements and parameters for")
	harvestCmd.Flags().Int64SliceVar(&orderItemIDs, "order-item-ids", nil, "service order item ids to fetch service groups for")
	harvestCmd.Flags().IntVar(&standardsPages, "standards-pages", 1, "number of standards grid pages to fetch (0 skips standards)")
	harvestCmd.Flags().StringVar(&schedule, "schedule", "", "cron expression for recurring harvests (overrides harvest.schedule)")

	return harvestCmd
}

// buildSweep assembles the descriptor list for one pass. Order matters only
// for politeness: the cheap dashboard calls come first.
func buildSweep(clientIDs, serviceGroupIDs, orderItemIDs []int64, standardsPages int) []dispatch.RequestDescriptor {
	catalog := qualer.NewCatalog(cfg.Auth.BaseURL)

	descs := []dispatch.RequestDescriptor{
		catalog.ClientsCountView("", qualer.FilterAllClients),
		catalog.ClientsRead(0, qualer.FilterAllClients),
	}
	for page := 1; page <= standardsPages; page++ {
		descs = append(descs, catalog.Standards(qualer.StandardsPage{Page: page}))
	}
	for _, id := range clientIDs {
		descs = append(descs, catalog.ClientInformation(id))
	}
	for _, id := range orderItemIDs {
		descs = append(descs, catalog.ServiceGroups(id))
	}
	for _, id := range serviceGroupIDs {
		descs = append(descs,
			catalog.ServiceMeasurements(id),
			catalog.ServiceLevelParameters(id),
		)
	}
	return descs
}

// runSweep acquires a harvester, runs one pass, and releases it. A fresh
// login per sweep keeps scheduled runs from depending on session longevity.
func runSweep(ctx context.Context, logger *zap.Logger, descs []dispatch.RequestDescriptor) error {
	h, err := orchestrator.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer h.Close(ctx)

	sum := h.Run(ctx, descs)
	if sum.Failed > 0 {
		return fmt.Errorf("harvest finished with %d failed items (stored %d, skipped %d)", sum.Failed, sum.Stored, sum.Skipped)
	}
	return nil
}

// runScheduled repeats the sweep on a cron schedule until the context is
// cancelled. Sweeps never overlap: a tick that fires while the previous
// sweep is still running is skipped.
func runScheduled(ctx context.Context, logger *zap.Logger, expr string, descs []dispatch.RequestDescriptor) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(expr, func() {
		if err := runSweep(ctx, logger, descs); err != nil {
			logger.Error("Scheduled harvest failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}

	logger.Info("Harvest scheduled", zap.String("cron", expr))
	c.Start()
	<-ctx.Done()

	// Let an in-flight sweep finish before returning.
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}
