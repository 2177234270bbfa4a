package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jgiquality/qualer-harvester/internal/harvest/dispatch"
	"github.com/jgiquality/qualer-harvester/internal/harvest/orchestrator"
	"github.com/jgiquality/qualer-harvester/internal/observability"
	"github.com/jgiquality/qualer-harvester/internal/qualer"
)

// fetchFlags holds the identifiers the individual endpoints need. Each
// endpoint reads only the flags it documents; the rest are ignored.
type fetchFlags struct {
	clientID       int64
	orderItemID    int64
	serviceGroupID int64
	measurementID  int64
	batchID        int64
	budgetID       int64
	page           int
	pageSize       int
	filter         string
	search         string
}

// newFetchCmd creates the `fetch` command: authenticate, pull one endpoint,
// persist the raw response, print the body.
func newFetchCmd() *cobra.Command {
	var flags fetchFlags

	fetchCmd := &cobra.Command{
		Use:   "fetch <endpoint>",
		Short: "Fetches a single portal endpoint and stores the raw response",
		Long: `Fetches one endpoint from the portal and stores the raw response
under its service label. Known endpoints:

  clients                 client list (POST Clients_Read)
  client-counts           client counts by filter (GET ClientsCountView)
  client-info             client information form, requires --client-id
  service-groups          service groups for a work item, requires --order-item-id
  measurements            measurement grid, requires --service-group-id
  level-parameters        parameter grid, requires --service-group-id
  uncertainty-modal       requires --measurement-id and --batch-id
  uncertainty-parameters  requires --measurement-id and --budget-id
  standards               standards grid page (POST Standard_Read)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			desc, err := resolveDescriptor(args[0], flags)
			if err != nil {
				return err
			}

			h, err := orchestrator.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer h.Close(ctx)

			resp, err := h.FetchAndStore(ctx, desc)
			if err != nil {
				return err
			}

			logger.Info("Fetch complete",
				zap.String("service", desc.Service),
				zap.Int("status", resp.Status),
				zap.Int("bytes", len(resp.Body)))
			fmt.Fprintln(cmd.OutOrStdout(), resp.Body)
			return nil
		},
	}

	fetchCmd.Flags().Int64Var(&flags.clientID, "client-id", 0, "client identifier")
	fetchCmd.Flags().Int64Var(&flags.orderItemID, "order-item-id", 0, "service order item identifier")
	fetchCmd.Flags().Int64Var(&flags.serviceGroupID, "service-group-id", 0, "service group identifier")
	fetchCmd.Flags().Int64Var(&flags.measurementID, "measurement-id", 0, "measurement identifier")
	fetchCmd.Flags().Int64Var(&flags.batchID, "batch-id", 0, "measurement batch identifier")
	fetchCmd.Flags().Int64Var(&flags.budgetID, "budget-id", 0, "uncertainty budget identifier")
	fetchCmd.Flags().IntVar(&flags.page, "page", 1, "grid page number")
	fetchCmd.Flags().IntVar(&flags.pageSize, "page-size", 0, "grid page size (0 uses the endpoint default)")
	fetchCmd.Flags().StringVar(&flags.filter, "filter", string(qualer.FilterAllClients), "client filter type")
	fetchCmd.Flags().StringVar(&flags.search, "search", "", "search term")

	return fetchCmd
}

// resolveDescriptor maps an endpoint name and its flags onto a catalog
// descriptor, validating that the required identifiers were supplied.
func resolveDescriptor(endpoint string, flags fetchFlags) (dispatch.RequestDescriptor, error) {
	catalog := qualer.NewCatalog(cfg.Auth.BaseURL)

	switch endpoint {
	case "clients":
		return catalog.ClientsRead(flags.pageSize, qualer.ClientFilter(flags.filter)), nil
	case "client-counts":
		return catalog.ClientsCountView(flags.search, qualer.ClientFilter(flags.filter)), nil
	case "client-info":
		if flags.clientID == 0 {
			return dispatch.RequestDescriptor{}, fmt.Errorf("client-info requires --client-id")
		}
		return catalog.ClientInformation(flags.clientID), nil
	case "service-groups":
		if flags.orderItemID == 0 {
			return dispatch.RequestDescriptor{}, fmt.Errorf("service-groups requires --order-item-id")
		}
		return catalog.ServiceGroups(flags.orderItemID), nil
	case "measurements":
		if flags.serviceGroupID == 0 {
			return dispatch.RequestDescriptor{}, fmt.Errorf("measurements requires --service-group-id")
		}
		return catalog.ServiceMeasurements(flags.serviceGroupID), nil
	case "level-parameters":
		if flags.serviceGroupID == 0 {
			return dispatch.RequestDescriptor{}, fmt.Errorf("level-parameters requires --service-group-id")
		}
		return catalog.ServiceLevelParameters(flags.serviceGroupID), nil
	case "uncertainty-modal":
		if flags.measurementID == 0 || flags.batchID == 0 {
			return dispatch.RequestDescriptor{}, fmt.Errorf("uncertainty-modal requires --measurement-id and --batch-id")
		}
		return catalog.UncertaintyModal(flags.measurementID, flags.batchID), nil
	case "uncertainty-parameters":
		if flags.measurementID == 0 || flags.budgetID == 0 {
			return dispatch.RequestDescriptor{}, fmt.Errorf("uncertainty-parameters requires --measurement-id and --budget-id")
		}
		return catalog.UncertaintyParameters(flags.measurementID, flags.budgetID), nil
	case "standards":
		return catalog.Standards(qualer.StandardsPage{
			Page:     flags.page,
			PageSize: flags.pageSize,
			Search:   flags.search,
		}), nil
	default:
		return dispatch.RequestDescriptor{}, fmt.Errorf("unknown endpoint %q, see `fetch --help` for the list", endpoint)
	}
}
