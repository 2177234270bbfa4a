// Package qualer catalogs the portal endpoints the harvester knows how to
// pull. Each constructor returns a request descriptor carrying the endpoint
// URL, the parameters the web UI sends, and the auth-context page the
// browser tier must visit before replaying the request.
package qualer

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jgiquality/qualer-harvester/internal/harvest/dispatch"
)

// Service labels used for persistence grouping and dedup. Stable: renaming
// one orphans previously stored rows.
const (
	ServiceClientsRead       = "Clients_Read"
	ServiceClientsCountView  = "ClientsCountView"
	ServiceClientInformation = "ClientInformation"
	ServiceServiceGroups     = "GetServiceGroupsForExistingLevels"
	ServiceMeasurements      = "ServiceMeasurement_Read"
	ServiceLevelParameters   = "ServiceLevelParameter_Read"
	ServiceUncertaintyModal  = "UncertaintyModal"
	ServiceUncertaintyParams = "UncertaintyParameters"
	ServiceStandards         = "Standard_Read"
)

// ClientFilter selects the client dashboard population.
type ClientFilter string

const (
	FilterAllClients         ClientFilter = "AllClients"
	FilterProspects          ClientFilter = "Prospects"
	FilterDelinquent         ClientFilter = "Delinquent"
	FilterInactive           ClientFilter = "Inactive"
	FilterUnapproved         ClientFilter = "Unapproved"
	FilterHidden             ClientFilter = "Hidden"
	FilterOfflineFulfillment ClientFilter = "OfflineFulfillment"
	FilterAssetsDue          ClientFilter = "AssetsDue"
	FilterAssetsPastDue      ClientFilter = "AssetsPastDue"
)

// Catalog builds descriptors rooted at one portal origin.
type Catalog struct {
	base string
}

// NewCatalog trims a trailing slash so joins stay single-slashed.
func NewCatalog(baseURL string) *Catalog {
	return &Catalog{base: strings.TrimRight(baseURL, "/")}
}

func (c *Catalog) abs(path string) string {
	return c.base + path
}

// ClientsRead lists every client visible under the given filter. The huge
// page size is how the web UI itself defeats pagination.
func (c *Catalog) ClientsRead(pageSize int, filter ClientFilter) dispatch.RequestDescriptor {
	if pageSize <= 0 {
		pageSize = 1000000
	}
	return dispatch.RequestDescriptor{
		URL:     c.abs("/ClientDashboard/Clients_Read"),
		Method:  http.MethodPost,
		Service: ServiceClientsRead,
		Referer: c.abs("/clients"),
		Params: dispatch.Params{
			{Key: "sort", Value: "ClientCompanyName-asc"},
			{Key: "page", Value: "1"},
			{Key: "pageSize", Value: fmt.Sprintf("%d", pageSize)},
			{Key: "group", Value: ""},
			{Key: "filter", Value: ""},
			{Key: "search", Value: ""},
			{Key: "filterType", Value: string(filter)},
		},
	}
}

// ClientsCountView returns client counts grouped by filter type.
func (c *Catalog) ClientsCountView(search string, filter ClientFilter) dispatch.RequestDescriptor {
	return dispatch.RequestDescriptor{
		URL:     c.abs("/ClientDashboard/ClientsCountView"),
		Method:  http.MethodGet,
		Service: ServiceClientsCountView,
		Referer: c.abs("/ClientDashboard/Clients"),
		Params: dispatch.Params{
			{Key: "Search", Value: search},
			{Key: "FilterType", Value: string(filter)},
		},
	}
}

// ClientInformation fetches the HTML information form for one client.
func (c *Catalog) ClientInformation(clientID int64) dispatch.RequestDescriptor {
	return dispatch.RequestDescriptor{
		URL:     c.abs("/Client/ClientInformation"),
		Method:  http.MethodGet,
		Service: ServiceClientInformation,
		Referer: c.abs("/clients"),
		Params: dispatch.Params{
			{Key: "clientId", Value: fmt.Sprintf("%d", clientID)},
		},
	}
}

// ServiceGroups lists the service groups attached to a work order item.
func (c *Catalog) ServiceGroups(serviceOrderItemID int64) dispatch.RequestDescriptor {
	return dispatch.RequestDescriptor{
		URL:     c.abs("/work/TaskDetails/GetServiceGroupsForExistingLevels"),
		Method:  http.MethodGet,
		Service: ServiceServiceGroups,
		Params: dispatch.Params{
			{Key: "serviceOrderItemId", Value: fmt.Sprintf("%d", serviceOrderItemID)},
		},
	}
}

// ServiceMeasurements reads the measurement grid for one service group.
// The referer must carry the group id or the portal rejects the call.
func (c *Catalog) ServiceMeasurements(serviceGroupID int64) dispatch.RequestDescriptor {
	return dispatch.RequestDescriptor{
		URL:     c.abs("/ServiceMeasurement/ServiceMeasurement_Read"),
		Method:  http.MethodPost,
		Service: ServiceMeasurements,
		Referer: fmt.Sprintf("%s?ServiceGroupId=%d", c.abs("/ServiceMeasurement/ServiceMeasurement"), serviceGroupID),
		Params: dispatch.Params{
			{Key: "sort", Value: ""},
			{Key: "group", Value: ""},
			{Key: "filter", Value: ""},
			{Key: "serviceGroupId", Value: fmt.Sprintf("%d", serviceGroupID)},
		},
	}
}

// ServiceLevelParameters reads the parameter grid for one service group.
func (c *Catalog) ServiceLevelParameters(serviceGroupID int64) dispatch.RequestDescriptor {
	return dispatch.RequestDescriptor{
		URL:     fmt.Sprintf("%s?ServiceGroupId=%d", c.abs("/ServiceParameter/ServiceLevelParameter_Read"), serviceGroupID),
		Method:  http.MethodPost,
		Service: ServiceLevelParameters,
		Params: dispatch.Params{
			{Key: "sort", Value: ""},
			{Key: "page", Value: "1"},
			{Key: "pageSize", Value: "25"},
			{Key: "group", Value: ""},
			{Key: "filter", Value: ""},
		},
	}
}

// UncertaintyModal fetches the uncertainty modal HTML for a measurement.
// The portal names the two query parameters with different casings.
func (c *Catalog) UncertaintyModal(measurementID, measurementBatchID int64) dispatch.RequestDescriptor {
	return dispatch.RequestDescriptor{
		URL:     c.abs("/work/Uncertainties/UncertaintyModal"),
		Method:  http.MethodGet,
		Service: ServiceUncertaintyModal,
		Params: dispatch.Params{
			{Key: "measurementId", Value: fmt.Sprintf("%d", measurementID)},
			{Key: "MeasurementBatchId", Value: fmt.Sprintf("%d", measurementBatchID)},
		},
	}
}

// UncertaintyParameters fetches the parameter rows behind one uncertainty
// budget.
func (c *Catalog) UncertaintyParameters(measurementID, uncertaintyBudgetID int64) dispatch.RequestDescriptor {
	return dispatch.RequestDescriptor{
		URL:     c.abs("/work/Uncertainties/UncertaintyParameters"),
		Method:  http.MethodGet,
		Service: ServiceUncertaintyParams,
		Params: dispatch.Params{
			{Key: "measurementId", Value: fmt.Sprintf("%d", measurementID)},
			{Key: "uncertaintyBudgetId", Value: fmt.Sprintf("%d", uncertaintyBudgetID)},
		},
	}
}

// StandardsPage describes one page of the standards grid. AreaID of "" is
// sent as the literal "NaN" the web UI uses for the unset area filter.
type StandardsPage struct {
	Page      int
	PageSize  int
	Sort      string
	Group     string
	Filter    string
	Search    string
	ProductID string
	AreaID    string
}

// Standards reads a page of the specifications standards grid.
func (c *Catalog) Standards(p StandardsPage) dispatch.RequestDescriptor {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 50
	}
	areaID := p.AreaID
	if areaID == "" {
		areaID = "NaN"
	}
	return dispatch.RequestDescriptor{
		URL:     c.abs("/specifications/Standard_Read"),
		Method:  http.MethodPost,
		Service: ServiceStandards,
		Referer: c.abs("/specifications"),
		Params: dispatch.Params{
			{Key: "sort", Value: p.Sort},
			{Key: "page", Value: fmt.Sprintf("%d", p.Page)},
			{Key: "pageSize", Value: fmt.Sprintf("%d", p.PageSize)},
			{Key: "group", Value: p.Group},
			{Key: "filter", Value: p.Filter},
			{Key: "StandardFilter", Value: "All"},
			{Key: "Search", Value: p.Search},
			{Key: "ProductId", Value: p.ProductID},
			{Key: "AreaId", Value: areaID},
		},
	}
}
