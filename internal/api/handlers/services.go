package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/logging"
	"github.com/freaksdesign/PertScan/internal/scanning"
	"github.com/freaksdesign/PertScan/internal/services"
)

// ServiceCatalog is the port metadata registry.
type ServiceCatalog interface {
	Lookup(port int) (name, description string)
	Ports() []int
}

// ServicesHandler exposes the port metadata registry.
type ServicesHandler struct {
	catalog ServiceCatalog
	logger  *logging.Logger
}

// NewServicesHandler creates a services handler.
func NewServicesHandler(catalog ServiceCatalog, logger *logging.Logger) *ServicesHandler {
	return &ServicesHandler{
		catalog: catalog,
		logger:  logger.WithFields("handler", "services"),
	}
}

// ServiceResponse describes one port.
type ServiceResponse struct {
	Port        int    `json:"port"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Known       bool   `json:"known"`
}

func (h *ServicesHandler) describe(port int) ServiceResponse {
	name, desc := h.catalog.Lookup(port)
	return ServiceResponse{
		Port:        port,
		Name:        name,
		Description: desc,
		Known:       name != services.NotAvailable,
	}
}

// GetService handles GET /api/v1/services/{port}. Unknown ports answer 200
// with the "not available" sentinel, matching what a scan would report.
func (h *ServicesHandler) GetService(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["port"]
	port, err := strconv.Atoi(raw)
	if err != nil || port < scanning.MinPort || port > scanning.MaxPort {
		writeCodedError(w, r, errors.ErrInvalidRange("",
			fmt.Sprintf("port %q out of range %d-%d", raw, scanning.MinPort, scanning.MaxPort)))
		return
	}

	writeJSON(w, r, http.StatusOK, h.describe(port))
}

// ListServices handles GET /api/v1/services - registered ports, ascending.
func (h *ServicesHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	params, err := getPaginationParams(r)
	if err != nil {
		writeCodedError(w, r, err)
		return
	}

	ports := h.catalog.Ports()
	total := int64(len(ports))

	lo := min(params.Offset, len(ports))
	hi := min(lo+params.PageSize, len(ports))

	page := make([]ServiceResponse, 0, hi-lo)
	for _, port := range ports[lo:hi] {
		page = append(page, h.describe(port))
	}

	writePaginatedResponse(w, r, page, params, total)
}
