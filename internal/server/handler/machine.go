package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
)

// MachineHandler serves the loaded machine definitions.
type MachineHandler struct {
	catalog *fsm.Catalog
	logger  *zap.Logger
}

// NewMachineHandler creates a new MachineHandler.
func NewMachineHandler(catalog *fsm.Catalog, logger *zap.Logger) *MachineHandler {
	return &MachineHandler{catalog: catalog, logger: logger}
}

// Register mounts the machine routes on the given router group.
func (h *MachineHandler) Register(rg *gin.RouterGroup) {
	m := rg.Group("/machines")
	{
		m.GET("", h.List)
		m.GET("/:type", h.Describe)
	}
}

// List handles GET /machines.
func (h *MachineHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"machines": h.catalog.Names()})
}

// Describe handles GET /machines/:type.
func (h *MachineHandler) Describe(c *gin.Context) {
	m, err := h.catalog.Get(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, fsm.Describe(m))
}
