// Package handler exposes the campaign control endpoints: batch
// triggering, lead import, and progress stats.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"phoneagent_backend/internal/config"
	"phoneagent_backend/internal/leads/source"
	"phoneagent_backend/internal/leads/store"
	"phoneagent_backend/platform/httpkit"
	"phoneagent_backend/platform/logger"
	"phoneagent_backend/platform/validator"
)

// BatchStarter kicks off one dial batch. Implementations either enqueue
// a task for the worker or run the dispatcher locally.
type BatchStarter interface {
	StartBatch(ctx context.Context, batchSize int) error
}

type Handler struct {
	campaign *config.Campaign
	store    *store.Store
	reader   *source.Reader
	starter  BatchStarter
	validate *validator.Validator
	log      *logger.Logger
}

func New(campaign *config.Campaign, st *store.Store, reader *source.Reader, starter BatchStarter, validate *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{
		campaign: campaign,
		store:    st,
		reader:   reader,
		starter:  starter,
		validate: validate,
		log:      log,
	}
}

// RegisterRoutes mounts the campaign control endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	grp := r.Group("/api/v1/campaign")
	grp.GET("/stats", h.stats)
	grp.POST("/batches", h.startBatch)
	grp.POST("/leads/import", h.importLeads)
	grp.GET("/leads/export", h.exportLeads)
}

type dialBatchRequest struct {
	BatchSize int `json:"batchSize" validate:"omitempty,gte=1,lte=500"`
}

func (h *Handler) startBatch(c *gin.Context) {
	var req dialBatchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, "invalid request body", nil)
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid batch size", err.Error())
		return
	}

	size := req.BatchSize
	if size == 0 {
		size = h.campaign.BatchSize
	}

	if err := h.starter.StartBatch(c.Request.Context(), size); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	h.log.Info("dial batch requested", "campaign", h.campaign.Name, "batch_size", size)
	httpkit.JSON(c, http.StatusAccepted, gin.H{"status": "queued", "batchSize": size})
}

func (h *Handler) importLeads(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "missing file upload", nil)
		return
	}
	defer file.Close()

	leads, result, err := h.reader.Read(file)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "could not parse CSV", err.Error())
		return
	}

	imported := 0
	skipped := 0
	for _, lead := range leads {
		// Re-imports must not reset leads that were already worked.
		if h.store.Has(lead.ID) {
			skipped++
			continue
		}
		if err := h.store.Upsert(lead); err != nil {
			httpkit.HandleError(c, err)
			return
		}
		imported++
	}
	if err := h.store.Persist(); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	h.log.Info("leads imported",
		"total", result.Total,
		"imported", imported,
		"already_known", skipped,
		"no_phone", result.NoPhone,
		"bad_phone", result.BadPhone,
	)
	httpkit.JSON(c, http.StatusOK, gin.H{
		"total":        result.Total,
		"imported":     imported,
		"alreadyKnown": skipped,
		"noPhone":      result.NoPhone,
		"badPhone":     result.BadPhone,
		"duplicates":   result.Duplicates,
	})
}

// exportLeads streams the whole lead cache as a CSV backup. The column
// layout matches the import format so the file can be re-imported.
func (h *Handler) exportLeads(c *gin.Context) {
	leads := h.store.All()

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="leads-export.csv"`)
	c.Status(http.StatusOK)
	if err := source.WriteCSV(c.Writer, leads); err != nil {
		h.log.Error("lead export failed", "error", err)
	}
}

func (h *Handler) stats(c *gin.Context) {
	stats := h.store.Stats()
	httpkit.JSON(c, http.StatusOK, gin.H{
		"campaign":     h.campaign.Name,
		"total":        stats.Total,
		"notProcessed": stats.NotProcessed,
		"called":       stats.Called,
		"errored":      stats.Errored,
		"outcomes":     stats.Outcomes,
	})
}
