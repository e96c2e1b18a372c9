package domain

import (
	"net/http"

	"collaborative-table-editor/auth"
	"collaborative-table-editor/internal/errors"

	"github.com/gin-gonic/gin"
)

// Handler exposes the domain command surface over HTTP. Every response
// wraps the value with the task id so callers can correlate the echoed
// callback with their own request.
type Handler struct {
	context *Context
}

func NewHandler(context *Context) *Handler {
	return &Handler{context: context}
}

func respond(c *gin.Context, taskID string, value any) {
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "value": value})
}

func (h *Handler) domain(c *gin.Context) (*Domain, bool) {
	d, err := h.context.Get(c.Request.Context(), ID(c.Param("id")))
	if err != nil {
		c.Error(err)
		return nil, false
	}
	return d, true
}

type CreateDomainRequest struct {
	DataBaseID   string         `json:"database_id" binding:"required"`
	Type         string         `json:"type" binding:"required"`
	ItemPath     string         `json:"item_path" binding:"required"`
	CategoryPath string         `json:"category_path"`
	Properties   map[string]any `json:"properties"`
}

// Create opens a new edit session; the caller joins as owner.
func (h *Handler) Create(c *gin.Context) {
	var form CreateDomainRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.Validation(err))
		return
	}

	meta, taskID, err := h.context.Create(c.Request.Context(), auth.FromGin(c), CreateRequest{
		DataBaseID:   form.DataBaseID,
		Type:         form.Type,
		ItemPath:     form.ItemPath,
		CategoryPath: form.CategoryPath,
		Properties:   form.Properties,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"task_id": taskID, "value": meta})
}

// GetMetaData lists domain metadata for one logical database.
func (h *Handler) GetMetaData(c *gin.Context) {
	metadata, err := h.context.MetadataByDataBase(c.Request.Context(), c.Param("databaseID"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": metadata})
}

// Join adds the caller as a participant and returns the state snapshot
// their view starts from.
func (h *Handler) Join(c *gin.Context) {
	d, ok := h.domain(c)
	if !ok {
		return
	}
	snapshot, taskID, err := d.AddUser(c.Request.Context(), auth.FromGin(c))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, taskID, snapshot)
}

// Leave removes the caller from the session.
func (h *Handler) Leave(c *gin.Context) {
	d, ok := h.domain(c)
	if !ok {
		return
	}
	taskID, err := d.RemoveUser(c.Request.Context(), auth.FromGin(c))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, taskID, nil)
}

type RowsRequest struct {
	Rows []Row `json:"rows" binding:"required,min=1"`
}

func (h *Handler) NewRows(c *gin.Context) {
	var form RowsRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.Validation(err))
		return
	}
	d, ok := h.domain(c)
	if !ok {
		return
	}
	rows, taskID, err := d.NewRows(c.Request.Context(), auth.FromGin(c), form.Rows)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, taskID, rows)
}

func (h *Handler) SetRows(c *gin.Context) {
	var form RowsRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.Validation(err))
		return
	}
	d, ok := h.domain(c)
	if !ok {
		return
	}
	rows, taskID, err := d.SetRows(c.Request.Context(), auth.FromGin(c), form.Rows)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, taskID, rows)
}

func (h *Handler) RemoveRows(c *gin.Context) {
	var form RowsRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.Validation(err))
		return
	}
	d, ok := h.domain(c)
	if !ok {
		return
	}
	rows, taskID, err := d.RemoveRows(c.Request.Context(), auth.FromGin(c), form.Rows)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, taskID, rows)
}

type PropertyRequest struct {
	Value any `json:"value"`
}

func (h *Handler) SetProperty(c *gin.Context) {
	var form PropertyRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.Validation(err))
		return
	}
	d, ok := h.domain(c)
	if !ok {
		return
	}
	taskID, err := d.SetProperty(c.Request.Context(), auth.FromGin(c), c.Param("name"), form.Value)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, taskID, nil)
}

type LocationRequest struct {
	Location LocationInfo `json:"location"`
}

func (h *Handler) SetUserLocation(c *gin.Context) {
	var form LocationRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.Validation(err))
		return
	}
	d, ok := h.domain(c)
	if !ok {
		return
	}
	taskID, err := d.SetUserLocation(c.Request.Context(), auth.FromGin(c), form.Location)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, taskID, nil)
}

func (h *Handler) BeginUserEdit(c *gin.Context) {
	var form LocationRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.Validation(err))
		return
	}
	d, ok := h.domain(c)
	if !ok {
		return
	}
	taskID, err := d.BeginUserEdit(c.Request.Context(), auth.FromGin(c), form.Location)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, taskID, nil)
}

func (h *Handler) EndUserEdit(c *gin.Context) {
	d, ok := h.domain(c)
	if !ok {
		return
	}
	taskID, err := d.EndUserEdit(c.Request.Context(), auth.FromGin(c))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, taskID, nil)
}

type SetOwnerRequest struct {
	UserID uint64 `json:"user_id" binding:"required"`
}

func (h *Handler) SetOwner(c *gin.Context) {
	var form SetOwnerRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.Validation(err))
		return
	}
	d, ok := h.domain(c)
	if !ok {
		return
	}
	taskID, err := d.SetOwner(c.Request.Context(), auth.FromGin(c), form.UserID)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, taskID, nil)
}

type KickRequest struct {
	UserID  uint64 `json:"user_id" binding:"required"`
	Comment string `json:"comment"`
}

func (h *Handler) Kick(c *gin.Context) {
	var form KickRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.Validation(err))
		return
	}
	d, ok := h.domain(c)
	if !ok {
		return
	}
	taskID, err := d.Kick(c.Request.Context(), auth.FromGin(c), form.UserID, form.Comment)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, taskID, nil)
}

// Delete finalizes the session. force=true discards pending state
// unconditionally (admin only); otherwise the pending operations are
// committed to durable storage.
func (h *Handler) Delete(c *gin.Context) {
	force := c.Query("force") == "true"
	result, taskID, err := h.context.Delete(c.Request.Context(), auth.FromGin(c), ID(c.Param("id")), force)
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, taskID, result)
}
