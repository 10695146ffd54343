package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/anungis437/nzila-automation-sub010/internal/evidence"
	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
	"github.com/anungis437/nzila-automation-sub010/internal/identity"
	"github.com/anungis437/nzila-automation-sub010/internal/lifecycle"
)

// ResourceHandler handles HTTP requests for governed resources.
type ResourceHandler struct {
	svc     *lifecycle.Service
	tokens  *identity.TokenIssuer
	limiter gin.HandlerFunc // nil = no per-actor limit
	logger  *zap.Logger
}

// SetLimiter installs a per-actor rate limiter, run after authentication.
func (h *ResourceHandler) SetLimiter(mw gin.HandlerFunc) {
	h.limiter = mw
}

// NewResourceHandler creates a new ResourceHandler. Every route requires an
// actor token issued by tokens.
func NewResourceHandler(svc *lifecycle.Service, tokens *identity.TokenIssuer, logger *zap.Logger) *ResourceHandler {
	return &ResourceHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register mounts the resource routes on the given router group.
func (h *ResourceHandler) Register(rg *gin.RouterGroup) {
	mw := []gin.HandlerFunc{identity.RequireActor(h.tokens)}
	if h.limiter != nil {
		mw = append(mw, h.limiter)
	}
	r := rg.Group("/resources", mw...)
	{
		r.POST("", h.Create)
		r.GET("/:type/:id", h.Get)
		r.GET("/:type/:id/transitions", h.Available)
		r.POST("/:type/:id/transitions", h.Apply)
		r.GET("/:type/:id/audit", h.History)
	}
}

// artifactRequest is an evidence artifact supplied with a transition. Server
// side files are never read on behalf of a caller.
type artifactRequest struct {
	Name      string `json:"name" binding:"required"`
	Category  string `json:"category"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"sizeBytes"`
	Content   string `json:"content"`
	Path      string `json:"path"`
	Optional  bool   `json:"optional"`
}

// TransitionRequest is the body of POST /resources/:type/:id/transitions.
type TransitionRequest struct {
	Target    string            `json:"target" binding:"required"`
	Payload   map[string]any    `json:"payload"`
	Artifacts []artifactRequest `json:"artifacts"`
}

func (a artifactRequest) descriptor() (evidence.ArtifactDescriptor, error) {
	if a.Path != "" {
		return evidence.ArtifactDescriptor{}, errors.New("artifact " + a.Name + ": path sources are not accepted over HTTP")
	}
	if a.SHA256 == "" && a.Content == "" {
		return evidence.ArtifactDescriptor{}, errors.New("artifact " + a.Name + ": sha256 or content is required")
	}
	d := evidence.ArtifactDescriptor{
		Name:      a.Name,
		Category:  a.Category,
		SHA256:    a.SHA256,
		SizeBytes: a.SizeBytes,
		Optional:  a.Optional,
	}
	if a.SHA256 == "" {
		d.Content = []byte(a.Content)
	}
	return d, nil
}

// Create handles POST /resources.
func (h *ResourceHandler) Create(c *gin.Context) {
	var req lifecycle.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, _ := identity.ActorFromCtx(c)
	switch {
	case req.ResourceEntityID == "":
		req.ResourceEntityID = actor.ResourceEntityID
	case actor.ResourceEntityID != "" && actor.ResourceEntityID != req.ResourceEntityID:
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot create resources for another entity"})
		return
	}

	r, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		writeLifecycleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// visible loads a resource and hides it from actors of other entities.
func (h *ResourceHandler) visible(c *gin.Context) (*lifecycle.Resource, bool) {
	r, err := h.svc.Get(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		writeLifecycleError(c, h.logger, err)
		return nil, false
	}
	actor, _ := identity.ActorFromCtx(c)
	if actor.ResourceEntityID != "" && r.ResourceEntityID != "" && actor.ResourceEntityID != r.ResourceEntityID {
		writeLifecycleError(c, h.logger, lifecycle.ErrNotFound)
		return nil, false
	}
	return r, true
}

// Get handles GET /resources/:type/:id.
func (h *ResourceHandler) Get(c *gin.Context) {
	r, ok := h.visible(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r)
}

// Available handles GET /resources/:type/:id/transitions.
func (h *ResourceHandler) Available(c *gin.Context) {
	actor, _ := identity.ActorFromCtx(c)
	r, results, err := h.svc.Available(c.Request.Context(), c.Param("type"), c.Param("id"), actor, fsm.Payload{})
	if err != nil {
		writeLifecycleError(c, h.logger, err)
		return
	}
	if results == nil {
		results = []fsm.Result{}
	}
	c.JSON(http.StatusOK, gin.H{
		"state":       r.State,
		"version":     r.Version,
		"transitions": results,
	})
}

// Apply handles POST /resources/:type/:id/transitions.
func (h *ResourceHandler) Apply(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	descriptors := make([]evidence.ArtifactDescriptor, 0, len(req.Artifacts))
	for _, a := range req.Artifacts {
		d, err := a.descriptor()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d.CollectedAt = time.Now().UTC()
		descriptors = append(descriptors, d)
	}

	actor, _ := identity.ActorFromCtx(c)
	out, err := h.svc.Apply(c.Request.Context(), lifecycle.ApplyRequest{
		EntityType: c.Param("type"),
		ID:         c.Param("id"),
		Target:     fsm.State(req.Target),
		Context:    actor,
		Payload:    fsm.Payload(req.Payload),
		Artifacts:  descriptors,
	})
	if errors.Is(err, lifecycle.ErrPostCommit) {
		h.logger.Error("transition committed with follow-up failure",
			zap.String("entity_type", c.Param("type")),
			zap.String("id", c.Param("id")),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     err.Error(),
			"committed": true,
			"result":    out,
		})
		return
	}
	if err != nil {
		writeLifecycleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// History handles GET /resources/:type/:id/audit.
func (h *ResourceHandler) History(c *gin.Context) {
	if _, ok := h.visible(c); !ok {
		return
	}
	records, err := h.svc.History(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		writeLifecycleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}
