package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/anungis437/nzila-automation-sub010/internal/evidence"
	"github.com/anungis437/nzila-automation-sub010/internal/identity"
)

// EvidenceHandler verifies seals and serves stored evidence packs.
type EvidenceHandler struct {
	store   evidence.Store    // nil = GET /evidence/:packId answers 404
	keyring *evidence.Keyring // nil = signatures cannot be confirmed
	tokens  *identity.TokenIssuer
	logger  *zap.Logger
}

// NewEvidenceHandler creates a new EvidenceHandler.
func NewEvidenceHandler(store evidence.Store, keyring *evidence.Keyring, tokens *identity.TokenIssuer, logger *zap.Logger) *EvidenceHandler {
	return &EvidenceHandler{store: store, keyring: keyring, tokens: tokens, logger: logger}
}

// Register mounts the evidence routes on the given router group.
func (h *EvidenceHandler) Register(rg *gin.RouterGroup) {
	e := rg.Group("/evidence", requireToken(h.tokens))
	{
		e.POST("/verify", h.Verify)
		e.GET("/:packId", h.Get)
	}
}

// VerifyRequest is the body of POST /evidence/verify.
type VerifyRequest struct {
	Pack             *evidence.Pack `json:"pack" binding:"required"`
	Seal             *evidence.Seal `json:"seal" binding:"required"`
	RequireSignature bool           `json:"requireSignature"`
}

func (h *EvidenceHandler) verify(p evidence.Pack, seal evidence.Seal, requireSig bool) evidence.VerifyResult {
	opts, err := h.keyring.VerifyOptionsFor(seal)
	if err != nil {
		h.logger.Warn("seal names an unknown key id",
			zap.String("pack_id", p.PackID),
			zap.String("key_id", seal.HMACKeyID),
		)
	}
	opts.RequireSignature = requireSig
	res := evidence.VerifySeal(p, seal, opts)
	RecordSealVerification(string(res.Verdict))
	if !res.Valid {
		h.logger.Warn("seal verification failed",
			zap.String("pack_id", p.PackID),
			zap.String("reason", res.Reason),
		)
	}
	return res
}

// Verify handles POST /evidence/verify. Integrity failures are reported in
// the body with status 200.
func (h *EvidenceHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.verify(*req.Pack, *req.Seal, req.RequireSignature))
}

// Get handles GET /evidence/:packId — returns the stored pair with a fresh
// verification.
func (h *EvidenceHandler) Get(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "evidence store not configured"})
		return
	}
	p, seal, err := h.store.Load(c.Request.Context(), c.Param("packId"))
	if errors.Is(err, evidence.ErrPackNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "evidence pack not found"})
		return
	}
	if err != nil {
		h.logger.Error("evidence Load", zap.String("pack_id", c.Param("packId")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load evidence pack"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pack":         p,
		"seal":         seal,
		"verification": h.verify(p, seal, false),
	})
}
