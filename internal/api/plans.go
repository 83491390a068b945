package api

import (
	"net/http"

	"whatsapp-provider/internal/plans"

	"github.com/gin-gonic/gin"
)

type PlanHandler struct {
	Plans *plans.Service
}

func NewPlanHandler(svc *plans.Service) *PlanHandler {
	return &PlanHandler{Plans: svc}
}

func (h *PlanHandler) List(c *gin.Context) {
	list, err := h.Plans.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "plans": list})
}

func (h *PlanHandler) Get(c *gin.Context) {
	plan, err := h.Plans.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "plan": plan})
}

func (h *PlanHandler) Create(c *gin.Context) {
	var in plans.PlanInput
	if !bindJSON(c, &in) {
		return
	}
	plan, err := h.Plans.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "plan": plan})
}

func (h *PlanHandler) Update(c *gin.Context) {
	var in plans.PlanInput
	if !bindJSON(c, &in) {
		return
	}
	plan, err := h.Plans.Update(c.Request.Context(), c.Param("name"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "plan": plan})
}
