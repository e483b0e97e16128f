package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ovos-raposo/checkout-service/internal/logging"
)

// ListProfiles handles GET /api/v1/admin/profiles
func (h *Handlers) ListProfiles(c *gin.Context) {
	limit, offset := paging(c)
	caller := callerFrom(c)

	users, err := h.orders.ListUsers(c.Request.Context(), caller, limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}

	h.logger.Info("Profiles listed", logging.Fields{"caller": caller.UserID, "count": len(users)})
	c.JSON(http.StatusOK, gin.H{"profiles": users})
}

// ListCustomers handles GET /api/v1/admin/customers
func (h *Handlers) ListCustomers(c *gin.Context) {
	limit, offset := paging(c)

	customers, err := h.orders.ListCustomers(c.Request.Context(), callerFrom(c), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}
