package handler

import (
	"errors"
	"net/http"
	"strconv"

	"aigateway/internal/middleware"
	"aigateway/internal/model"
	"aigateway/internal/service"
	"aigateway/internal/upstream"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// AdminHandler 管理接口 /admin/*
type AdminHandler struct {
	admin   *service.AdminService
	catalog *service.CatalogSyncService
}

func NewAdminHandler(admin *service.AdminService, catalog *service.CatalogSyncService) *AdminHandler {
	return &AdminHandler{admin: admin, catalog: catalog}
}

// adminStatus 管理端错误到状态码的映射
func adminStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrQuotaNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrGroupNotFound),
		errors.Is(err, service.ErrAlertNotFound),
		errors.Is(err, service.ErrProviderNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrGroupAccessDenied):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrUserInactive),
		errors.Is(err, service.ErrGroupInactive),
		errors.Is(err, service.ErrInvalidQuotaAmount):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (h *AdminHandler) fail(c *gin.Context, action string, err error) {
	status, msg := adminStatus(err)
	if status == http.StatusInternalServerError {
		log.WithFields(log.Fields{
			"action": action,
			"admin":  middleware.GetAdminSubject(c),
		}).Errorf("admin: %v", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func listLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func (h *AdminHandler) IssueQuota(c *gin.Context) {
	var req model.IssueQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request",
			"details": err.Error(),
		})
		return
	}

	quota, err := h.admin.IssueQuota(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, "issue_quota", err)
		return
	}

	resp := quota.ToResponse()
	resp.APIKey = quota.APIKey
	c.JSON(http.StatusCreated, resp)
}

func (h *AdminHandler) GetQuota(c *gin.Context) {
	quota, err := h.admin.GetQuota(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get_quota", err)
		return
	}
	c.JSON(http.StatusOK, quota.ToResponse())
}

func (h *AdminHandler) DeleteQuota(c *gin.Context) {
	if err := h.admin.SoftDelete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "soft_delete", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "quota deleted"})
}

func (h *AdminHandler) RestoreQuota(c *gin.Context) {
	if err := h.admin.Restore(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "restore", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "quota restored"})
}

func (h *AdminHandler) ResetQuota(c *gin.Context) {
	if err := h.admin.ResetUsage(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "reset", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "usage reset"})
}

func (h *AdminHandler) RegenerateKey(c *gin.Context) {
	key, err := h.admin.RegenerateKey(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "regenerate_key", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"apiKey": key})
}

func (h *AdminHandler) ListUsageRecords(c *gin.Context) {
	records, err := h.admin.ListUsageRecords(c.Request.Context(), c.Param("id"), listLimit(c))
	if err != nil {
		h.fail(c, "list_usage_records", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *AdminHandler) ListQuotaLogs(c *gin.Context) {
	logs, err := h.admin.ListQuotaLogs(c.Request.Context(), c.Param("id"), listLimit(c))
	if err != nil {
		h.fail(c, "list_quota_logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (h *AdminHandler) ListAlerts(c *gin.Context) {
	unresolved := c.Query("unresolved") == "true"
	alerts, err := h.admin.ListAlerts(c.Request.Context(), unresolved, listLimit(c))
	if err != nil {
		h.fail(c, "list_alerts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (h *AdminHandler) ResolveAlert(c *gin.Context) {
	if err := h.admin.ResolveAlert(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "resolve_alert", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "alert resolved"})
}

// SyncProvider 上游失败时返回 502 与同步统计
func (h *AdminHandler) SyncProvider(c *gin.Context) {
	result, err := h.catalog.SyncProvider(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrProviderNotFound) {
			h.fail(c, "sync_provider", err)
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "catalog sync failed", "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) SyncAll(c *gin.Context) {
	results, err := h.catalog.SyncAll(c.Request.Context())
	if results == nil {
		results = []*service.SyncResult{}
	}
	resp := gin.H{"results": results}
	if err != nil {
		resp["error"] = upstream.SanitizeError(err)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) TestProvider(c *gin.Context) {
	result, err := h.catalog.TestConnection(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "test_provider", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
