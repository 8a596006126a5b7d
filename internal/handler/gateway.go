package handler

import (
	"errors"
	"io"
	"net/http"

	"aigateway/internal/apierr"
	"aigateway/internal/middleware"
	"aigateway/internal/service"

	"github.com/gin-gonic/gin"
)

// GatewayHandler 调用方接口 /v1/*
type GatewayHandler struct {
	gateway     *service.GatewayService
	usage       *service.UsageService
	maxBodySize int64
}

func NewGatewayHandler(gateway *service.GatewayService, usage *service.UsageService, maxBodySize int64) *GatewayHandler {
	if maxBodySize <= 0 {
		maxBodySize = 10 << 20
	}
	return &GatewayHandler{gateway: gateway, usage: usage, maxBodySize: maxBodySize}
}

func (h *GatewayHandler) ChatCompletions(c *gin.Context) {
	quota := middleware.GetQuota(c)
	if quota == nil {
		apierr.Abort(c, service.ErrUnauthenticated)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierr.AbortWithKind(c, service.KindInvalidRequest, "request body too large")
			return
		}
		apierr.AbortWithKind(c, service.KindInvalidRequest, "failed to read request body")
		return
	}

	result, err := h.gateway.ChatCompletion(c.Request.Context(), quota, service.GatewayRequest{
		Body:      body,
		Method:    c.Request.Method,
		Endpoint:  c.Request.URL.Path,
		IPAddress: middleware.ClientIP(c),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		apierr.Abort(c, err)
		return
	}

	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	c.Header("X-Request-Id", result.RequestID)
	c.Header("X-Quota-Remaining", result.Remaining)
	c.Data(result.StatusCode, contentType, result.Body)
}

type openAIModel struct {
	ID         string `json:"id"`
	Object     string `json:"object"`
	Created    int64  `json:"created"`
	OwnedBy    string `json:"owned_by"`
	Permission []any  `json:"permission"`
}

// ListModels 按 OpenAI 列表格式返回当前密钥可用的模型
func (h *GatewayHandler) ListModels(c *gin.Context) {
	quota := middleware.GetQuota(c)
	if quota == nil {
		apierr.Abort(c, service.ErrUnauthenticated)
		return
	}

	variants, err := h.gateway.Catalog().ListEntitled(c.Request.Context(), quota.ModelGroupID)
	if err != nil {
		apierr.Abort(c, err)
		return
	}

	data := make([]openAIModel, 0, len(variants))
	for _, v := range variants {
		data = append(data, openAIModel{
			ID:         v.Name,
			Object:     "model",
			Created:    v.CreatedAt.Unix(),
			OwnedBy:    v.ProviderName,
			Permission: []any{},
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

func (h *GatewayHandler) Usage(c *gin.Context) {
	quota := middleware.GetQuota(c)
	if quota == nil {
		apierr.Abort(c, service.ErrUnauthenticated)
		return
	}

	snap, err := h.usage.Snapshot(c.Request.Context(), quota)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
