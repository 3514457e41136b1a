// internal/api/handlers.go
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Windrune/NovelForge/internal/config"
	"github.com/Windrune/NovelForge/internal/services"
)

// Handler 聚合所有HTTP处理器的依赖
type Handler struct {
	Sessions *services.SessionService
	Game     *services.GameService
	Events   *services.EventService
	LLM      *services.LLMService

	resp   *ResponseHelper
	logger *zap.Logger
}

// NewHandler 创建处理器
func NewHandler(
	sessions *services.SessionService,
	game *services.GameService,
	events *services.EventService,
	llm *services.LLMService,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Sessions: sessions,
		Game:     game,
		Events:   events,
		LLM:      llm,
		resp:     NewResponseHelper(),
		logger:   logger,
	}
}

// CreateSession 创建游戏会话
// POST /api/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	var req services.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.resp.BadRequest(c, "请求体格式错误", err.Error())
		return
	}

	session, err := h.Sessions.CreateSession(req)
	if err != nil {
		h.resp.FromError(c, err)
		return
	}
	h.resp.Created(c, session, "会话创建成功")
}

// GetSession 加载会话完整状态
// GET /api/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.Sessions.GetSession(c.Param("id"))
	if err != nil {
		h.resp.FromError(c, err)
		return
	}
	h.resp.Success(c, session)
}

// GetSessionSummary 会话概要
// GET /api/sessions/:id/summary
func (h *Handler) GetSessionSummary(c *gin.Context) {
	summary, err := h.Sessions.GetSummary(c.Param("id"))
	if err != nil {
		h.resp.FromError(c, err)
		return
	}
	h.resp.Success(c, summary)
}

// ProcessAction 非流式处理玩家动作
// POST /api/sessions/:id/action
func (h *Handler) ProcessAction(c *gin.Context) {
	var req struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.resp.BadRequest(c, "请求体格式错误", err.Error())
		return
	}

	result, err := h.Game.ProcessAction(c.Request.Context(), c.Param("id"), req.Action)
	if err != nil {
		h.resp.FromError(c, err)
		return
	}
	h.resp.Success(c, result)
}

// EditHistory 改写历史条目并截断其后内容
// PUT /api/sessions/:id/history/:idx
func (h *Handler) EditHistory(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		h.resp.Error(c, http.StatusBadRequest, ErrorOutOfRange, "历史下标必须是整数")
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.resp.BadRequest(c, "请求体格式错误", err.Error())
		return
	}

	result, err := h.Sessions.EditMessage(c.Param("id"), index, req.Content)
	if err != nil {
		h.resp.FromError(c, err)
		return
	}
	h.resp.Success(c, result, "历史已改写")
}

// Regenerate 裁剪并重放目标用户消息
// POST /api/sessions/:id/regenerate
func (h *Handler) Regenerate(c *gin.Context) {
	var req struct {
		TargetIndex *int `json:"target_index"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		h.resp.BadRequest(c, "请求体格式错误", err.Error())
		return
	}

	prep, action, err := h.Game.Regenerate(c.Request.Context(), c.Param("id"), req.TargetIndex)
	if err != nil {
		h.resp.FromError(c, err)
		return
	}
	h.resp.Success(c, gin.H{
		"regenerated_from":   prep.RegeneratedFrom,
		"truncated_messages": prep.TruncatedCount,
		"result":             action,
	})
}

// GenerateEvent 为当前关键事件生成一个活跃事件
// POST /api/sessions/:id/events
func (h *Handler) GenerateEvent(c *gin.Context) {
	event, err := h.Events.GenerateEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.resp.FromError(c, err)
		return
	}
	h.resp.Created(c, event, "事件已生成")
}

// TerminateEvent 玩家选择选项后终结事件
// POST /api/sessions/:id/events/:eid/terminate
func (h *Handler) TerminateEvent(c *gin.Context) {
	var req struct {
		SelectedOption string `json:"selected_option"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		h.resp.BadRequest(c, "请求体格式错误", err.Error())
		return
	}

	result, err := h.Events.TerminateEvent(
		c.Request.Context(), c.Param("id"), c.Param("eid"), req.SelectedOption)
	if err != nil {
		h.resp.FromError(c, err)
		return
	}
	h.resp.Success(c, result, "事件已终结")
}

// StartNewRound 开启新回合
// POST /api/sessions/:id/rounds
func (h *Handler) StartNewRound(c *gin.Context) {
	session, err := h.Events.StartNewRound(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.resp.FromError(c, err)
		return
	}
	h.resp.Success(c, gin.H{
		"current_round":   session.CurrentRound,
		"key_event_index": session.CurrentKeyEventIndex,
		"active_events":   session.ActiveEvents,
	}, "新回合已开始")
}

// GetEvents 查询活跃事件与事件历史
// GET /api/sessions/:id/events
func (h *Handler) GetEvents(c *gin.Context) {
	active, history, err := h.Events.GetEvents(c.Param("id"))
	if err != nil {
		h.resp.FromError(c, err)
		return
	}
	h.resp.Success(c, gin.H{
		"active_events": active,
		"event_history": history,
	})
}

// GetLLMStatus LLM服务状态
// GET /api/settings/llm
func (h *Handler) GetLLMStatus(c *gin.Context) {
	ready, state := h.LLM.GetProviderStatus()
	h.resp.Success(c, gin.H{
		"ready":    ready,
		"state":    state,
		"provider": h.LLM.GetProviderName(),
	})
}

// UpdateLLMSettings 热切换LLM提供商并持久化配置
// PUT /api/settings/llm
func (h *Handler) UpdateLLMSettings(c *gin.Context) {
	var req struct {
		Provider string            `json:"provider"`
		Config   map[string]string `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.resp.BadRequest(c, "请求体格式错误", err.Error())
		return
	}
	if req.Provider == "" {
		h.resp.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "provider不能为空")
		return
	}

	if err := h.LLM.UpdateProvider(req.Provider, req.Config); err != nil {
		h.resp.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "提供商配置失败", err.Error())
		return
	}
	if err := config.UpdateLLMConfig(req.Provider, req.Config); err != nil {
		h.logger.Warn("LLM配置持久化失败", zap.Error(err))
	}

	h.resp.Success(c, gin.H{"provider": req.Provider}, "LLM配置已更新")
}

// Health 健康检查
// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	ready, state := h.LLM.GetProviderStatus()
	h.resp.Success(c, gin.H{
		"status":    "ok",
		"llm_ready": ready,
		"llm_state": state,
	})
}
