package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/graph8-com/g8browser/internal/coordinator"
	"github.com/graph8-com/g8browser/internal/taskstore"
)

// APIResponse is the uniform JSON envelope for every endpoint.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateTaskRequest submits a task through the local API.
type CreateTaskRequest struct {
	Task              string   `json:"task" binding:"required"`
	ContextID         string   `json:"context_id"`
	URL               string   `json:"url"`
	CoordinatorTaskID string   `json:"coordinator_task_id"`
	ExpectedActions   []string `json:"expected_actions"`
}

// ReportActionRequest records one action observation against a task.
type ReportActionRequest struct {
	Action  string `json:"action" binding:"required"`
	URL     string `json:"url"`
	Details string `json:"details"`
}

// CompleteTaskRequest finalizes a task.
type CompleteTaskRequest struct {
	Success bool `json:"success"`
	Result  any  `json:"result"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if req.ContextID == "" {
		req.ContextID = "local"
	}

	taskID, err := s.facade.HandleTask(c.Request.Context(), coordinator.Request{
		Instruction:       req.Task,
		ContextID:         req.ContextID,
		URL:               req.URL,
		CoordinatorTaskID: req.CoordinatorTaskID,
		ExpectedActions:   req.ExpectedActions,
		Origin:            coordinator.OriginLocal,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, APIResponse{Success: false, Error: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, APIResponse{Success: true, Data: gin.H{"task_id": taskID}})
}

func (s *Server) handleListTasks(c *gin.Context) {
	opts := taskstore.SearchOptions{
		Status:    taskstore.Status(c.Query("status")),
		ContextID: c.Query("context_id"),
		SortBy:    taskstore.SortField(c.DefaultQuery("sort_by", string(taskstore.SortByCreatedAt))),
		Ascending: c.Query("order") == "asc",
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}

	records := s.store.Search(opts)
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: gin.H{
		"tasks": records,
		"count": len(records),
	}})
}

func (s *Server) handleGetTask(c *gin.Context) {
	record, err := s.store.Get(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: record})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.store.Delete(c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleClearTasks(c *gin.Context) {
	s.store.Clear()
	c.JSON(http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleTaskOutcome(c *gin.Context) {
	outcome, err := s.facade.Outcome(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: outcome})
}

func (s *Server) handleReportAction(c *gin.Context) {
	var req ReportActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	outcome, err := s.facade.ReportAction(c.Param("id"), req.Action, req.URL, req.Details)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: outcome})
}

func (s *Server) handleCompleteTask(c *gin.Context) {
	var req CompleteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	result, err := s.facade.Complete(c.Request.Context(), c.Param("id"), req.Result, req.Success)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: result})
}

func (s *Server) handleCancelTask(c *gin.Context) {
	if err := s.facade.Cancel(c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: s.configMgr.Get()})
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	// Bind over the current document so a partial body only touches the
	// fields it names.
	cfg := s.configMgr.Get()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	if err := s.configMgr.Set(cfg); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: s.configMgr.Get()})
}

func (s *Server) handleResetConfig(c *gin.Context) {
	if err := s.configMgr.Reset(); err != nil {
		c.JSON(http.StatusInternalServerError, APIResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: s.configMgr.Get()})
}

func (s *Server) handleWebhookTest(c *gin.Context) {
	resp := s.webhooks.Test(c.Request.Context())
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, APIResponse{Success: resp.Success, Data: resp, Error: resp.Error})
}

func (s *Server) handleStatus(c *gin.Context) {
	data := gin.H{
		"uptime": time.Since(s.startTime).String(),
		"tasks":  s.store.Stats(),
	}
	if s.client != nil {
		data["coordinator_connected"] = s.client.Connected()
		data["agent_id"] = s.client.AgentID()
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

func (s *Server) respondError(c *gin.Context, err error) {
	if errors.Is(err, taskstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, APIResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, APIResponse{Success: false, Error: err.Error()})
}
