package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/taskgate/internal/a2a"
	"github.com/mbd888/taskgate/internal/handler"
	"github.com/mbd888/taskgate/internal/paywall"
	"github.com/mbd888/taskgate/internal/pushnotify"
)

// JSON-RPC error codes. The -32000 range carries protocol-specific failures.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603

	codeTaskNotFound    = -32001
	codeUnauthorized    = -32010
	codePaymentRequired = -32011
	codeTaskConflict    = -32012
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type taskIDParams struct {
	ID string `json:"id"`
}

type pushConfigParams struct {
	TaskID string `json:"taskId"`
	Config struct {
		URL            string                     `json:"url"`
		Token          string                     `json:"token,omitempty"`
		Headers        map[string]string          `json:"headers,omitempty"`
		Authentication *pushnotify.Authentication `json:"authentication,omitempty"`
	} `json:"pushNotificationConfig"`
}

func (s *Server) rpcHandler(c *gin.Context) {
	var req rpcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeParseError, Message: "parse error"},
		})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.rpcError(c, req.ID, http.StatusBadRequest, codeInvalidRequest, "invalid request", nil)
		return
	}

	switch req.Method {
	case "message/send":
		s.handleMessageSend(c, req)
	case "message/stream":
		s.handleMessageStream(c, req)
	case "tasks/get":
		s.handleTasksGet(c, req)
	case "tasks/pushNotificationConfig/set":
		s.handlePushConfigSet(c, req)
	case "tasks/pushNotificationConfig/get":
		s.handlePushConfigGet(c, req)
	default:
		s.rpcError(c, req.ID, http.StatusNotFound, codeMethodNotFound,
			fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

func (s *Server) handleMessageSend(c *gin.Context, req rpcRequest) {
	var params a2a.SendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.rpcError(c, req.ID, http.StatusBadRequest, codeInvalidParams, "invalid params", nil)
		return
	}

	result, err := s.controller.OnMessageSend(c.Request.Context(), &params, paywall.FromGin(c))
	if err != nil {
		s.mapError(c, req.ID, err)
		return
	}
	c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) handleMessageStream(c *gin.Context, req rpcRequest) {
	var params a2a.SendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.rpcError(c, req.ID, http.StatusBadRequest, codeInvalidParams, "invalid params", nil)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		s.rpcError(c, req.ID, http.StatusInternalServerError, codeInternalError, "streaming unsupported", nil)
		return
	}

	started := false
	startStream := func() {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)
		started = true
	}

	err := s.controller.OnMessageSendStream(c.Request.Context(), &params, paywall.FromGin(c), func(ev a2a.Event) error {
		if !started {
			startStream()
		}
		payload, merr := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: ev})
		if merr != nil {
			return merr
		}
		if _, werr := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil && !started {
		s.mapError(c, req.ID, err)
		return
	}
	if err != nil {
		s.logger.Warn("stream ended with error", "error", err)
	}
}

func (s *Server) handleTasksGet(c *gin.Context, req rpcRequest) {
	var params taskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.rpcError(c, req.ID, http.StatusBadRequest, codeInvalidParams, "invalid params", nil)
		return
	}
	task, err := s.controller.OnGetTask(c.Request.Context(), params.ID)
	if err != nil {
		s.mapError(c, req.ID, err)
		return
	}
	c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: task})
}

func (s *Server) handlePushConfigSet(c *gin.Context, req rpcRequest) {
	var params pushConfigParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.rpcError(c, req.ID, http.StatusBadRequest, codeInvalidParams, "invalid params", nil)
		return
	}
	cfg := &pushnotify.Config{
		TaskID:         params.TaskID,
		URL:            params.Config.URL,
		Token:          params.Config.Token,
		Headers:        params.Config.Headers,
		Authentication: params.Config.Authentication,
	}
	if err := s.controller.OnSetPushConfig(c.Request.Context(), cfg); err != nil {
		s.mapError(c, req.ID, err)
		return
	}
	c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: cfg})
}

func (s *Server) handlePushConfigGet(c *gin.Context, req rpcRequest) {
	var params taskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.rpcError(c, req.ID, http.StatusBadRequest, codeInvalidParams, "invalid params", nil)
		return
	}
	cfg, err := s.controller.OnGetPushConfig(c.Request.Context(), params.ID)
	if err != nil {
		s.mapError(c, req.ID, err)
		return
	}
	c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: cfg})
}

// mapError translates controller and paywall failures into the HTTP status
// and JSON-RPC error the protocol mandates. Payment failures carry the x402
// descriptor in the error data.
func (s *Server) mapError(c *gin.Context, id any, err error) {
	var perr *paywall.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case paywall.KindUnauthorized:
			s.rpcError(c, id, http.StatusUnauthorized, codeUnauthorized, perr.Message, perr.PaymentRequired)
		case paywall.KindPaymentRequired:
			s.rpcError(c, id, http.StatusPaymentRequired, codePaymentRequired, perr.Message, perr.PaymentRequired)
		case paywall.KindBadRequest:
			s.rpcError(c, id, http.StatusBadRequest, codeInvalidParams, perr.Message, nil)
		default:
			s.rpcError(c, id, http.StatusInternalServerError, codeInternalError, perr.Message, nil)
		}
		return
	}

	switch {
	case errors.Is(err, handler.ErrInvalidParams):
		s.rpcError(c, id, http.StatusBadRequest, codeInvalidParams, "invalid params", nil)
	case errors.Is(err, handler.ErrTaskNotFound):
		s.rpcError(c, id, http.StatusNotFound, codeTaskNotFound, "task not found", nil)
	case errors.Is(err, handler.ErrTaskAlreadyRunning):
		s.rpcError(c, id, http.StatusConflict, codeTaskConflict, "task already running", nil)
	default:
		s.logger.Error("request failed", "error", err)
		s.rpcError(c, id, http.StatusInternalServerError, codeInternalError, "internal error", nil)
	}
}

func (s *Server) rpcError(c *gin.Context, id any, status, code int, message string, data any) {
	c.JSON(status, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message, Data: data},
	})
}
