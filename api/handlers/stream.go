package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/constraintflow/api"
	"github.com/BaSui01/constraintflow/engine"
	"github.com/BaSui01/constraintflow/types"
)

// =============================================================================
// 📡 WebSocket 流式生成
// =============================================================================

// 等待客户端发送请求帧的时长
const streamRequestTimeout = 10 * time.Second

// StreamHandler 处理 /generate/stream
type StreamHandler struct {
	service        GenerationService
	originPatterns []string
	logger         *zap.Logger
}

// NewStreamHandler 创建流式处理器。originPatterns 为空时只接受同源连接。
func NewStreamHandler(service GenerationService, originPatterns []string, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		service:        service,
		originPatterns: originPatterns,
		logger:         logger.With(zap.String("handler", "stream")),
	}
}

// HandleStream 升级为 WebSocket，读取一个 GenerationRequest，
// 依次发送 token 帧，最后发送 done 或 error 帧。
// @Summary 流式约束生成
// @Tags 生成
// @Router /generate/stream [get]
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		// Accept 已写出 HTTP 错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	fw := &frameWriter{conn: conn}

	var req api.GenerationRequest
	if err := h.readRequest(ctx, conn, &req); err != nil {
		_ = fw.write(ctx, api.StreamFrame{Type: api.FrameError, Error: h.errorPayload(r, err)})
		_ = conn.Close(websocket.StatusPolicyViolation, "invalid request")
		return
	}

	// 写失败说明客户端已离开：取消生成，引擎在下一个 token 边界停止
	observer := func(tok engine.Token) {
		if err := fw.write(ctx, api.StreamFrame{Type: api.FrameToken, Index: tok.Index, Text: tok.Text}); err != nil {
			cancel()
		}
	}

	resp, err := h.service.GenerateStream(ctx, &req, observer)
	if err != nil {
		e := types.ToError(err)
		h.logger.Info("stream generation failed", zap.String("error_type", e.ErrorType()), zap.Error(e))
		_ = fw.write(ctx, api.StreamFrame{Type: api.FrameError, Error: h.errorPayload(r, e)})
		_ = conn.Close(websocket.StatusNormalClosure, "failed")
		return
	}
	if err := fw.write(ctx, api.StreamFrame{Type: api.FrameDone, Response: resp}); err != nil {
		h.logger.Debug("failed to write done frame", zap.Error(err))
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func (h *StreamHandler) readRequest(ctx context.Context, conn *websocket.Conn, req *api.GenerationRequest) *types.Error {
	readCtx, cancel := context.WithTimeout(ctx, streamRequestTimeout)
	defer cancel()

	typ, data, err := conn.Read(readCtx)
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, "no request frame received").WithCause(err)
	}
	if typ != websocket.MessageText {
		return types.NewError(types.ErrInvalidRequest, "request frame must be text")
	}
	if err := json.Unmarshal(data, req); err != nil {
		if te, ok := types.AsError(err); ok {
			return te
		}
		return types.NewError(types.ErrInvalidRequest, "invalid JSON request frame").WithCause(err)
	}
	return nil
}

func (h *StreamHandler) errorPayload(r *http.Request, err *types.Error) *api.ErrorResponse {
	_, resp := errorResponse(r, err)
	return &resp
}

// frameWriter 串行化写帧：observer 在 worker goroutine 上调用，
// 生成因 ctx 结束提前返回时可能与最终帧并发。
type frameWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (f *frameWriter) write(ctx context.Context, frame api.StreamFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}
