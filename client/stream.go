package client

import (
	"context"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/BaSui01/constraintflow/api"
)

// TokenHandler 接收每个 token 帧
type TokenHandler func(frame api.StreamFrame)

// Stream 通过 WebSocket 流式生成。流式调用不重试：已发出的 token 无法撤回。
func (c *Client) Stream(ctx context.Context, req *api.GenerationRequest, onToken TokenHandler) (*api.GenerationResponse, error) {
	if req == nil {
		return nil, &Error{Kind: KindPermanent, ErrorType: "invalid_request", Message: "request is nil"}
	}
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("X-API-Key", c.cfg.APIKey)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL(c.cfg.BaseURL)+"/generate/stream", &websocket.DialOptions{
		HTTPClient: c.http,
		HTTPHeader: header,
	})
	if err != nil {
		e := &Error{Kind: KindTransient, Message: "websocket dial", Err: err, Attempts: 1}
		if resp != nil {
			e.StatusCode = resp.StatusCode
			if !transientStatus(resp.StatusCode) {
				e.Kind = KindPermanent
			}
		}
		return nil, e
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, req); err != nil {
		return nil, &Error{Kind: KindTransient, Message: "send request", Err: err, Attempts: 1}
	}

	for {
		var frame api.StreamFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if ctx.Err() != nil {
				return nil, &Error{Kind: KindTimeout, Message: "stream cancelled", Err: ctx.Err(), Attempts: 1}
			}
			return nil, &Error{Kind: KindTransient, Message: "read frame", Err: err, Attempts: 1}
		}

		switch frame.Type {
		case api.FrameToken:
			if onToken != nil {
				onToken(frame)
			}
		case api.FrameDone:
			_ = conn.Close(websocket.StatusNormalClosure, "done")
			if frame.Response == nil {
				return nil, &Error{Kind: KindPermanent, Message: "done frame without response", Attempts: 1}
			}
			return frame.Response, nil
		case api.FrameError:
			e := &Error{Kind: KindPermanent, Message: "stream failed", Attempts: 1}
			if frame.Error != nil {
				e.ErrorType = frame.Error.ErrorType
				e.Message = frame.Error.Error
				e.PartialText = frame.Error.PartialText
				e.Kind = kindForErrorType(frame.Error.ErrorType)
			}
			return nil, e
		}
	}
}

func kindForErrorType(errorType string) ErrorKind {
	switch errorType {
	case "timeout":
		return KindTimeout
	case "model_unavailable", "rate_limited", "internal_error":
		return KindTransient
	default:
		return KindPermanent
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
