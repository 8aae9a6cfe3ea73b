package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/weatherid/internal/gateway"
	"github.com/hitoshi/weatherid/internal/middleware"
	"github.com/hitoshi/weatherid/internal/model"
)

// maxGatewayBodyBytes はゲートウェイが受け付けるリクエストボディの上限。
const maxGatewayBodyBytes = 64 << 10

// GatewayDispatcher はゲートウェイのリクエスト処理インターフェース。
type GatewayDispatcher interface {
	Handle(ctx context.Context, req gateway.Request) gateway.Response
}

// GatewayHandler はnet/httpのリクエストをgateway.Requestに変換してゲートウェイに渡す。
type GatewayHandler struct {
	gateway GatewayDispatcher
}

// NewGatewayHandler はGatewayHandlerを生成する。
func NewGatewayHandler(gw GatewayDispatcher) *GatewayHandler {
	return &GatewayHandler{gateway: gw}
}

// ServeHTTP はすべてのメソッドを受け付け、ゲートウェイのレスポンスをそのまま書き込む。
// ANY /auth, ANY /
func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := toGatewayRequest(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewInvalidInputError("request body too large"))
			return
		}
		slog.WarnContext(r.Context(), "failed to read request body", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("failed to read request body"))
		return
	}

	resp := h.gateway.Handle(r.Context(), req)

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		io.WriteString(w, resp.Body)
	}
}

// toGatewayRequest はヘッダーとクエリパラメータを単一値のマップに畳み込む。
// 同名が複数ある場合は先頭の値を採用する。
func toGatewayRequest(w http.ResponseWriter, r *http.Request) (gateway.Request, error) {
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxGatewayBodyBytes))
		if err != nil {
			return gateway.Request{}, err
		}
		body = b
	}

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	return gateway.Request{
		HTTPMethod:            strings.ToUpper(r.Method),
		Headers:               headers,
		Body:                  string(body),
		QueryStringParameters: query,
	}, nil
}
