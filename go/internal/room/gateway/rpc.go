package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsync/go/internal/room/events"
	"github.com/mcdev12/coopsync/go/internal/room/registry"
)

const (
	// RoomServiceName is the fully-qualified name of the room service.
	RoomServiceName = "coopsync.room.v1.RoomService"

	// RoomServiceSubmitProcedure is the fully-qualified name of the Submit RPC.
	RoomServiceSubmitProcedure = "/coopsync.room.v1.RoomService/Submit"
)

// SubmitRequest is a client submission. It has the same shape as the JSON
// body of POST /api/signal.
type SubmitRequest = events.Submission

type SubmitResponse struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Seq int64  `json:"seq"`
	Ts  int64  `json:"ts"`
}

// jsonCodec replaces connect's protobuf JSON codec so plain Go structs can be
// used as messages
type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// RoomServiceHandler implements the room RPC service
type RoomServiceHandler struct {
	registry *registry.Registry
}

func NewRoomServiceHandler(reg *registry.Registry) *RoomServiceHandler {
	return &RoomServiceHandler{registry: reg}
}

func (h *RoomServiceHandler) Submit(ctx context.Context, req *connect.Request[SubmitRequest]) (*connect.Response[SubmitResponse], error) {
	env, err := h.registry.Submit(ctx, *req.Msg)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&SubmitResponse{OK: true, ID: env.ID, Seq: env.Seq, Ts: env.ServerTimestamp}), nil
}

// Path returns the mount path and handler of the service
func (h *RoomServiceHandler) Path(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	submit := connect.NewUnaryHandler(RoomServiceSubmitProcedure, h.Submit, opts...)

	return "/" + RoomServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case RoomServiceSubmitProcedure:
			submit.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func connectError(err error) error {
	switch {
	case errors.Is(err, events.ErrMalformed):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, registry.ErrForbidden):
		return connect.NewError(connect.CodePermissionDenied, err)
	default:
		log.Error().Err(err).Msg("rpc submit failed")
		return connect.NewError(connect.CodeInternal, err)
	}
}

// RoomServiceClient is a client for the room RPC service
type RoomServiceClient struct {
	submit *connect.Client[SubmitRequest, SubmitResponse]
}

func NewRoomServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *RoomServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &RoomServiceClient{
		submit: connect.NewClient[SubmitRequest, SubmitResponse](httpClient, baseURL+RoomServiceSubmitProcedure, opts...),
	}
}

func (c *RoomServiceClient) Submit(ctx context.Context, req *connect.Request[SubmitRequest]) (*connect.Response[SubmitResponse], error) {
	return c.submit.CallUnary(ctx, req)
}
