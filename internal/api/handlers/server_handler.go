package handlers

import (
	"net/http"

	"github.com/danghamo/docidentity/internal/api/jsonrpcx"
)

// ServerInfo describes the running service.
type ServerInfo struct {
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	Backend       string `json:"backend"`
	Collection    string `json:"collection"`
	Partitioned   bool   `json:"partitioned"`
	EventsEnabled bool   `json:"eventsEnabled"`
}

// ServerHandler handles server information requests
type ServerHandler struct {
	info ServerInfo
}

// NewServerHandler creates a new server handler
func NewServerHandler(info ServerInfo) *ServerHandler {
	return &ServerHandler{info: info}
}

// Info handles POST /api/v1/server.Info
// @Summary Server information
// @Tags server
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[any] true "JSON-RPC request"
// @Success 200 {object} jsonrpcx.ResponseT[ServerInfo] "Server information"
// @Router /api/v1/server.Info [post]
func (h *ServerHandler) Info(w http.ResponseWriter, r *http.Request) {
	req, _, ok := parse[struct{}](r)
	if !ok {
		return
	}

	jsonrpcx.Success(w, req.ID, h.info)
}
