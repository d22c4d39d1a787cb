// Package handlers exposes the identity stores as JSON-RPC methods. Every
// method is a POST to /api/v1/<group>.<Method>.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/api/jsonrpcx"
	"github.com/danghamo/docidentity/internal/docstore"
	"github.com/danghamo/docidentity/internal/domain/shared"
	"github.com/danghamo/docidentity/pkg/logger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// parse reads a JSON-RPC POST and decodes and validates its params into T.
// On failure the error is already recorded on r.
func parse[T any](r *http.Request) (*jsonrpcx.JSONRPCRequest, *T, bool) {
	if r.Method != http.MethodPost {
		jsonrpcx.WithError(r, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return nil, nil, false
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.WithError(r, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return nil, nil, false
	}

	var params T
	if len(req.Params) > 0 && string(req.Params) != "null" {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			jsonrpcx.WithError(r, req.ID, jsonrpcx.InvalidParams, "Invalid params")
			return nil, nil, false
		}
	}

	if err := validate.Struct(params); err != nil {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.InvalidParams, validationMessage(err))
		return nil, nil, false
	}

	return req, &params, true
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return "Invalid params"
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return "Invalid params: " + strings.Join(msgs, ", ")
}

// fail maps a store error onto a JSON-RPC error code.
func fail(r *http.Request, id any, log *logger.Logger, err error) {
	switch {
	case docstore.IsNotFound(err):
		jsonrpcx.WithError(r, id, jsonrpcx.NotFound, "Not found")
	case docstore.IsConflict(err):
		jsonrpcx.WithError(r, id, jsonrpcx.Conflict, "Already exists")
	default:
		switch shared.Code(err) {
		case "NOT_FOUND":
			jsonrpcx.WithError(r, id, jsonrpcx.NotFound, err.Error())
		case "ALREADY_EXISTS":
			jsonrpcx.WithError(r, id, jsonrpcx.Conflict, err.Error())
		case "INVALID_INPUT", "MISSING_ID", "WRONG_KIND":
			jsonrpcx.WithError(r, id, jsonrpcx.InvalidParams, err.Error())
		default:
			log.Error("Store operation failed", zap.String("path", r.URL.Path), zap.Error(err))
			jsonrpcx.WithError(r, id, jsonrpcx.InternalError, "Internal server error")
		}
	}
}
