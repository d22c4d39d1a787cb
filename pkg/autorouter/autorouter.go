// Package autorouter registers every exported func(http.ResponseWriter, *http.Request)
// method of a handler struct under <Prefix><MethodPrefix><MethodName>.
package autorouter

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/danghamo/docidentity/pkg/logger"
)

// Middleware represents middleware function signature
type Middleware func(http.Handler) http.Handler

// RegistrationOptions configures how handlers are registered
type RegistrationOptions struct {
	Prefix       string       // URL prefix (e.g., "/api/v1/")
	MethodPrefix string       // Method prefix (e.g., "user." -> "user.Create")
	Middleware   []Middleware // Middleware chain to apply
	Logger       *logger.Logger
}

// HandlerInfo describes one registered route
type HandlerInfo struct {
	URLPath    string
	MethodName string
	HasAuth    bool
}

// AutoRouter handles automatic registration of HTTP handlers using reflection
type AutoRouter struct {
	mux     *http.ServeMux
	options RegistrationOptions
}

var (
	errorType          = reflect.TypeOf((*error)(nil)).Elem()
	responseWriterType = reflect.TypeOf((*http.ResponseWriter)(nil)).Elem()
	requestType        = reflect.TypeOf((*http.Request)(nil))
)

// NewAutoRouter creates a new auto router
func NewAutoRouter(mux *http.ServeMux, options RegistrationOptions) *AutoRouter {
	if options.Logger == nil {
		options.Logger = logger.NewNop()
	}
	options.Logger = options.Logger.WithComponent("autorouter")
	return &AutoRouter{
		mux:     mux,
		options: options,
	}
}

// RegisterHandlers registers all methods of handler that match the handler signature.
// Methods starting with "Handle" are skipped.
func (ar *AutoRouter) RegisterHandlers(handler any) ([]HandlerInfo, error) {
	methods, err := ar.handlerMethods(handler)
	if err != nil {
		return nil, err
	}

	infos := make([]HandlerInfo, 0, len(methods))
	for _, name := range methods {
		method := reflect.ValueOf(handler).MethodByName(name)
		urlPath := ar.buildURLPath(name)

		ar.mux.Handle(urlPath, ar.applyMiddleware(ar.createHandlerFunc(method)))

		ar.options.Logger.Debug("Auto-registered",
			zap.String("path", urlPath),
			zap.String("method", name),
			zap.Int("middleware", len(ar.options.Middleware)))

		infos = append(infos, HandlerInfo{
			URLPath:    urlPath,
			MethodName: name,
			HasAuth:    len(ar.options.Middleware) > 0,
		})
	}

	return infos, nil
}

// RegisterHandlersWithAuth registers handlers behind authMiddleware, which runs
// before the configured middleware.
func (ar *AutoRouter) RegisterHandlersWithAuth(handler any, authMiddleware Middleware) ([]HandlerInfo, error) {
	optionsWithAuth := ar.options
	optionsWithAuth.Middleware = append([]Middleware{authMiddleware}, ar.options.Middleware...)

	tempRouter := &AutoRouter{
		mux:     ar.mux,
		options: optionsWithAuth,
	}

	return tempRouter.RegisterHandlers(handler)
}

// GetRegisteredHandlers returns the routes RegisterHandlers would create,
// without registering them.
func (ar *AutoRouter) GetRegisteredHandlers(handler any) []HandlerInfo {
	methods, err := ar.handlerMethods(handler)
	if err != nil {
		return nil
	}

	infos := make([]HandlerInfo, 0, len(methods))
	for _, name := range methods {
		infos = append(infos, HandlerInfo{
			URLPath:    ar.buildURLPath(name),
			MethodName: name,
			HasAuth:    len(ar.options.Middleware) > 0,
		})
	}
	return infos
}

// handlerMethods lists the eligible method names in reflection order (sorted by name).
func (ar *AutoRouter) handlerMethods(handler any) ([]string, error) {
	if handler == nil {
		return nil, errors.New("handler must not be nil")
	}

	handlerType := reflect.TypeOf(handler)
	handlerValue := reflect.ValueOf(handler)

	structType := handlerType
	if structType.Kind() == reflect.Ptr {
		structType = structType.Elem()
	}
	if structType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("handler must be a struct or pointer to struct, got %s", handlerType)
	}

	var names []string
	for i := 0; i < handlerValue.NumMethod(); i++ {
		name := handlerType.Method(i).Name

		if strings.HasPrefix(name, "Handle") {
			continue
		}
		if !isValidHandlerFunc(handlerValue.Method(i).Type()) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// isValidHandlerFunc checks for func(http.ResponseWriter, *http.Request) with
// no result or a single error result.
func isValidHandlerFunc(methodType reflect.Type) bool {
	if methodType.Kind() != reflect.Func || methodType.NumIn() != 2 {
		return false
	}

	switch methodType.NumOut() {
	case 0:
	case 1:
		if !methodType.Out(0).Implements(errorType) {
			return false
		}
	default:
		return false
	}

	return methodType.In(0).Implements(responseWriterType) && methodType.In(1) == requestType
}

// buildURLPath constructs the URL path from method name
func (ar *AutoRouter) buildURLPath(methodName string) string {
	if ar.options.MethodPrefix != "" {
		return ar.options.Prefix + ar.options.MethodPrefix + methodName
	}
	return ar.options.Prefix + strings.ToLower(methodName)
}

// createHandlerFunc creates an http.HandlerFunc from a reflect.Value
func (ar *AutoRouter) createHandlerFunc(method reflect.Value) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := method.Call([]reflect.Value{
			reflect.ValueOf(w),
			reflect.ValueOf(r),
		})

		if len(results) > 0 && !results[0].IsNil() {
			err := results[0].Interface().(error)
			ar.options.Logger.Error("Handler returned error", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// applyMiddleware wraps handler so the first middleware runs first
func (ar *AutoRouter) applyMiddleware(handler http.Handler) http.Handler {
	for i := len(ar.options.Middleware) - 1; i >= 0; i-- {
		handler = ar.options.Middleware[i](handler)
	}
	return handler
}
