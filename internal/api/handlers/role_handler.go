package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/api/jsonrpcx"
	"github.com/danghamo/docidentity/internal/domain/identity"
	"github.com/danghamo/docidentity/internal/domain/shared"
	"github.com/danghamo/docidentity/pkg/logger"
)

// RoleStore is the role persistence the handlers drive.
type RoleStore interface {
	Create(ctx context.Context, role *identity.Role) error
	Update(ctx context.Context, role *identity.Role) error
	Delete(ctx context.Context, role *identity.Role) error
	FindByID(ctx context.Context, id string) (*identity.Role, error)
	FindByName(ctx context.Context, normalizedName string) (*identity.Role, error)
	Roles(ctx context.Context) ([]*identity.Role, error)
}

// RoleHandler handles role.* JSON-RPC methods
type RoleHandler struct {
	logger     *logger.Logger
	roles      RoleStore
	normalizer identity.Normalizer
}

// NewRoleHandler creates a new role handler
func NewRoleHandler(logger *logger.Logger, roles RoleStore) *RoleHandler {
	return &RoleHandler{
		logger:     logger.WithComponent("role-handler"),
		roles:      roles,
		normalizer: identity.UpperInvariantNormalizer{},
	}
}

type CreateRoleRequest struct {
	Name string `json:"name" validate:"required,max=256"`
}

type RoleIDRequest struct {
	ID string `json:"id" validate:"required"`
}

type FindRoleByNameRequest struct {
	Name string `json:"name" validate:"required"`
}

type UpdateRoleRequest struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required,max=256"`
}

type RoleClaimRequest struct {
	ID    string `json:"id" validate:"required"`
	Type  string `json:"type" validate:"required"`
	Value string `json:"value"`
}

type ListRolesResponse struct {
	Roles []*identity.Role `json:"roles"`
	Total int              `json:"total"`
}

// Create handles POST /api/v1/role.Create
// @Summary Create a role
// @Tags role
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[CreateRoleRequest] true "JSON-RPC request"
// @Success 200 {object} jsonrpcx.ResponseT[identity.Role] "Created role"
// @Failure 400 {object} jsonrpcx.ErrorResponse "Invalid params or name already taken"
// @Security BearerAuth
// @Router /api/v1/role.Create [post]
func (h *RoleHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, params, ok := parse[CreateRoleRequest](r)
	if !ok {
		return
	}

	role := identity.NewRole(params.Name)
	role.Normalize(h.normalizer)

	if err := h.checkAvailable(r.Context(), role); err != nil {
		fail(r, req.ID, h.logger, err)
		return
	}
	if err := h.roles.Create(r.Context(), role); err != nil {
		fail(r, req.ID, h.logger, err)
		return
	}

	h.logger.Info("Role created", zap.String("role_id", role.ID), zap.String("name", role.NormalizedName))
	jsonrpcx.Success(w, req.ID, role)
}

// Get handles POST /api/v1/role.Get
func (h *RoleHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, params, ok := parse[RoleIDRequest](r)
	if !ok {
		return
	}

	role, err := h.load(r.Context(), params.ID)
	if err != nil {
		fail(r, req.ID, h.logger, err)
		return
	}
	jsonrpcx.Success(w, req.ID, role)
}

// FindByName handles POST /api/v1/role.FindByName
func (h *RoleHandler) FindByName(w http.ResponseWriter, r *http.Request) {
	req, params, ok := parse[FindRoleByNameRequest](r)
	if !ok {
		return
	}

	role, err := h.roles.FindByName(r.Context(), h.normalizer.Normalize(params.Name))
	if err != nil {
		fail(r, req.ID, h.logger, err)
		return
	}
	if role == nil {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.NotFound, "Role not found")
		return
	}
	jsonrpcx.Success(w, req.ID, role)
}

// Update handles POST /api/v1/role.Update. Renaming moves the name lookup;
// users keep the old normalized name in their role list.
func (h *RoleHandler) Update(w http.ResponseWriter, r *http.Request) {
	req, params, ok := parse[UpdateRoleRequest](r)
	if !ok {
		return
	}

	role, err := h.mutate(r.Context(), params.ID, func(role *identity.Role) {
		role.Name = params.Name
	})
	if err != nil {
		fail(r, req.ID, h.logger, err)
		return
	}
	jsonrpcx.Success(w, req.ID, role)
}

// Delete handles POST /api/v1/role.Delete
func (h *RoleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	req, params, ok := parse[RoleIDRequest](r)
	if !ok {
		return
	}

	role, err := h.load(r.Context(), params.ID)
	if err == nil {
		err = h.roles.Delete(r.Context(), role)
	}
	if err != nil {
		fail(r, req.ID, h.logger, err)
		return
	}

	h.logger.Info("Role deleted", zap.String("role_id", role.ID))
	jsonrpcx.Success(w, req.ID, map[string]string{"id": role.ID})
}

// List handles POST /api/v1/role.List
func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	req, _, ok := parse[struct{}](r)
	if !ok {
		return
	}

	roles, err := h.roles.Roles(r.Context())
	if err != nil {
		fail(r, req.ID, h.logger, err)
		return
	}
	jsonrpcx.Success(w, req.ID, ListRolesResponse{Roles: roles, Total: len(roles)})
}

// AddClaim handles POST /api/v1/role.AddClaim
func (h *RoleHandler) AddClaim(w http.ResponseWriter, r *http.Request) {
	req, params, ok := parse[RoleClaimRequest](r)
	if !ok {
		return
	}

	role, err := h.mutate(r.Context(), params.ID, func(role *identity.Role) {
		role.AddClaim(identity.Claim{Type: params.Type, Value: params.Value})
	})
	if err != nil {
		fail(r, req.ID, h.logger, err)
		return
	}
	jsonrpcx.Success(w, req.ID, role)
}

// RemoveClaim handles POST /api/v1/role.RemoveClaim
func (h *RoleHandler) RemoveClaim(w http.ResponseWriter, r *http.Request) {
	req, params, ok := parse[RoleClaimRequest](r)
	if !ok {
		return
	}

	role, err := h.mutate(r.Context(), params.ID, func(role *identity.Role) {
		role.RemoveClaim(identity.Claim{Type: params.Type, Value: params.Value})
	})
	if err != nil {
		fail(r, req.ID, h.logger, err)
		return
	}
	jsonrpcx.Success(w, req.ID, role)
}

// checkAvailable fails with ALREADY_EXISTS when the role's normalized name
// resolves to a different role.
func (h *RoleHandler) checkAvailable(ctx context.Context, role *identity.Role) error {
	existing, err := h.roles.FindByName(ctx, role.NormalizedName)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != role.ID {
		return shared.ErrAlreadyExists("role " + role.Name)
	}
	return nil
}

func (h *RoleHandler) load(ctx context.Context, id string) (*identity.Role, error) {
	role, err := h.roles.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, shared.ErrNotFound("role " + id)
	}
	return role, nil
}

func (h *RoleHandler) mutate(ctx context.Context, id string, fn func(*identity.Role)) (*identity.Role, error) {
	role, err := h.load(ctx, id)
	if err != nil {
		return nil, err
	}
	prevName := role.NormalizedName
	fn(role)
	role.Normalize(h.normalizer)
	if role.NormalizedName != prevName {
		if err := h.checkAvailable(ctx, role); err != nil {
			return nil, err
		}
	}
	if err := h.roles.Update(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}
