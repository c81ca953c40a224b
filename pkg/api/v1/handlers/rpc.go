package handlers

import (
	"encoding/json"
	"fmt"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/virtfleet/virtfleet/internal/api/v1/middleware"
	"github.com/virtfleet/virtfleet/internal/constants"
	"github.com/virtfleet/virtfleet/internal/logger"
	"github.com/virtfleet/virtfleet/internal/types"
)

// RPCRequest defines the structure for RPC-style API requests. This is
// the surface instance agents and the submission director talk to.
type RPCRequest struct {
	// Method is the operation to perform (e.g. "instance.heartbeat")
	Method string `json:"method"`

	// Params contains the operation parameters
	Params json.RawMessage `json:"params"`

	// ID is an optional request identifier echoed back in the response
	ID string `json:"id,omitempty"`
}

// RPCResponse defines the structure for RPC-style API responses
type RPCResponse struct {
	// Data contains the operation result
	Data interface{} `json:"data,omitempty"`

	// Error contains error information if the operation failed
	Error *RPCError `json:"error,omitempty"`

	// ID echoes back the request ID if provided
	ID string `json:"id,omitempty"`

	// Success indicates if the operation was successful
	Success bool `json:"success"`
}

// RPCError defines the structure for RPC errors
type RPCError struct {
	// Kind is the machine-readable error kind
	Kind string `json:"kind"`

	// Message is a human-readable error message
	Message string `json:"message"`
}

// HandleRPC dispatches all RPC requests
func (h *APIHandler) HandleRPC(c *fiber.Ctx) error {
	var req RPCRequest
	if err := c.BodyParser(&req); err != nil {
		return rpcInvalid(c, req.ID, "Invalid request format")
	}
	if req.Method == "" {
		return rpcInvalid(c, req.ID, "Method is required")
	}

	if !IsInstanceMethod(req.Method) {
		return rpcInvalid(c, req.ID, fmt.Sprintf("Unknown method %q", req.Method))
	}
	return h.handleInstanceMethod(c, req)
}

// handleInstanceMethod routes instance methods to their handlers.
// Privileged methods require the instance-operation capability before any
// state is touched.
func (h *APIHandler) handleInstanceMethod(c *fiber.Ctx, req RPCRequest) error {
	switch req.Method {
	case InstanceRegister:
		return h.rpcRegister(c, req)
	case InstanceDeclareSubmitted:
		return h.rpcDeclareSubmitted(c, req)
	case InstanceDeclareRunning:
		return h.rpcPrivileged(c, req, h.rpcDeclareRunning)
	case InstanceHeartbeat:
		return h.rpcPrivileged(c, req, h.rpcHeartbeat)
	case InstanceDeclareHalting:
		return h.rpcPrivileged(c, req, h.rpcDeclareHalting)
	case InstanceSetHandle:
		return h.rpcSetHandle(c, req)
	case InstanceGetHandle:
		return h.rpcGetHandle(c, req)
	case InstanceGetHandleByName:
		return h.rpcGetHandleByName(c, req)
	default:
		return rpcInvalid(c, req.ID, fmt.Sprintf("Unknown instance method %q", req.Method))
	}
}

// rpcPrivileged wraps a handler with the instance-operation capability check
func (h *APIHandler) rpcPrivileged(c *fiber.Ctx, req RPCRequest, fn func(*fiber.Ctx, RPCRequest) error) error {
	if !middleware.HasCapability(c, constants.CapabilityInstanceOperation) {
		err := fmt.Errorf("%w: %s requires %s", types.ErrUnauthorized, req.Method, constants.CapabilityInstanceOperation)
		return rpcError(c, req.ID, err)
	}
	return fn(c, req)
}

func (h *APIHandler) rpcRegister(c *fiber.Ctx, req RPCRequest) error {
	var params types.RegisterRequest
	if err := decodeParams(req, &params); err != nil {
		return rpcInvalid(c, req.ID, err.Error())
	}
	if err := params.Validate(); err != nil {
		return rpcInvalid(c, req.ID, err.Error())
	}

	id, err := h.lifecycle.Register(c.Context(), params)
	if err != nil {
		return rpcError(c, req.ID, err)
	}
	return rpcOK(c, req.ID, types.RegisterResponse{InstanceID: id})
}

func (h *APIHandler) rpcDeclareSubmitted(c *fiber.Ctx, req RPCRequest) error {
	var params types.SubmittedRequest
	if err := decodeParams(req, &params); err != nil {
		return rpcInvalid(c, req.ID, err.Error())
	}

	if err := h.lifecycle.DeclareSubmitted(c.Context(), params.Handle); err != nil {
		return rpcError(c, req.ID, err)
	}
	return rpcOK(c, req.ID, nil)
}

func (h *APIHandler) rpcDeclareRunning(c *fiber.Ctx, req RPCRequest) error {
	var params types.RunningRequest
	if err := decodeParams(req, &params); err != nil {
		return rpcInvalid(c, req.ID, err.Error())
	}

	// The public address is what the transport saw, never what the
	// caller claims.
	publicIP := c.IP()
	logger.Infof("Declare instance running handle: %s publicIP: %s", params.Handle, publicIP)

	if err := h.lifecycle.DeclareRunning(c.Context(), params.Handle, publicIP, params.PrivateIP); err != nil {
		return rpcError(c, req.ID, err)
	}
	return rpcOK(c, req.ID, nil)
}

func (h *APIHandler) rpcHeartbeat(c *fiber.Ctx, req RPCRequest) error {
	var params types.HeartbeatRequest
	if err := decodeParams(req, &params); err != nil {
		return rpcInvalid(c, req.ID, err.Error())
	}

	resp, err := h.heartbeat.Record(c.Context(), params, c.IP())
	if err != nil {
		return rpcError(c, req.ID, err)
	}
	return rpcOK(c, req.ID, resp)
}

func (h *APIHandler) rpcDeclareHalting(c *fiber.Ctx, req RPCRequest) error {
	var params types.HaltingRequest
	if err := decodeParams(req, &params); err != nil {
		return rpcInvalid(c, req.ID, err.Error())
	}

	result, err := h.dispatcher.DeclareHalting(c.Context(), params.Handle, params.Load)
	if err != nil {
		return rpcError(c, req.ID, err)
	}
	return rpcOK(c, req.ID, result)
}

func (h *APIHandler) rpcSetHandle(c *fiber.Ctx, req RPCRequest) error {
	var params types.SetHandleRequest
	if err := decodeParams(req, &params); err != nil {
		return rpcInvalid(c, req.ID, err.Error())
	}
	if params.InstanceID == 0 || params.Handle == "" {
		return rpcInvalid(c, req.ID, "instance_id and handle are required")
	}

	if err := h.lifecycle.SetHandle(c.Context(), params.InstanceID, params.Handle); err != nil {
		return rpcError(c, req.ID, err)
	}
	return rpcOK(c, req.ID, nil)
}

func (h *APIHandler) rpcGetHandle(c *fiber.Ctx, req RPCRequest) error {
	var params struct {
		InstanceID uint `json:"instance_id"`
	}
	if err := decodeParams(req, &params); err != nil {
		return rpcInvalid(c, req.ID, err.Error())
	}

	instance, err := h.lifecycle.GetInstance(c.Context(), params.InstanceID)
	if err != nil {
		return rpcError(c, req.ID, err)
	}
	return rpcOK(c, req.ID, fiber.Map{"handle": instance.Handle})
}

func (h *APIHandler) rpcGetHandleByName(c *fiber.Ctx, req RPCRequest) error {
	var params struct {
		Name string `json:"name"`
	}
	if err := decodeParams(req, &params); err != nil {
		return rpcInvalid(c, req.ID, err.Error())
	}

	instance, err := h.lifecycle.GetByName(c.Context(), params.Name)
	if err != nil {
		return rpcError(c, req.ID, err)
	}
	return rpcOK(c, req.ID, fiber.Map{"handle": instance.Handle})
}

// decodeParams unmarshals the raw RPC params into a typed struct
func decodeParams(req RPCRequest, out interface{}) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("params are required for %s", req.Method)
	}
	if err := json.Unmarshal(req.Params, out); err != nil {
		return fmt.Errorf("invalid params for %s: %v", req.Method, err)
	}
	return nil
}

func rpcOK(c *fiber.Ctx, id string, data interface{}) error {
	return c.JSON(RPCResponse{Data: data, ID: id, Success: true})
}

func rpcInvalid(c *fiber.Ctx, id, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(RPCResponse{
		Error: &RPCError{Kind: "InvalidInput", Message: msg},
		ID:    id,
	})
}

func rpcError(c *fiber.Ctx, id string, err error) error {
	return c.Status(statusForError(err)).JSON(RPCResponse{
		Error: &RPCError{Kind: types.ErrorKind(err), Message: err.Error()},
		ID:    id,
	})
}
