package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kailera/acertaia-api/internal/apperrors"
	"github.com/kailera/acertaia-api/internal/ingress"
	"github.com/kailera/acertaia-api/internal/model"
	"github.com/kailera/acertaia-api/internal/tenant"
	"github.com/kailera/acertaia-api/pkg/utils"
)

// ChatService answers web chat and role chat messages.
type ChatService interface {
	Chat(ctx context.Context, req model.ChatRequest) (*model.ChatReply, error)
	RoleChat(ctx context.Context, role model.AgentType, req model.ChatRequest) (*model.ChatReply, error)
}

// WebhookService answers WhatsApp gateway deliveries.
type WebhookService interface {
	Handle(ctx context.Context, w *model.Webhook) (*model.WebhookResult, error)
}

// BindingService exposes conversation hand-off.
type BindingService interface {
	Get(ctx context.Context, ownerID, conversationID string) (*model.ConversationBinding, error)
	Rebind(ctx context.Context, ownerID, conversationID, agentID string) (*model.ConversationBinding, error)
	Unbind(ctx context.Context, ownerID, conversationID string) error
}

// InstanceService exposes the message log of an owned WhatsApp instance.
type InstanceService interface {
	Verify(ctx context.Context, userID, instance string) (*model.InstanceStatus, error)
	ListChats(ctx context.Context, userID, instance, q string, limit, offset int) (*model.ChatPage, error)
	ListMessages(ctx context.Context, userID, instance, jid string, limit, offset int) ([]model.MessageView, error)
	LastContact(ctx context.Context, userID, instance, jid string) (*model.ContactInfo, error)
	Send(ctx context.Context, userID, instance string, req model.SendTextRequest) (*model.SentMessage, error)
}

// Handler holds the services behind the HTTP routes.
type Handler struct {
	chat      ChatService
	webhooks  WebhookService
	bindings  BindingService
	instances InstanceService
}

// NewHandler creates a new Handler with the given services.
func NewHandler(chat ChatService, webhooks WebhookService, bindings BindingService, instances InstanceService) *Handler {
	return &Handler{chat: chat, webhooks: webhooks, bindings: bindings, instances: instances}
}

func decodeError(err error) error {
	return fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
}

// Chat handles POST /api/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := utils.DecodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, decodeError(err), nil)
		return
	}

	reply, err := h.chat.Chat(r.Context(), req)
	if err != nil {
		writeError(w, r, err, conversationData(reply))
		return
	}
	writeSuccess(w, http.StatusCreated, reply)
}

// RoleChat returns the handler of a role's direct chat endpoint.
func (h *Handler) RoleChat(role model.AgentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.ChatRequest
		if err := utils.DecodeJSONBody(w, r, &req); err != nil {
			writeError(w, r, decodeError(err), nil)
			return
		}

		reply, err := h.chat.RoleChat(r.Context(), role, req)
		if err != nil {
			writeError(w, r, err, conversationData(reply))
			return
		}
		writeSuccess(w, http.StatusCreated, model.ChatReply{Reply: reply.Reply, ConversationID: reply.ConversationID})
	}
}

func conversationData(reply *model.ChatReply) interface{} {
	if reply == nil || reply.ConversationID == "" {
		return nil
	}
	return map[string]string{"conversationId": reply.ConversationID}
}

// Webhook handles POST /api/wa/webhook. Deliveries without messages answer
// 200, processed ones 201.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, utils.MaxBodyBytes))
	if err != nil {
		writeError(w, r, decodeError(err), nil)
		return
	}

	hook, err := ingress.ParseWebhook(raw, r.URL.Query().Get("instance"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	result, err := h.webhooks.Handle(r.Context(), hook)
	if err != nil {
		writeError(w, r, err, result)
		return
	}
	if result.Count == 0 {
		utils.WriteJSONResponse(w, http.StatusOK, model.APIResponse{Success: true, Message: "no-op", Data: result})
		return
	}
	writeSuccess(w, http.StatusCreated, result)
}

func ownerFrom(r *http.Request) (string, error) {
	owner, err := tenant.OwnerID(r.Context())
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	return owner, nil
}

// GetBinding handles GET /api/conversations/{conversationId}/agent.
func (h *Handler) GetBinding(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	binding, err := h.bindings.Get(r.Context(), owner, chi.URLParam(r, "conversationId"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeSuccess(w, http.StatusOK, binding)
}

// Rebind handles PUT /api/conversations/{conversationId}/agent.
func (h *Handler) Rebind(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	var req model.RebindRequest
	if err := utils.DecodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, decodeError(err), nil)
		return
	}
	binding, err := h.bindings.Rebind(r.Context(), owner, chi.URLParam(r, "conversationId"), req.AgentID)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeSuccess(w, http.StatusOK, binding)
}

// Unbind handles DELETE /api/conversations/{conversationId}/agent.
func (h *Handler) Unbind(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFrom(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	conversationID := chi.URLParam(r, "conversationId")
	if err := h.bindings.Unbind(r.Context(), owner, conversationID); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"conversationId": conversationID, "status": "UNBOUND"})
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

// VerifyInstance handles GET /api/wa/instances/{instance}/verify.
func (h *Handler) VerifyInstance(w http.ResponseWriter, r *http.Request) {
	owner, _ := tenant.OwnerID(r.Context())
	status, err := h.instances.Verify(r.Context(), owner, chi.URLParam(r, "instance"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeSuccess(w, http.StatusOK, status)
}

// ListChats handles GET /api/wa/instances/{instance}/chats.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	owner, _ := tenant.OwnerID(r.Context())
	page, err := h.instances.ListChats(r.Context(), owner, chi.URLParam(r, "instance"),
		r.URL.Query().Get("q"), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	total := page.Total
	utils.WriteJSONResponse(w, http.StatusOK, model.APIResponse{Success: true, Data: page.Chats, Total: &total})
}

// ListMessages handles GET /api/wa/instances/{instance}/messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	owner, _ := tenant.OwnerID(r.Context())
	views, err := h.instances.ListMessages(r.Context(), owner, chi.URLParam(r, "instance"),
		r.URL.Query().Get("jid"), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeSuccess(w, http.StatusOK, views)
}

// Contact handles GET /api/wa/instances/{instance}/contact.
func (h *Handler) Contact(w http.ResponseWriter, r *http.Request) {
	owner, _ := tenant.OwnerID(r.Context())
	info, err := h.instances.LastContact(r.Context(), owner, chi.URLParam(r, "instance"), r.URL.Query().Get("jid"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeSuccess(w, http.StatusOK, info)
}

// SendText handles POST /api/wa/instances/{instance}/send.
func (h *Handler) SendText(w http.ResponseWriter, r *http.Request) {
	owner, _ := tenant.OwnerID(r.Context())
	var req model.SendTextRequest
	if err := utils.DecodeJSONBody(w, r, &req); err != nil && !errors.Is(err, utils.ErrEmptyBody) {
		writeError(w, r, decodeError(err), nil)
		return
	}
	sent, err := h.instances.Send(r.Context(), owner, chi.URLParam(r, "instance"), req)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeSuccess(w, http.StatusOK, sent)
}
