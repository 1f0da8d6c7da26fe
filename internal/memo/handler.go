package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/memo/service"
	"github.com/iamyasumichi/only-one/middleware"
	"github.com/iamyasumichi/only-one/pkg/logger"
)

const maxBody = 4 << 20

type MemoHandler struct {
	Service *service.MemoService
	Auth    *middleware.Auth
}

func NewMemoHandler(service *service.MemoService, auth *middleware.Auth) *MemoHandler {
	return &MemoHandler{Service: service, Auth: auth}
}

// Memos serves /api/memos: GET lists, POST creates, PATCH and DELETE take ?id=.
func (h *MemoHandler) Memos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.GetMemos(w, r)
	case http.MethodPost:
		h.CreateMemo(w, r)
	case http.MethodPatch:
		h.UpdateMemo(w, r)
	case http.MethodDelete:
		h.DeleteMemo(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *MemoHandler) GetMemos(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())

	memos, err := h.Service.GetMemos(r.Context(), userID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to list memos: %v", err)
		http.Error(w, "Failed to list memos", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, memos)
}

func (h *MemoHandler) CreateMemo(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())

	var req model.CreateMemoRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	memoID, err := h.Service.CreateMemo(r.Context(), userID, req)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to create memo: %v", err)
		http.Error(w, "Failed to create memo", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, model.CreateMemoResponse{ID: memoID})
}

func (h *MemoHandler) UpdateMemo(w http.ResponseWriter, r *http.Request) {
	memoID := r.URL.Query().Get("id")
	if memoID == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}

	var p model.Patch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&p); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID, _ := middleware.UserID(r.Context())
	if err := h.Service.UpdateMemo(r.Context(), userID, memoID, p); err != nil {
		logger.Sugar.Errorf("Handler: Failed to update memo %s: %v", memoID, err)
		http.Error(w, "Failed to update memo", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MemoHandler) DeleteMemo(w http.ResponseWriter, r *http.Request) {
	memoID := r.URL.Query().Get("id")
	if memoID == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}

	userID, _ := middleware.UserID(r.Context())
	if err := h.Service.DeleteMemo(r.Context(), userID, memoID); err != nil {
		logger.Sugar.Errorf("Handler: Failed to delete memo %s: %v", memoID, err)
		http.Error(w, "Failed to delete memo", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AnonymousSignIn mints a fresh identity and a token for it.
func (h *MemoHandler) AnonymousSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := uuid.NewString()
	token, err := h.Auth.IssueToken(userID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to issue token: %v", err)
		http.Error(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}
	logger.Sugar.Infof("Issued anonymous identity %s", userID)
	writeJSON(w, http.StatusOK, model.TokenResponse{Token: token, UserID: userID})
}

func (h *MemoHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Service.Ping(ctx); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Handler: Failed to write response: %v", err)
	}
}
