package main

import (
	"net/http"

	"coordhub/auth"
)

type resetPasswordRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		ExpiresAt: formatTime(result.ExpiresAt),
		User:      toUserResponse(result.User),
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req auth.ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.authService.ChangePassword(r.Context(), userIDFrom(r.Context()), req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, err := s.authService.GetUserByID(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleUsers serves /api/users for administrators.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := s.authService.ListUsers(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		resp := make([]userResponse, 0, len(users))
		for _, u := range users {
			resp = append(resp, toUserResponse(u))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": resp, "total": len(resp)})
	case http.MethodPost:
		var req auth.CreateUserRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		user, err := s.authService.CreateUser(r.Context(), req, true)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toUserResponse(user))
	default:
		methodNotAllowed(w)
	}
}

// handleUserDetail serves /api/users/{id}, /unlock and /password.
func (s *Server) handleUserDetail(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/users/")
	if len(parts) == 0 || len(parts) > 2 {
		writeError(w, http.StatusBadRequest, "invalid user path")
		return
	}
	id, ok := parseID(parts[0])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		switch parts[1] {
		case "unlock":
			user, err := s.authService.Unlock(r.Context(), id)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toUserResponse(user))
		case "password":
			var req resetPasswordRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if err := s.authService.ResetPassword(r.Context(), id, req.Password); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := s.authService.GetUserByID(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(user))
	case http.MethodPut:
		var req auth.UpdateUserRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		user, err := s.authService.UpdateUser(r.Context(), id, req)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(user))
	case http.MethodDelete:
		if err := s.authService.DeleteUser(r.Context(), userIDFrom(r.Context()), id); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}
