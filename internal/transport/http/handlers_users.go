package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/users"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// UserService is the slice of the users service the router needs.
type UserService interface {
	Create(ctx context.Context, params users.CreateParams) (users.User, error)
	Get(ctx context.Context, id string) (users.User, error)
	Update(ctx context.Context, id string, params users.UpdateParams) (users.User, error)
	Deactivate(ctx context.Context, id string) error
	List(ctx context.Context, filter users.Filter) ([]users.User, error)
	Authenticate(ctx context.Context, username, password string) (users.User, error)
}

// TokenIssuer mints actor tokens after a successful login.
type TokenIssuer interface {
	GenerateToken(actor domain.Actor, expiresIn time.Duration) (string, error)
}

const loginTokenTTL = time.Hour

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toUserResponse(u users.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role.String(),
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func handleLogin(svc UserService, tokens TokenIssuer) http.HandlerFunc {
	type request struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	type response struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		user, err := svc.Authenticate(r.Context(), req.Username, req.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		token, err := tokens.GenerateToken(domain.Actor{ID: user.ID, Role: user.Role}, loginTokenTTL)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response{Token: token, ExpiresIn: int64(loginTokenTTL.Seconds())})
	}
}

func handleUserCreate(svc UserService) http.HandlerFunc {
	type request struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Role     string `json:"role"`
		Password string `json:"password"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		role, err := domain.ParseRole(req.Role)
		if err != nil {
			writeError(w, err)
			return
		}
		user, err := svc.Create(r.Context(), users.CreateParams{
			Username: req.Username,
			Email:    req.Email,
			Role:     role,
			Password: req.Password,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toUserResponse(user))
	}
}

func handleUserGet(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(user))
	}
}

func handleUserList(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter users.Filter
		if role := r.URL.Query().Get("role"); role != "" {
			parsed, err := domain.ParseRole(role)
			if err != nil {
				writeError(w, err)
				return
			}
			filter.Role = parsed
		}
		filter.ActiveOnly = r.URL.Query().Get("active") == "true"

		list, err := svc.List(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]userResponse, 0, len(list))
		for _, u := range list {
			out = append(out, toUserResponse(u))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleUserUpdate(svc UserService) http.HandlerFunc {
	type request struct {
		Email *string `json:"email"`
		Role  *string `json:"role"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		params := users.UpdateParams{Email: req.Email}
		if req.Role != nil {
			role, err := domain.ParseRole(*req.Role)
			if err != nil {
				writeError(w, err)
				return
			}
			params.Role = &role
		}
		if params.Email == nil && params.Role == nil {
			writeError(w, dErrors.New(dErrors.CodeValidation, "no fields to update"))
			return
		}
		user, err := svc.Update(r.Context(), chi.URLParam(r, "id"), params)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(user))
	}
}

func handleUserDeactivate(svc UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
