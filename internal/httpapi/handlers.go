package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sisteq/segauth/internal/auth"
)

// adminRevokePermission guards revocation of another principal's sessions:
// Alter on the legacy user-administration function.
const adminRevokePermission = "SEG.SEG_USUARIOS.A"

type loginRequest struct {
	PrincipalKey string `json:"principal_key"`
	Secret       string `json:"secret"`
	Mode         string `json:"mode"`
	CompanyCode  int    `json:"company_code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type revokeAllRequest struct {
	PrincipalKey string `json:"principal_key"`
}

type revokeAllResponse struct {
	PrincipalKey  string `json:"principal_key"`
	RevokedTokens int64  `json:"revoked_tokens"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.PrincipalKey) == "" || req.Secret == "" {
		writeError(w, r, http.StatusBadRequest, "principal_key and secret are required")
		return
	}

	result := a.dispatcher.Authenticate(r.Context(), auth.Credentials{
		PrincipalKey: req.PrincipalKey,
		Secret:       req.Secret,
		CompanyCode:  req.CompanyCode,
		IP:           clientIP(r),
		UserAgent:    r.UserAgent(),
	}, req.Mode)
	if !result.Success {
		writeJSON(w, http.StatusUnauthorized, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	result := a.dispatcher.Refresh(r.Context(), req.RefreshToken, clientIP(r), r.UserAgent())
	if !result.Success {
		// Any refresh failure sends the client back through full login.
		writeJSON(w, http.StatusUnauthorized, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var req revokeAllRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target := strings.TrimSpace(req.PrincipalKey)
	if target == "" {
		target = identity.PrincipalKey
	}
	// Principals may always revoke their own sessions; revoking someone
	// else's requires the user-administration claim.
	if target != identity.PrincipalKey {
		if auth.Decide(adminRevokePermission, identity.Claims) != auth.Allow {
			writeError(w, r, http.StatusForbidden, "forbidden")
			return
		}
	}

	revoked, err := a.refresh.RevokeAll(r.Context(), target, identity.PrincipalKey)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, revokeAllResponse{
		PrincipalKey:  target,
		RevokedTokens: revoked,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
