package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIError(w, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// writeAPIError はAPIErrorのコードに対応するステータスで統一エラーレスポンスを書き込む。
// トークン系のエラーにはWWW-Authenticateヘッダーを付与する。
func writeAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	status := mapAPIErrorToHTTPStatus(apiErr)
	if status == http.StatusUnauthorized && isTokenErrorCode(apiErr.Code) {
		middleware.WriteTokenError(w, apiErr)
		return
	}
	middleware.WriteErrorResponse(w, status, apiErr)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeTokenMissing, model.ErrCodeTokenMalformed, model.ErrCodeTokenInvalidSignature,
		model.ErrCodeTokenExpired, model.ErrCodeTokenClaimsInvalid, model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeInvalidState, model.ErrCodeMissingCode, model.ErrCodeOAuthError,
		model.ErrCodeInvalidGrant, model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeProviderUnavailable, model.ErrCodeProfileFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func isTokenErrorCode(code string) bool {
	switch code {
	case model.ErrCodeTokenMissing, model.ErrCodeTokenMalformed, model.ErrCodeTokenInvalidSignature,
		model.ErrCodeTokenExpired, model.ErrCodeTokenClaimsInvalid:
		return true
	}
	return false
}
