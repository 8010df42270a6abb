package server

import (
	"net/http"

	errorsmod "cosmossdk.io/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rateSwap/internal/swap"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code      uint32 `json:"code"`
	Codespace string `json:"codespace"`
	Error     string `json:"error"`
}

func errorResponse(err error) (int, ErrorResponse) {
	codespace, code, log := errorsmod.ABCIInfo(err, false)
	resp := ErrorResponse{Code: code, Codespace: codespace, Error: log}
	if codespace != swap.Codespace {
		return http.StatusInternalServerError, resp
	}
	switch code {
	case swap.ErrRateUnavailable.ABCICode(),
		swap.ErrInsufficientPoolLiquidity.ABCICode(),
		swap.ErrInsufficientCallerBalance.ABCICode():
		return http.StatusUnprocessableEntity, resp
	case swap.ErrUnauthorizedTransfer.ABCICode():
		return http.StatusForbidden, resp
	default:
		return http.StatusBadRequest, resp
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, resp := errorResponse(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, resp)
}

func badRequest(format string, args ...interface{}) error {
	return swap.ErrInvalidRequest.Wrapf(format, args...)
}
