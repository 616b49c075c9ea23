package server

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)
import "github.com/gorilla/mux"

import violationService "github.com/spanguard/spanguard/pkg/violation/service"

func CreateRouter(
	ctx context.Context,
	reader violationService.ViolationReader,
	logger *zap.Logger,
) http.Handler {
	r := mux.NewRouter()

	r.Handle(
		"/violations", ViolationsHandler(
			ctx,
			reader,
			logger,
		),
	).Methods("GET")

	r.Handle(
		"/violations/count", ViolationCountHandler(
			ctx,
			reader,
			logger,
		),
	).Methods("GET")

	return r
}
