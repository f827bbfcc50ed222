package controllers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/econexo/backend/internal/router"
)

var _ router.Controller = (*HealthController)(nil)

type HealthController struct {
	DB *bun.DB
}

func (c *HealthController) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if c.DB != nil {
		if err := c.DB.PingContext(r.Context()); err != nil {
			zap.L().Error("health check database ping failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "database unreachable")
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")

	return
}

func (c *HealthController) Register(router *mux.Router) {
	router.HandleFunc("/healthz", c.handleHealthz).
		Methods(http.MethodGet)
}
