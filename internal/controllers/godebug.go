package controllers

import (
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/econexo/backend/internal/rooms"
	"github.com/econexo/backend/internal/router"
)

var _ router.Controller = (*GoDebugController)(nil)

type GoDebugController struct {
	Rooms *rooms.Manager
}

func (c *GoDebugController) handleDumpRooms(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, spew.Sdump(c.Rooms.Dump()))
}

func (c *GoDebugController) Register(router *mux.Router) {
	zap.L().Warn("enabling /debug endpoints")
	router.HandleFunc("/debug/pprof/", pprof.Index)
	router.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)

	if c.Rooms != nil {
		router.HandleFunc("/debug/rooms", c.handleDumpRooms).Methods(http.MethodGet)
	}
}
