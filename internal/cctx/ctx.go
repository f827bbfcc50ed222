package cctx

type ContextKey string

var (
	SessionID ContextKey = "en:sid"
)
