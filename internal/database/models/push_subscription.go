package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PushSubscription struct {
	bun.BaseModel

	ID        int64  `bun:",pk,autoincrement"`
	Endpoint  string `bun:",unique,notnull"`
	P256dh    string
	Auth      string
	CreatedAt time.Time
}
