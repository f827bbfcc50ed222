package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel

	ID        int64 `bun:",pk,autoincrement"`
	Title     string
	Date      time.Time
	StartTime *string
	City      string
	Country   string
}
