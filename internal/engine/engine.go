package engine

import (
	"database/sql"
	"time"

	"opsline/internal/config"
	"opsline/internal/events"
	"opsline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) defaultCurrency() string {
	if e.Config != nil && e.Config.Defaults.Currency != "" {
		return e.Config.Defaults.Currency
	}
	return "USD"
}
