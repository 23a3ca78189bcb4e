package store

import "github.com/yourorg/declarant/pkg/types"

// ResultFilter narrows and pages a session's results.
type ResultFilter struct {
	MinConfidence *int
	MaxConfidence *int
	UserStatus    types.UserStatus
	Query         string
	Limit         int
	Offset        int
}

type Store interface {
	CreateSession(filename string, totalItems int) (*types.Session, error)
	GetSession(id int64) (*types.Session, error)
	ListSessions(limit int) ([]types.Session, error)
	UpdateSession(id int64, upd types.SessionUpdate) error
	DeleteSession(id int64) error

	SaveResults(sessionID int64, results []types.StoredResult) error
	GetResults(sessionID int64, filter ResultFilter) ([]types.StoredResult, error)
	CountResults(sessionID int64, filter ResultFilter) (int, error)
	GetResult(id int64) (*types.StoredResult, error)
	UpdateUserStatus(resultID int64, status types.UserStatus, notes string) error

	Statistics() (*types.Statistics, error)
	UserStatusStats(sessionID int64) (map[types.UserStatus]int, error)

	Close() error
}
