package session

import (
	"github.com/xgzlucario/redview/internal/conn"
)

type BulkOperation int

const (
	DeleteKeys BulkOperation = iota
	ChangeTTL
	CopyKeys
	ImportRDBKeys
)

func (op BulkOperation) String() string {
	switch op {
	case DeleteKeys:
		return "delete_keys"
	case ChangeTTL:
		return "ttl"
	case CopyKeys:
		return "copy_keys"
	case ImportRDBKeys:
		return "rdb_import"
	}
	return "unknown"
}

// BulkCallback reports a finished bulk job: the key pattern it ran over,
// the number of affected keys and the keys themselves.
type BulkCallback func(pattern string, affected int, keys []string)

// BulkRunner executes bulk jobs. It owns c and may call done from any goroutine.
type BulkRunner interface {
	Run(c *conn.Connection, db int, op BulkOperation, pattern string, done BulkCallback)
}

var ErrNoBulkRunner = &conn.Error{Kind: conn.KindDomain, Msg: "bulk operations are not available"}

// NamespacePattern is the glob covering every key under namespace.
func (s *Session) NamespacePattern(namespace string) string {
	if namespace == "" {
		return "*"
	}
	return namespace + s.cfg.NamespaceSeparator + "*"
}

// RequestBulkOperation hands op over keys under namespace to the bulk runner on
// a fresh clone of the shared connection. done runs on the loop.
func (s *Session) RequestBulkOperation(db int, namespace string, op BulkOperation, done BulkCallback) error {
	if s.bulk == nil {
		return ErrNoBulkRunner
	}
	pattern := s.NamespacePattern(namespace)
	s.cfg.Logger.Info().Msgf("bulk %s on db%d %q", op, db, pattern)
	s.bulk.Run(s.conn.Clone(), db, op, pattern, func(pattern string, affected int, keys []string) {
		s.loop.Post(func() {
			if done != nil {
				done(pattern, affected, keys)
			}
		})
	})
	return nil
}

// DeleteNamespace removes every key under namespace and closes their opened models.
func (s *Session) DeleteNamespace(db int, namespace string, cb Callback) error {
	return s.RequestBulkOperation(db, namespace, DeleteKeys, func(pattern string, _ int, _ []string) {
		s.NotifyKeysRemoved(db, pattern)
		if cb != nil {
			cb(nil)
		}
	})
}
