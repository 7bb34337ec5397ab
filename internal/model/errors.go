package model

import (
	"errors"

	"github.com/xgzlucario/redview/internal/conn"
)

var (
	ErrRowNotLoaded  = &conn.Error{Kind: conn.KindDomain, Msg: "row is not loaded"}
	ErrKeyRemoved    = &conn.Error{Kind: conn.KindDomain, Msg: "key was removed"}
	ErrKeyNotFound   = &conn.Error{Kind: conn.KindDomain, Msg: "key does not exist"}
	ErrValueExists   = &conn.Error{Kind: conn.KindDomain, Msg: "value with the same key already exists"}
	ErrNotSupported  = &conn.Error{Kind: conn.KindDomain, Msg: "operation is not supported by this key type"}
	ErrInvalidRow    = &conn.Error{Kind: conn.KindDomain, Msg: "invalid row"}
	ErrRowChanged    = &conn.Error{Kind: conn.KindDomain, Msg: "row was changed on server, reload and try again"}
	ErrPartialUpdate = &conn.Error{Kind: conn.KindDomain, Msg: "row was partially updated"}
	ErrUnknownType   = &conn.Error{Kind: conn.KindDomain, Msg: "unsupported key type"}
)

// errUnchanged marks a write the server accepted without changing cardinality.
var errUnchanged = errors.New("unchanged")
