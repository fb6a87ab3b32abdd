package tiercache

import "github.com/taskhive/tiercache/api"

// Manager implements the public cache contract.
var _ api.Cache = (*Manager)(nil)
