package postgres

import (
	"errors"

	"gorm.io/gorm"

	"github.com/syncore/coreserver/pkg/rpcdal"
)

// mapErr converts gorm's not-found sentinel to the RpcDal contract's
// ErrNotFound so callers can errors.Is against one taxonomy regardless of
// backend (pkg/rpcdal/fake returns the same sentinel directly).
func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rpcdal.ErrNotFound
	}
	return err
}
