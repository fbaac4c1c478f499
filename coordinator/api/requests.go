package api

import (
	"github.com/absmach/fedguard/pkg/api"
	apiutil "github.com/absmach/supermq/api/http/util"
)

type roundReq struct {
	round uint64
}

func (r *roundReq) validate() error {
	if r.round == 0 {
		return apiutil.ErrMissingID
	}

	return nil
}

type listEntityReq struct {
	offset, limit uint64
}

func (e *listEntityReq) validate() error {
	if e.limit > api.MaxLimitSize {
		return errLimitSize
	}

	return nil
}

type modelReq struct {
	values bool
}
