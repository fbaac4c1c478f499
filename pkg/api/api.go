package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/absmach/fedguard/pkg/errors"
	"github.com/absmach/fedguard/pkg/fl"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
)

const (
	OffsetKey = "offset"
	LimitKey  = "limit"
	DefOffset = 0
	DefLimit  = 100

	ContentType = "application/json"

	MaxLimitSize = 100
)

// ErrorRes is the body of every error response.
type ErrorRes struct {
	Err string `json:"error"`
}

func EncodeResponse(_ context.Context, w http.ResponseWriter, response any) error {
	if ar, ok := response.(supermq.Response); ok {
		for k, v := range ar.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(ar.Code())

		if ar.Empty() {
			return nil
		}
	}

	return json.NewEncoder(w).Encode(response)
}

func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(statusCode(err))

	if err := json.NewEncoder(w).Encode(ErrorRes{Err: err.Error()}); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, apiutil.ErrUnsupportedContentType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, apiutil.ErrValidation),
		errors.Is(err, pkgerrors.ErrEmptyKey),
		errors.Is(err, pkgerrors.ErrInvalidID),
		errors.Is(err, pkgerrors.ErrInvalidData):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrEntityExists):
		return http.StatusConflict
	case errors.Is(err, fl.ErrAllClientsExcluded),
		errors.Is(err, fl.ErrNoReportsReceived),
		errors.Is(err, fl.ErrCorruptUpdate),
		errors.Is(err, fl.ErrCorruptAggregate):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
