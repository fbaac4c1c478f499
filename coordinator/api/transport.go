package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/absmach/fedguard/coordinator"
	"github.com/absmach/fedguard/pkg/api"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	roundKey  = "round"
	valuesKey = "values"
)

func MakeHandler(svc coordinator.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Route("/rounds", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listRoundsEndpoint(svc),
			decodeListEntityReq,
			api.EncodeResponse,
			opts...,
		), "list-rounds").ServeHTTP)
		r.Get("/{round}", otelhttp.NewHandler(kithttp.NewServer(
			getRoundEndpoint(svc),
			decodeRoundReq,
			api.EncodeResponse,
			opts...,
		), "get-round").ServeHTTP)
	})
	mux.Get("/model", otelhttp.NewHandler(kithttp.NewServer(
		modelEndpoint(svc),
		decodeModelReq,
		api.EncodeResponse,
		opts...,
	), "global-model").ServeHTTP)
	mux.Get("/state", otelhttp.NewHandler(kithttp.NewServer(
		stateEndpoint(svc),
		kithttp.NopRequestDecoder,
		api.EncodeResponse,
		opts...,
	), "state").ServeHTTP)
	mux.Get("/nodes", otelhttp.NewHandler(kithttp.NewServer(
		listNodesEndpoint(svc),
		decodeListEntityReq,
		api.EncodeResponse,
		opts...,
	), "list-nodes").ServeHTTP)

	mux.Get("/health", supermq.Health("fedguard", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeRoundReq(_ context.Context, r *http.Request) (any, error) {
	round, err := strconv.ParseUint(chi.URLParam(r, roundKey), 10, 64)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return roundReq{
		round: round,
	}, nil
}

func decodeModelReq(_ context.Context, r *http.Request) (any, error) {
	req := modelReq{}
	if v := r.URL.Query().Get(valuesKey); v != "" {
		values, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Join(apiutil.ErrValidation, err)
		}
		req.values = values
	}

	return req, nil
}

func decodeListEntityReq(_ context.Context, r *http.Request) (any, error) {
	o, err := apiutil.ReadNumQuery[uint64](r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	l, err := apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return listEntityReq{
		offset: o,
		limit:  l,
	}, nil
}
