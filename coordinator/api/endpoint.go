package api

import (
	"context"
	"errors"

	"github.com/absmach/fedguard/coordinator"
	pkgerrors "github.com/absmach/fedguard/pkg/errors"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

var errLimitSize = errors.New("limit exceeds maximum page size")

func listRoundsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listRoundsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listRoundsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListRounds(ctx, req.offset, req.limit)
		if err != nil {
			return listRoundsResponse{}, err
		}

		return listRoundsResponse{
			RoundPage: page,
		}, nil
	}
}

func getRoundEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(roundReq)
		if !ok {
			return roundResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return roundResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		m, err := svc.GetRound(ctx, req.round)
		if err != nil {
			return roundResponse{}, err
		}

		return roundResponse{
			RoundMetrics: m,
		}, nil
	}
}

func modelEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(modelReq)
		if !ok {
			return modelResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}

		g, err := svc.GlobalModel(ctx)
		if err != nil {
			return modelResponse{}, err
		}

		res := modelResponse{
			Round:     g.Round,
			Size:      g.Parameters.Len(),
			Layout:    g.Parameters.Layout(),
			UpdatedAt: g.UpdatedAt,
		}
		if req.values {
			res.Parameters = &g.Parameters
		}

		return res, nil
	}
}

func stateEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		return stateResponse{
			State: svc.State(ctx).String(),
		}, nil
	}
}

func listNodesEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listNodesResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listNodesResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListNodes(ctx, req.offset, req.limit)
		if err != nil {
			return listNodesResponse{}, err
		}

		return listNodesResponse{
			NodePage: page,
		}, nil
	}
}
