package sdk

import (
	"fmt"

	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
)

const (
	roundsEndpoint = "/rounds"
	modelEndpoint  = "/model"
	stateEndpoint  = "/state"
	nodesEndpoint  = "/nodes"
	healthEndpoint = "/health"
)

func (sdk *fedSDK) ListRounds(offset, limit uint64) (fl.RoundPage, error) {
	var page fl.RoundPage
	if err := sdk.get(sdk.coordinatorURL+roundsEndpoint+pageQuery(offset, limit), &page); err != nil {
		return fl.RoundPage{}, err
	}

	return page, nil
}

func (sdk *fedSDK) GetRound(round uint64) (fl.RoundMetrics, error) {
	var m fl.RoundMetrics
	if err := sdk.get(fmt.Sprintf("%s%s/%d", sdk.coordinatorURL, roundsEndpoint, round), &m); err != nil {
		return fl.RoundMetrics{}, err
	}

	return m, nil
}

func (sdk *fedSDK) GlobalModel(values bool) (Model, error) {
	url := sdk.coordinatorURL + modelEndpoint
	if values {
		url += "?values=true"
	}

	var m Model
	if err := sdk.get(url, &m); err != nil {
		return Model{}, err
	}

	return m, nil
}

func (sdk *fedSDK) State() (string, error) {
	var res struct {
		State string `json:"state"`
	}
	if err := sdk.get(sdk.coordinatorURL+stateEndpoint, &res); err != nil {
		return "", err
	}

	return res.State, nil
}

func (sdk *fedSDK) ListNodes(offset, limit uint64) (node.NodePage, error) {
	var page node.NodePage
	if err := sdk.get(sdk.coordinatorURL+nodesEndpoint+pageQuery(offset, limit), &page); err != nil {
		return node.NodePage{}, err
	}

	return page, nil
}

func (sdk *fedSDK) Health() (HealthInfo, error) {
	var h HealthInfo
	if err := sdk.get(sdk.coordinatorURL+healthEndpoint, &h); err != nil {
		return HealthInfo{}, err
	}

	return h, nil
}
