package api

import (
	"net/http"
	"time"

	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*roundResponse)(nil)
	_ supermq.Response = (*listRoundsResponse)(nil)
	_ supermq.Response = (*modelResponse)(nil)
	_ supermq.Response = (*stateResponse)(nil)
	_ supermq.Response = (*listNodesResponse)(nil)
)

type roundResponse struct {
	fl.RoundMetrics
}

func (r roundResponse) Code() int {
	return http.StatusOK
}

func (r roundResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r roundResponse) Empty() bool {
	return false
}

type listRoundsResponse struct {
	fl.RoundPage
}

func (l listRoundsResponse) Code() int {
	return http.StatusOK
}

func (l listRoundsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listRoundsResponse) Empty() bool {
	return false
}

type modelResponse struct {
	Round      uint64              `json:"round"`
	Size       int                 `json:"size"`
	Layout     []fl.TensorLayout   `json:"layout"`
	Parameters *fl.ParameterVector `json:"parameters,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func (m modelResponse) Code() int {
	return http.StatusOK
}

func (m modelResponse) Headers() map[string]string {
	return map[string]string{}
}

func (m modelResponse) Empty() bool {
	return false
}

type stateResponse struct {
	State string `json:"state"`
}

func (s stateResponse) Code() int {
	return http.StatusOK
}

func (s stateResponse) Headers() map[string]string {
	return map[string]string{}
}

func (s stateResponse) Empty() bool {
	return false
}

type listNodesResponse struct {
	node.NodePage
}

func (l listNodesResponse) Code() int {
	return http.StatusOK
}

func (l listNodesResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listNodesResponse) Empty() bool {
	return false
}
