package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/absmach/fedguard/node"
	"github.com/absmach/fedguard/pkg/fl"
)

const CTJSON string = "application/json"

var ErrUnexpectedStatus = errors.New("unexpected response code")

type PageMetadata struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}

// Model is the global model as served by the coordinator. Parameters is
// only set when values were requested.
type Model struct {
	Round      uint64              `json:"round"`
	Size       int                 `json:"size"`
	Layout     []fl.TensorLayout   `json:"layout"`
	Parameters *fl.ParameterVector `json:"parameters,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type HealthInfo struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Description string `json:"description"`
	BuildTime   string `json:"build_time"`
	InstanceID  string `json:"instance_id"`
}

type SDK interface {
	// ListRounds lists the recorded rounds of the current run.
	//
	// example:
	//  page, _ := sdk.ListRounds(0, 10)
	//  fmt.Println(page)
	ListRounds(offset uint64, limit uint64) (fl.RoundPage, error)

	// GetRound gets the metrics of a single round.
	//
	// example:
	//  round, _ := sdk.GetRound(3)
	//  fmt.Println(round.Decision)
	GetRound(round uint64) (fl.RoundMetrics, error)

	// GlobalModel gets the current global model, with its parameter values
	// when values is true.
	//
	// example:
	//  model, _ := sdk.GlobalModel(false)
	//  fmt.Println(model.Layout)
	GlobalModel(values bool) (Model, error)

	// State gets the coordinator state.
	//
	// example:
	//  state, _ := sdk.State()
	//  fmt.Println(state)
	State() (string, error)

	// ListNodes lists the participating clients.
	//
	// example:
	//  page, _ := sdk.ListNodes(0, 10)
	//  fmt.Println(page)
	ListNodes(offset uint64, limit uint64) (node.NodePage, error)

	// Health checks the coordinator.
	Health() (HealthInfo, error)
}

type fedSDK struct {
	coordinatorURL string
	client         *http.Client
}

type Config struct {
	CoordinatorURL  string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &fedSDK{
		coordinatorURL: strings.TrimSuffix(cfg.CoordinatorURL, "/"),
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *fedSDK) get(reqURL string, out any) error {
	body, err := sdk.processRequest(http.MethodGet, reqURL, nil, http.StatusOK)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, out)
}

func (sdk *fedSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		var res struct {
			Err string `json:"error"`
		}
		if json.Unmarshal(body, &res) == nil && res.Err != "" {
			return []byte{}, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, res.Err)
		}

		return []byte{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return body, nil
}

func pageQuery(offset, limit uint64) string {
	queries := make([]string, 0)
	if offset > 0 {
		queries = append(queries, fmt.Sprintf("offset=%d", offset))
	}
	if limit > 0 {
		queries = append(queries, fmt.Sprintf("limit=%d", limit))
	}
	if len(queries) == 0 {
		return ""
	}

	return "?" + strings.Join(queries, "&")
}
