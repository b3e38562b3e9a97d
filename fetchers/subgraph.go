package fetchers

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// SubgraphClient speaks GraphQL to a subgraph endpoint. Subgraphs serve
// read-only protocol metadata (pool registries, gauge lists), not a
// transaction stream.
type SubgraphClient struct {
	client *Client
	url    string
}

// NewSubgraphClient creates a client for one subgraph endpoint.
func NewSubgraphClient(client *Client, url string) *SubgraphClient {
	return &SubgraphClient{client: client, url: url}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query runs a GraphQL query and decodes the data payload into target.
func (s *SubgraphClient) Query(ctx context.Context, query string, variables map[string]interface{}, target interface{}) error {
	response := &graphQLResponse{}
	err := s.client.PostJSON(ctx, s.url, &graphQLRequest{Query: query, Variables: variables}, response)
	if err != nil {
		return err
	}
	if len(response.Errors) > 0 {
		return &BadResponseError{Err: errors.Errorf("subgraph error: %s", response.Errors[0].Message)}
	}
	if err := json.Unmarshal(response.Data, target); err != nil {
		return &BadResponseError{Err: errors.Wrap(err, "decoding subgraph data")}
	}
	return nil
}

// PoolInfo is one pool or gauge entry from a protocol subgraph.
type PoolInfo struct {
	Address common.Address
	Symbol  string
}

const balancerPoolsQuery = `{
  pools(first: 1000, where: {totalShares_gt: "0"}) {
    address
    symbol
  }
}`

// BalancerPools returns the known Balancer pools of the subgraph's chain.
func (s *SubgraphClient) BalancerPools(ctx context.Context) ([]PoolInfo, error) {
	var data struct {
		Pools []struct {
			Address string `json:"address"`
			Symbol  string `json:"symbol"`
		} `json:"pools"`
	}
	if err := s.Query(ctx, balancerPoolsQuery, nil, &data); err != nil {
		return nil, err
	}
	pools := make([]PoolInfo, 0, len(data.Pools))
	for _, pool := range data.Pools {
		pools = append(pools, PoolInfo{
			Address: common.HexToAddress(pool.Address),
			Symbol:  pool.Symbol,
		})
	}
	return pools, nil
}

const balancerPoolTokensQuery = `{
  pools(first: 1000, where: {totalShares_gt: "0"}) {
    address
    tokens {
      address
    }
  }
}`

// BalancerPoolTokens returns the underlying token contracts of each known
// Balancer pool.
func (s *SubgraphClient) BalancerPoolTokens(ctx context.Context) (map[common.Address][]common.Address, error) {
	var data struct {
		Pools []struct {
			Address string `json:"address"`
			Tokens  []struct {
				Address string `json:"address"`
			} `json:"tokens"`
		} `json:"pools"`
	}
	if err := s.Query(ctx, balancerPoolTokensQuery, nil, &data); err != nil {
		return nil, err
	}
	poolTokens := make(map[common.Address][]common.Address, len(data.Pools))
	for _, pool := range data.Pools {
		tokens := make([]common.Address, 0, len(pool.Tokens))
		for _, token := range pool.Tokens {
			tokens = append(tokens, common.HexToAddress(token.Address))
		}
		poolTokens[common.HexToAddress(pool.Address)] = tokens
	}
	return poolTokens, nil
}

const curveGaugesQuery = `{
  gauges(first: 1000) {
    address
    symbol
  }
}`

// CurveGauges returns the known Curve gauges of the subgraph's chain.
func (s *SubgraphClient) CurveGauges(ctx context.Context) ([]PoolInfo, error) {
	var data struct {
		Gauges []struct {
			Address string `json:"address"`
			Symbol  string `json:"symbol"`
		} `json:"gauges"`
	}
	if err := s.Query(ctx, curveGaugesQuery, nil, &data); err != nil {
		return nil, err
	}
	gauges := make([]PoolInfo, 0, len(data.Gauges))
	for _, gauge := range data.Gauges {
		gauges = append(gauges, PoolInfo{
			Address: common.HexToAddress(gauge.Address),
			Symbol:  gauge.Symbol,
		})
	}
	return gauges, nil
}
