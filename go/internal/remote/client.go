package remote

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client is the request/response boundary to the shared race store
type Client interface {
	UpsertRunners(ctx context.Context, req UpsertRunnersRequest) ([]RunnerRecord, error)
	UpsertLegs(ctx context.Context, req UpsertLegsRequest) ([]LegRecord, error)
	ListRunners(ctx context.Context, req ListRequest) ([]RunnerRecord, error)
	ListLegs(ctx context.Context, req ListRequest) ([]LegRecord, error)
}

// ConnectClient talks to the backend over connect with the JSON codec
type ConnectClient struct {
	runnersUpsert *connect.Client[UpsertRunnersRequest, UpsertRunnersResponse]
	legsUpsert    *connect.Client[UpsertLegsRequest, UpsertLegsResponse]
	runnersList   *connect.Client[ListRequest, ListRunnersResponse]
	legsList      *connect.Client[ListRequest, ListLegsResponse]
}

var _ Client = (*ConnectClient)(nil)

func NewConnectClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ConnectClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &ConnectClient{
		runnersUpsert: connect.NewClient[UpsertRunnersRequest, UpsertRunnersResponse](httpClient, baseURL+ProcedureRunnersUpsert, opts...),
		legsUpsert:    connect.NewClient[UpsertLegsRequest, UpsertLegsResponse](httpClient, baseURL+ProcedureLegsUpsert, opts...),
		runnersList:   connect.NewClient[ListRequest, ListRunnersResponse](httpClient, baseURL+ProcedureRunnersList, opts...),
		legsList:      connect.NewClient[ListRequest, ListLegsResponse](httpClient, baseURL+ProcedureLegsList, opts...),
	}
}

func (c *ConnectClient) UpsertRunners(ctx context.Context, req UpsertRunnersRequest) ([]RunnerRecord, error) {
	res, err := c.runnersUpsert.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, fromConnectError(ProcedureRunnersUpsert, err)
	}
	return res.Msg.Runners, nil
}

func (c *ConnectClient) UpsertLegs(ctx context.Context, req UpsertLegsRequest) ([]LegRecord, error) {
	res, err := c.legsUpsert.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, fromConnectError(ProcedureLegsUpsert, err)
	}
	return res.Msg.Legs, nil
}

func (c *ConnectClient) ListRunners(ctx context.Context, req ListRequest) ([]RunnerRecord, error) {
	res, err := c.runnersList.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, fromConnectError(ProcedureRunnersList, err)
	}
	return res.Msg.Runners, nil
}

func (c *ConnectClient) ListLegs(ctx context.Context, req ListRequest) ([]LegRecord, error) {
	res, err := c.legsList.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, fromConnectError(ProcedureLegsList, err)
	}
	return res.Msg.Legs, nil
}
