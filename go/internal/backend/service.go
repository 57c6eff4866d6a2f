package backend

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/relay/go/internal/remote"
)

// RaceApp defines what the service layer needs from the application
type RaceApp interface {
	UpsertRunners(ctx context.Context, req remote.UpsertRunnersRequest) ([]remote.RunnerRecord, error)
	UpsertLegs(ctx context.Context, req remote.UpsertLegsRequest) ([]remote.LegRecord, error)
	ListRunners(ctx context.Context, req remote.ListRequest) ([]remote.RunnerRecord, error)
	ListLegs(ctx context.Context, req remote.ListRequest) ([]remote.LegRecord, error)
}

// Service exposes the race app over connect with the JSON codec
type Service struct {
	app RaceApp
}

func NewService(app RaceApp) *Service {
	return &Service{app: app}
}

// Register mounts every procedure on mux
func (s *Service) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	opts = append([]connect.HandlerOption{connect.WithCodec(remote.JSONCodec{})}, opts...)
	mux.Handle(remote.ProcedureRunnersUpsert, connect.NewUnaryHandler(remote.ProcedureRunnersUpsert, s.UpsertRunners, opts...))
	mux.Handle(remote.ProcedureLegsUpsert, connect.NewUnaryHandler(remote.ProcedureLegsUpsert, s.UpsertLegs, opts...))
	mux.Handle(remote.ProcedureRunnersList, connect.NewUnaryHandler(remote.ProcedureRunnersList, s.ListRunners, opts...))
	mux.Handle(remote.ProcedureLegsList, connect.NewUnaryHandler(remote.ProcedureLegsList, s.ListLegs, opts...))
}

func (s *Service) UpsertRunners(ctx context.Context, req *connect.Request[remote.UpsertRunnersRequest]) (*connect.Response[remote.UpsertRunnersResponse], error) {
	runners, err := s.app.UpsertRunners(ctx, *req.Msg)
	if err != nil {
		log.Warn().Err(err).Str("team_id", req.Msg.TeamID).Msg("runners upsert failed")
		return nil, remote.ToConnectError(err)
	}
	return connect.NewResponse(&remote.UpsertRunnersResponse{Runners: runners}), nil
}

func (s *Service) UpsertLegs(ctx context.Context, req *connect.Request[remote.UpsertLegsRequest]) (*connect.Response[remote.UpsertLegsResponse], error) {
	legs, err := s.app.UpsertLegs(ctx, *req.Msg)
	if err != nil {
		log.Warn().Err(err).Str("team_id", req.Msg.TeamID).Msg("legs upsert failed")
		return nil, remote.ToConnectError(err)
	}
	return connect.NewResponse(&remote.UpsertLegsResponse{Legs: legs}), nil
}

func (s *Service) ListRunners(ctx context.Context, req *connect.Request[remote.ListRequest]) (*connect.Response[remote.ListRunnersResponse], error) {
	runners, err := s.app.ListRunners(ctx, *req.Msg)
	if err != nil {
		return nil, remote.ToConnectError(err)
	}
	return connect.NewResponse(&remote.ListRunnersResponse{Runners: runners}), nil
}

func (s *Service) ListLegs(ctx context.Context, req *connect.Request[remote.ListRequest]) (*connect.Response[remote.ListLegsResponse], error) {
	legs, err := s.app.ListLegs(ctx, *req.Msg)
	if err != nil {
		return nil, remote.ToConnectError(err)
	}
	return connect.NewResponse(&remote.ListLegsResponse{Legs: legs}), nil
}
