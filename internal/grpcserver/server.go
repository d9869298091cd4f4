// Package grpcserver exposes the quality gate as the splatgate.v1.QualityGate
// gRPC service. Messages are well-known protobuf types, so no generated code
// is needed on either side.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"splatgate/internal/analysis"
	"splatgate/internal/pipeline"
	"splatgate/internal/storage"
)

const (
	serviceName   = "splatgate.v1.QualityGate"
	maxMessageLen = 16 * 1024 * 1024
)

// Runner runs one job to completion.
type Runner interface {
	Run(ctx context.Context, job pipeline.Job) (pipeline.Result, error)
}

// ReportStore reads persisted gate results.
type ReportStore interface {
	Report(jobID string) (*analysis.QualityReport, error)
	Handoffs(limit int) ([]storage.HandoffRecord, error)
}

// QualityGateServer is the service implementation contract.
type QualityGateServer interface {
	// Assess runs the gate on {"source": path, "threshold": n} and returns
	// {"id", "status", "proceed", "reason", "report"}.
	Assess(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetReport(ctx context.Context, jobID *wrapperspb.StringValue) (*structpb.Struct, error)
	ListHandoffs(ctx context.Context, limit *wrapperspb.Int32Value) (*structpb.ListValue, error)
}

// Server implements QualityGateServer on top of the job pipeline.
type Server struct {
	runner Runner
	store  ReportStore
	log    *slog.Logger
}

// New returns a Server. store may be nil when only Assess is needed.
func New(runner Runner, store ReportStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{runner: runner, store: store, log: log}
}

// Register attaches s to a grpc.Server.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMessageLen),
		grpc.MaxSendMsgSize(maxMessageLen),
	)
	s.Register(gs)

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down grpc server")
		gs.GracefulStop()
	}()

	s.log.Info("grpc server starting", "addr", lis.Addr().String(), "service", serviceName)
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) Assess(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	source := fields["source"].GetStringValue()
	if source == "" {
		return nil, status.Error(codes.InvalidArgument, "source is required")
	}
	job := pipeline.Job{
		ID:      "grpc-" + uuid.NewString()[:8],
		Type:    pipeline.JobAnalyze,
		Source:  source,
		Options: map[string]any{},
	}
	if v, ok := fields["threshold"]; ok {
		th := v.GetNumberValue()
		if th < 0 || th > 100 || th != math.Trunc(th) {
			return nil, status.Error(codes.InvalidArgument, "threshold must be a whole number within 0..100")
		}
		job.Options["threshold"] = int(th)
	}

	res, err := s.runner.Run(ctx, job)
	if err != nil {
		return nil, toStatus(err)
	}
	if res.Error != nil {
		s.log.Warn("grpc assess failed", "id", job.ID, "source", source, "error", res.Error)
		return nil, toStatus(res.Error)
	}

	out := map[string]any{
		"id":     job.ID,
		"status": res.Status(),
	}
	if res.Decision != nil {
		out["proceed"] = res.Decision.Proceed
		out["reason"] = res.Decision.Reason
	}
	if res.Report != nil {
		report, err := toMap(res.Report)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode report: %v", err)
		}
		out["report"] = report
	}
	return newStruct(out)
}

func (s *Server) GetReport(ctx context.Context, jobID *wrapperspb.StringValue) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unavailable, "no report store configured")
	}
	if jobID.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "job id is required")
	}
	r, err := s.store.Report(jobID.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	m, err := toMap(r)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode report: %v", err)
	}
	return newStruct(m)
}

func (s *Server) ListHandoffs(ctx context.Context, limit *wrapperspb.Int32Value) (*structpb.ListValue, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unavailable, "no report store configured")
	}
	n := int(limit.GetValue())
	if n <= 0 {
		n = 50
	}
	recs, err := s.store.Handoffs(n)
	if err != nil {
		return nil, toStatus(err)
	}
	items := make([]any, 0, len(recs))
	for _, rec := range recs {
		m, err := toMap(rec)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode handoff: %v", err)
		}
		items = append(items, m)
	}
	lv, err := structpb.NewList(items)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode handoffs: %v", err)
	}
	return lv, nil
}

// toStatus maps gate and pipeline errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, analysis.ErrCannotAssess):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, pipeline.ErrInvalidThreshold):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, pipeline.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, pipeline.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toMap round-trips v through JSON so its json tags define the field names.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}
