package localserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/yndnr/pagevault-go/internal/core/domain"
	"github.com/yndnr/pagevault-go/internal/infra/buildinfo"
	"github.com/yndnr/pagevault-go/internal/storage"
	"github.com/yndnr/pagevault-go/internal/telemetry/logger"
)

// Handler executes management operations against the engine.
type Handler struct {
	engine *storage.Engine
	logger *slog.Logger
	start  time.Time
}

// NewHandler creates a Handler.
func NewHandler(engine *storage.Engine, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		engine: engine,
		logger: log,
		start:  time.Now(),
	}
}

// Execute runs one request and builds its response. Parameters are
// never logged: mount and create requests carry passwords.
func (h *Handler) Execute(ctx context.Context, req Request) Response {
	began := time.Now()
	result, err := h.dispatch(ctx, req)

	log := h.logger
	if id := logger.RequestIDFromContext(ctx); id != "" {
		log = log.With("request_id", id)
	}
	if err != nil {
		log.Warn("request failed", "op", req.Op, "error", err, "duration", time.Since(began))
		return Response{ID: req.ID, OK: false, Error: &ErrorBody{
			Code:    domain.GetErrorCode(err),
			Message: err.Error(),
		}}
	}
	log.Debug("request served", "op", req.Op, "duration", time.Since(began))
	return Response{ID: req.ID, OK: true, Result: result}
}

func (h *Handler) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Op {
	case OpSystemStatus:
		return h.status(), nil

	case OpBasisCreate:
		var p BasisCreateParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, h.engine.CreateBasis(p.Name, []byte(p.Password))

	case OpBasisMount:
		var p BasisMountParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		name, err := h.engine.Mount([]byte(p.Password))
		if err != nil {
			return nil, err
		}
		return MountResult{Name: name}, nil

	case OpBasisUnmount:
		var p BasisNameParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, h.engine.Unmount(p.Name)

	case OpBasisList:
		return ListResult{Names: h.engine.Bases()}, nil

	case OpKVList:
		var p BasisNameParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		names, err := h.engine.List(p.Name)
		if err != nil {
			return nil, err
		}
		return ListResult{Names: names}, nil

	case OpKVGet:
		var p KVKeyParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		value, err := h.engine.Get(p.Basis, p.Key)
		if err != nil {
			return nil, err
		}
		return ValueResult{Value: value}, nil

	case OpKVPut:
		var p KVPutParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, h.engine.Put(p.Basis, p.Key, p.Value)

	case OpKVDelete:
		var p KVKeyParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, h.engine.Delete(p.Basis, p.Key)

	case OpKVSize:
		var p KVKeyParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		size, err := h.engine.EntrySize(p.Basis, p.Key)
		if err != nil {
			return nil, err
		}
		return SizeResult{Size: size}, nil

	case OpFreeEstimate:
		return FreeResult{Pages: h.engine.FreeEstimate()}, nil

	default:
		return nil, domain.ErrUnknownOperation.WithDetails(req.Op)
	}
}

func (h *Handler) status() StatusResult {
	return StatusResult{
		Version:       buildinfo.Version,
		UptimeSeconds: int64(time.Since(h.start).Seconds()),
		MountedBases:  h.engine.Bases(),
		FreePages:     h.engine.FreeEstimate(),
	}
}

func decodeParams(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return domain.ErrBadRequest.WithDetails("missing params")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return domain.ErrBadRequest.WithCause(err)
	}
	return nil
}
