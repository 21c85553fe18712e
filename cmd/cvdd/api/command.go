package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/cvdhost/cvdd/lib/logger"
	"github.com/cvdhost/cvdd/lib/selector"
	"github.com/cvdhost/cvdd/lib/sentinel"
)

// selectorOpts builds selector.Options from the envelope's selector_options
// and the subset of env spec.md §6 names as selector inputs (HOME,
// CUTTLEFISH_INSTANCE). HOME becomes the home override only when it differs
// from the daemon user's home directory.
func (req CommandRequest) selectorOpts() selector.Options {
	opts := selector.Options{
		GroupName:     req.SelectorOptions.GroupName,
		InstanceNames: req.SelectorOptions.InstanceNames,
	}
	if home, ok := req.Env["HOME"]; ok {
		if systemHome, err := os.UserHomeDir(); err != nil || home != systemHome {
			opts.Home = home
		}
	}
	if v, ok := req.Env["CUTTLEFISH_INSTANCE"]; ok {
		if id, err := strconv.ParseUint(v, 10, 32); err == nil {
			opts.InstanceID = uint32(id)
		}
	}
	return opts
}

// HandleCommand is the single entry point for /v1/command: it decodes the
// envelope, dispatches by req.Command, and always responds with the
// OK/INTERNAL envelope spec.md §6 and §7 describe. On error the response
// carries INTERNAL with a human-readable message and no data, never a
// partial result.
func (s *Service) HandleCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, CommandResponse{Status: StatusInternal, Message: fmt.Sprintf("decode request: %v", err)})
		return
	}

	ctx, end := s.startCommandSpan(ctx, req.Command)
	defer end()

	data, err := s.dispatch(ctx, req)
	if err != nil {
		log.ErrorContext(ctx, "command failed", "command", req.Command, "error", err)
		writeResponse(w, CommandResponse{Status: StatusInternal, Message: err.Error()})
		return
	}
	writeResponse(w, CommandResponse{Status: StatusOK, Data: data})
}

func (s *Service) dispatch(ctx context.Context, req CommandRequest) (json.RawMessage, error) {
	switch req.Command {
	case "status":
		return s.handleStatus(ctx, req)
	case "fleet":
		return s.handleFleet(ctx)
	case "stop":
		return nil, s.handleStop(ctx, req)
	case "clear":
		return nil, s.handleClear(ctx)
	case "create":
		return s.handleCreate(ctx, req)
	case "remove":
		return nil, s.handleRemove(ctx, req)
	default:
		return nil, fmt.Errorf("unknown command %q: %w", req.Command, sentinel.ErrValidation)
	}
}

func writeResponse(w http.ResponseWriter, resp CommandResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
