package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	apierrors "github.com/copyleftdev/smbo/internal/errors"
	"github.com/copyleftdev/smbo/internal/optimization/space"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
	rpcNotFound       = -32001
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// decodeParams accepts named params or a single-element positional array
// holding them.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return apierrors.BadRequest("missing required parameters")
	}
	if raw[0] == '[' {
		var positional []json.RawMessage
		if err := json.Unmarshal(raw, &positional); err != nil || len(positional) != 1 {
			return apierrors.BadRequest("invalid parameter format, expected object")
		}
		raw = positional[0]
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apierrors.BadRequest("invalid parameters: %v", err)
	}
	return nil
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID)
		return
	}

	result, found, err := s.dispatch(r, request)
	if !found {
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID)
		return
	}
	if err != nil {
		switch apierrors.StatusCode(err) {
		case http.StatusBadRequest:
			s.respondWithError(w, rpcInvalidParams, err.Error(), request.ID)
		case http.StatusNotFound:
			s.respondWithError(w, rpcNotFound, err.Error(), request.ID)
		case http.StatusInternalServerError:
			s.logger.Error("RPC method failed", map[string]interface{}{
				"method": request.Method,
				"error":  err.Error(),
			})
			s.respondWithError(w, rpcServerError, "Server error", request.ID)
		default:
			s.respondWithError(w, rpcServerError, err.Error(), request.ID)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// dispatch routes a request to its method. found is false for unknown
// methods.
func (s *Server) dispatch(r *http.Request, req rpcRequest) (result interface{}, found bool, err error) {
	switch req.Method {
	case "optimization.start":
		var p startParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, true, err
		}
		result, err = s.startOptimization(p)
	case "optimization.status":
		var p optimizationIDParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, true, err
		}
		result, err = s.optimizationStatus(p.OptimizationID)
	case "optimization.cancel":
		var p optimizationIDParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, true, err
		}
		if err = s.cancelOptimization(p.OptimizationID); err == nil {
			result = map[string]string{"status": "cancellation requested"}
		}
	case "study.create":
		var (
			p  createStudyParams
			sp *space.Space
			st *Study
		)
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, true, err
		}
		if sp, err = parseSpace(p.Space); err == nil {
			if st, err = s.createStudy(p.Name, sp, p.Seed); err == nil {
				result = st.Summary()
			}
		}
	case "study.get":
		var (
			p  studyIDParams
			st *Study
		)
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, true, err
		}
		if st, err = s.study(p.StudyID); err == nil {
			result = st.Summary()
		}
	case "study.delete":
		var p studyIDParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, true, err
		}
		if err = s.deleteStudy(p.StudyID); err == nil {
			result = map[string]string{"status": "deleted"}
		}
	case "study.tell":
		var (
			p  tellParams
			st *Study
			n  int
		)
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, true, err
		}
		if st, err = s.study(p.StudyID); err == nil {
			if n, err = st.Tell(p.Values, p.Cost); err == nil {
				result = map[string]interface{}{"study_id": st.ID, "observations": n}
			}
		}
	case "study.suggest":
		var (
			p           suggestParams
			suggestions []Suggestion
		)
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, true, err
		}
		if suggestions, err = s.suggest(r.Context(), p.StudyID, p.Count); err == nil {
			result = map[string]interface{}{"study_id": p.StudyID, "suggestions": suggestions}
		}
	default:
		return nil, false, nil
	}
	return result, true, err
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}

	writeJSON(w, http.StatusOK, response)
}
