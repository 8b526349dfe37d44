// ABOUTME: HTTP API handlers for owner/lead conversations and state projections
// ABOUTME: Agent replies are reconciled into the store and broadcast to observers

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/pipedeck/pipedeck/internal/agentgw"
	"github.com/pipedeck/pipedeck/internal/hub"
	"github.com/pipedeck/pipedeck/internal/reconcile"
	"github.com/pipedeck/pipedeck/internal/state"
	"github.com/pipedeck/pipedeck/internal/uploads"
	"github.com/pipedeck/pipedeck/internal/view"
)

// ownerSessionKey is the fixed session key for the single owner conversation.
const ownerSessionKey = "owner"

// ChatRequest is the JSON request body for POST /owner/chat and POST /lead/chat.
type ChatRequest struct {
	SessionKey string `json:"session_key,omitempty"`
	Message    string `json:"message"`
}

// OwnerChatResponse is the JSON response for POST /owner/chat.
type OwnerChatResponse struct {
	Reply         string `json:"reply"`
	PipelineReady bool   `json:"pipeline_ready"`
}

// LeadChatResponse is the JSON response for POST /lead/chat.
type LeadChatResponse struct {
	LeadID       string `json:"lead_id"`
	Reply        string `json:"reply"`
	CurrentStage int    `json:"current_stage"`
}

// UploadResponse is the JSON response for POST /owner/upload.
type UploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
}

// LeadTableResponse is the JSON response for GET /api/state/leads.
type LeadTableResponse struct {
	Columns []string        `json:"columns"`
	Rows    []view.TableRow `json:"rows"`
}

// handleOwnerChat forwards an owner message to the builder agent, merges the
// reply into the store, and broadcasts PipelineReady when the reply carries a
// complete pipeline payload.
func (g *Gateway) handleOwnerChat(w http.ResponseWriter, r *http.Request) {
	req, err := parseChatRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionKey := req.SessionKey
	if sessionKey == "" {
		sessionKey = ownerSessionKey
	}

	if g.dedupe.IsDuplicate(sessionKey, req.Message) {
		g.metrics.DuplicateRequests.Inc()
		g.sendJSONError(w, http.StatusConflict, "duplicate submission")
		return
	}

	receivedAt := time.Now().UTC()

	reply, err := g.agents.Send(r.Context(), agentgw.RoleBuilder, sessionKey, req.Message, nil)
	if err != nil {
		// Let the client resubmit the same message after a failure.
		g.dedupe.Forget(sessionKey, req.Message)
		g.metrics.AgentCalls.WithLabelValues(string(agentgw.RoleBuilder), "error").Inc()
		g.sendAgentError(w, err)
		return
	}
	g.metrics.AgentCalls.WithLabelValues(string(agentgw.RoleBuilder), "ok").Inc()

	// Message and reply land in one mutation, so a failed call leaves no
	// partial exchange in the transcript.
	if _, err := g.store.AppendOwnerExchange(state.Message{
		Role:      state.RoleOwner,
		Text:      req.Message,
		Timestamp: receivedAt,
	}, state.Message{
		Role:      state.RoleAgent,
		Text:      reply.Text,
		Timestamp: time.Now().UTC(),
		Payload:   reply.Fields,
	}); err != nil {
		g.logger.Error("failed to record owner exchange", "error", err)
	}

	g.applyProfileFields(reply.Fields)

	pipelineReady := false
	if reconcile.PipelineComplete(reply.Fields) {
		def, err := g.reconciler.ReconcilePipeline(reply.Fields)
		if err != nil {
			g.metrics.Reconciliations.WithLabelValues("pipeline", "rejected").Inc()
			g.logger.Warn("pipeline payload rejected", "error", err)
		} else {
			g.metrics.Reconciliations.WithLabelValues("pipeline", "applied").Inc()
			pipelineReady = true
			g.hub.Publish(r.Context(), hub.PipelineReady(def))
		}
	}

	g.writeJSON(w, http.StatusOK, OwnerChatResponse{
		Reply:         reply.Text,
		PipelineReady: pipelineReady,
	})
}

// applyProfileFields updates the business profile if the builder reply
// carried name or description fields.
func (g *Gateway) applyProfileFields(fields map[string]any) {
	name, _ := fields["business_name"].(string)
	description, _ := fields["business_description"].(string)
	if name == "" && description == "" {
		return
	}

	if _, err := g.store.UpdateProfile(name, description); err != nil {
		g.logger.Error("failed to update business profile", "error", err)
	}
}

// handleLeadChat forwards a lead message to the interactor agent. An empty
// session key creates a new lead; later calls address the lead by its ID.
// Lead sessions cannot start before a pipeline is installed.
func (g *Gateway) handleLeadChat(w http.ResponseWriter, r *http.Request) {
	req, err := parseChatRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	leadID := req.SessionKey
	if leadID == "" {
		lead, err := g.store.CreateLead("")
		if errors.Is(err, state.ErrNoPipeline) {
			g.sendJSONError(w, http.StatusConflict, "pipeline not ready")
			return
		}
		if err != nil {
			g.logger.Error("failed to create lead", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		leadID = lead.ID
	} else {
		if _, ok := g.store.Read().Leads[leadID]; !ok {
			g.sendJSONError(w, http.StatusNotFound, "unknown lead session")
			return
		}
		if g.dedupe.IsDuplicate(leadID, req.Message) {
			g.metrics.DuplicateRequests.Inc()
			g.sendJSONError(w, http.StatusConflict, "duplicate submission")
			return
		}
	}

	receivedAt := time.Now().UTC()

	reply, err := g.agents.Send(r.Context(), agentgw.RoleInteractor, leadID, req.Message, nil)
	if err != nil {
		g.dedupe.Forget(leadID, req.Message)
		g.metrics.AgentCalls.WithLabelValues(string(agentgw.RoleInteractor), "error").Inc()
		g.sendAgentError(w, err)
		return
	}
	g.metrics.AgentCalls.WithLabelValues(string(agentgw.RoleInteractor), "ok").Inc()

	if _, err := g.store.AppendLeadExchange(leadID, state.Message{
		Role:      state.RoleLead,
		Text:      req.Message,
		Timestamp: receivedAt,
	}, state.Message{
		Role:      state.RoleAgent,
		Text:      reply.Text,
		Timestamp: time.Now().UTC(),
		Payload:   reply.Fields,
	}); err != nil {
		g.logger.Error("failed to record lead exchange", "error", err, "lead_id", leadID)
	}

	upd, err := g.reconciler.ReconcileLead(leadID, reply.Fields)
	if err != nil {
		g.metrics.Reconciliations.WithLabelValues("lead", "rejected").Inc()
		g.logger.Warn("lead payload rejected", "error", err, "lead_id", leadID)
	} else if upd.Changed() {
		g.metrics.Reconciliations.WithLabelValues("lead", "applied").Inc()
		if len(upd.Fields) > 0 {
			g.hub.Publish(r.Context(), hub.LeadUpdated(leadID, upd.Fields))
		}
		if upd.StageChanged {
			g.hub.Publish(r.Context(), hub.LeadStageChanged(leadID, upd.FromStage, upd.ToStage))
		}
	}

	currentStage := 0
	if lead, ok := g.store.Read().Leads[leadID]; ok {
		currentStage = lead.CurrentStage
	}

	g.writeJSON(w, http.StatusOK, LeadChatResponse{
		LeadID:       leadID,
		Reply:        reply.Text,
		CurrentStage: currentStage,
	})
}

// handleOwnerUpload accepts a multipart reference document, stores the file
// on disk, registers it, and appends a reference to the business profile.
func (g *Gateway) handleOwnerUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	ext, err := uploads.ValidateExtension(header.Filename)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := os.MkdirAll(g.config.Uploads.Dir, 0o755); err != nil {
		g.logger.Error("failed to create upload directory", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	docID := uuid.New().String()
	storedPath := filepath.Join(g.config.Uploads.Dir, docID+ext)

	size, err := writeUploadedFile(storedPath, file)
	if err != nil {
		g.logger.Error("failed to store uploaded file", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	now := time.Now().UTC()
	mimeType := header.Header.Get("Content-Type")

	if err := g.uploads.Save(r.Context(), &uploads.Document{
		ID:         docID,
		SessionKey: ownerSessionKey,
		Filename:   header.Filename,
		StoredPath: storedPath,
		MimeType:   mimeType,
		Size:       size,
		UploadedAt: now,
	}); err != nil {
		g.logger.Error("failed to register document", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if _, err := g.store.AddDocument(state.DocumentRef{
		ID:         docID,
		Filename:   header.Filename,
		Path:       storedPath,
		MimeType:   mimeType,
		Size:       size,
		UploadedAt: now,
	}); err != nil {
		g.logger.Error("failed to record document reference", "error", err)
	}

	g.writeJSON(w, http.StatusCreated, UploadResponse{
		DocumentID: docID,
		Filename:   header.Filename,
		Size:       size,
	})
}

// writeUploadedFile copies the upload to disk and returns the byte count.
func writeUploadedFile(path string, src io.Reader) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	size, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		os.Remove(path)
		return 0, err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return 0, err
	}
	return size, nil
}

// handleState returns the full current snapshot.
func (g *Gateway) handleState(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.store.Read())
}

// handleKanban returns the kanban board projection.
func (g *Gateway) handleKanban(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, view.ToKanban(g.store.Read()))
}

// handleLeads returns the lead table projection.
func (g *Gateway) handleLeads(w http.ResponseWriter, r *http.Request) {
	rows := view.ToLeadTable(g.store.Read())
	if rows == nil {
		rows = []view.TableRow{}
	}
	g.writeJSON(w, http.StatusOK, LeadTableResponse{
		Columns: view.TableColumns,
		Rows:    rows,
	})
}

// handlePipeline returns the installed pipeline definition.
func (g *Gateway) handlePipeline(w http.ResponseWriter, r *http.Request) {
	snap := g.store.Read()
	if snap.Pipeline == nil {
		g.sendJSONError(w, http.StatusNotFound, "no pipeline installed")
		return
	}
	g.writeJSON(w, http.StatusOK, snap.Pipeline)
}

// handleBusiness returns the business profile.
func (g *Gateway) handleBusiness(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.store.Read().Profile)
}

// handleReset wipes the state, remote agent sessions and upload registry,
// notifies observers, and saves the empty snapshot immediately.
func (g *Gateway) handleReset(w http.ResponseWriter, r *http.Request) {
	g.store.Reset()
	g.agents.ResetSessions()

	if err := g.uploads.Clear(r.Context()); err != nil {
		g.logger.Error("failed to clear upload registry", "error", err)
	}

	g.hub.Publish(r.Context(), hub.StateReset())

	if err := g.persister.Save(); err != nil {
		g.metrics.SnapshotSaves.WithLabelValues("error").Inc()
		g.logger.Error("failed to save snapshot after reset", "error", err)
	} else {
		g.metrics.SnapshotSaves.WithLabelValues("ok").Inc()
	}

	g.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleWebsocket upgrades the connection and registers it as a view
// observer. The connection stays registered until the client disconnects or
// a delivery fails.
func (g *Gateway) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connectionID := uuid.New().String()
	g.hub.Subscribe(connectionID, hub.NewWebsocketSender(conn))
	g.metrics.ObserversGauge.Set(float64(g.hub.Count()))
	g.logger.Info("observer connected", "connection_id", connectionID)

	// Observers never send application data; reads only surface disconnects.
	g.readUntilClose(r.Context(), conn)

	g.hub.Unsubscribe(connectionID)
	g.metrics.ObserversGauge.Set(float64(g.hub.Count()))
	g.logger.Info("observer disconnected", "connection_id", connectionID)
}

// readUntilClose blocks until the peer closes the connection or the request
// context is canceled.
func (g *Gateway) readUntilClose(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// sendAgentError maps a remote agent failure onto an HTTP status.
func (g *Gateway) sendAgentError(w http.ResponseWriter, err error) {
	var remote *agentgw.RemoteError
	if !errors.As(err, &remote) {
		g.logger.Error("agent call failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Warn("agent call failed", "role", remote.Role, "kind", remote.Kind, "error", err)
	switch remote.Kind {
	case agentgw.KindTimeout:
		g.sendJSONError(w, http.StatusGatewayTimeout, "agent timed out")
	case agentgw.KindRateLimited:
		g.sendJSONError(w, http.StatusTooManyRequests, "agent rate limited")
	default:
		g.sendJSONError(w, http.StatusBadGateway, "agent error")
	}
}

// parseChatRequest parses and validates a ChatRequest from the given reader.
func parseChatRequest(r io.Reader) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if req.Message == "" {
		return nil, errors.New("message is required")
	}

	return &req, nil
}

// writeJSON writes a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
