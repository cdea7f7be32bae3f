package escrow

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"escrow-backend/core/escrow"
	"escrow-backend/ipfs"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func taskIDParam(w http.ResponseWriter, r *http.Request) (escrow.TaskID, bool) {
	id, err := escrow.TaskIDFromHex(chi.URLParam(r, "taskID"))
	if err != nil {
		badRequest(w, err.Error())
		return id, false
	}
	return id, true
}

func intFromQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func limitFromQuery(r *http.Request) int {
	limit := intFromQuery(r, "limit", defaultListLimit)
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func signer(w http.ResponseWriter, r *http.Request) (escrow.Signer, bool) {
	s, ok := SignerFrom(r.Context())
	if !ok {
		Error(w, http.StatusUnauthorized, "Unauthenticated", "signature required")
	}
	return s, ok
}

// handleListTasks handles GET /tasks?status=&authority=&agent=&limit=&offset=
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := escrow.EscrowFilter{
		Limit:  limitFromQuery(r),
		Offset: intFromQuery(r, "offset", 0),
	}
	if raw := q.Get("status"); raw != "" {
		st, err := escrow.ParseStatus(raw)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		filter.Status = &st
	}
	for key, dst := range map[string]**escrow.Pubkey{"authority": &filter.Authority, "agent": &filter.Agent} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		pk, err := escrow.PubkeyFromBase58(raw)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		*dst = &pk
	}

	tasks, err := s.program.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	rec, err := s.program.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	poster, ok := signer(w, r)
	if !ok {
		return
	}
	var args escrow.CreateTaskArgs
	if !decodeBody(w, r, &args) {
		return
	}
	rec, err := s.program.CreateTask(r.Context(), poster, args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleClaimTask(w http.ResponseWriter, r *http.Request) {
	agent, ok := signer(w, r)
	if !ok {
		return
	}
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	rec, err := s.program.ClaimTask(r.Context(), agent, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type submitRequest struct {
	WorkHash escrow.Hash `json:"work_hash"`
}

func (s *Server) handleSubmitWork(w http.ResponseWriter, r *http.Request) {
	agent, ok := signer(w, r)
	if !ok {
		return
	}
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.program.SubmitWork(r.Context(), agent, id, req.WorkHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	poster, ok := signer(w, r)
	if !ok {
		return
	}
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	out, err := s.program.ApproveAndRelease(r.Context(), poster, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	poster, ok := signer(w, r)
	if !ok {
		return
	}
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	out, err := s.program.CancelTask(r.Context(), poster, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	vault, err := s.program.Vault(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vault)
}

// handleVaultQR renders the vault address as a PNG QR code.
func (s *Server) handleVaultQR(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	addrs, err := s.program.Addresses(id)
	if err != nil {
		writeError(w, err)
		return
	}
	size := intFromQuery(r, "size", 256)
	if size < 64 || size > 1024 {
		size = 256
	}
	png, err := qrcode.Encode(addrs.Vault.String(), qrcode.Medium, size)
	if err != nil {
		writeError(w, fmt.Errorf("failed to generate QR code: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (s *Server) handleAddresses(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	addrs, err := s.program.Addresses(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addrs)
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := signer(w, r)
	if !ok {
		return
	}
	acct, err := s.program.OpenAccount(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	owner, err := escrow.PubkeyFromBase58(chi.URLParam(r, "owner"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	acct, err := s.program.Account(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type mintRequest struct {
	Amount uint64 `json:"amount"`
	// Nonce only makes otherwise identical mints sign differently.
	Nonce string `json:"nonce,omitempty"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	authority, ok := signer(w, r)
	if !ok {
		return
	}
	owner, err := escrow.PubkeyFromBase58(chi.URLParam(r, "owner"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	acct, err := s.program.MintTo(r.Context(), authority, owner, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) eventFilter(r *http.Request) (escrow.EventFilter, error) {
	filter := escrow.EventFilter{Limit: limitFromQuery(r)}
	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid after: %w", err)
		}
		filter.After = after
	}
	if raw := r.URL.Query().Get("task_id"); raw != "" {
		id, err := escrow.TaskIDFromHex(raw)
		if err != nil {
			return filter, err
		}
		filter.TaskID = &id
	}
	return filter, nil
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := s.eventFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	events, err := s.program.Events(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	filter, err := s.eventFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	filter.TaskID = &id
	events, err := s.program.Events(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// handleEventStream replays the log after ?after= and then follows live events
// as server-sent events.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		Error(w, http.StatusServiceUnavailable, "Unavailable", "event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "Internal", "streaming unsupported")
		return
	}
	filter, err := s.eventFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	live, cancel := s.broadcaster.Subscribe()
	defer cancel()

	filter.Limit = 0
	backlog, err := s.program.Events(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// last is the highest global seq already written or passed over.
	last := filter.After
	send := func(ev escrow.EventRecord) bool {
		if ev.Seq <= last {
			return true
		}
		last = ev.Seq
		if !filter.Match(ev) {
			return true
		}
		b, err := json.Marshal(ev)
		if err != nil {
			return true
		}
		_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, b)
		return err == nil
	}
	// catchUp reads the committed log after last. Notifiers run after commit
	// and outside the store lock, so live events can arrive out of order or be
	// dropped by a full buffer.
	catchUp := func() bool {
		gap := filter
		gap.After = last
		evs, err := s.program.Events(r.Context(), gap)
		if err != nil {
			log.Warn().Err(err).Uint64("after", last).Msg("event stream catch-up failed")
			return false
		}
		for _, ev := range evs {
			if !send(ev) {
				return false
			}
		}
		return true
	}
	for _, ev := range backlog {
		if !send(ev) {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.Seq > last+1 && !catchUp() {
				return
			}
			if !send(ev) {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handlePutContent(w http.ResponseWriter, r *http.Request) {
	if s.content == nil {
		Error(w, http.StatusServiceUnavailable, "Unavailable", "content gateway disabled")
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, ipfs.MaxContentSize+1))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	h, id, err := s.content.Put(r.Context(), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"hash": h.String(), "cid": id.String()})
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	if s.content == nil {
		Error(w, http.StatusServiceUnavailable, "Unavailable", "content gateway disabled")
		return
	}
	h, err := escrow.HashFromHex(chi.URLParam(r, "hash"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	data, err := s.content.Get(r.Context(), h)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
