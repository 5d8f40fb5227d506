package server

import (
	"context"
	"net/http"
	"time"

	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/service/classify"
)

// HandleCreateGuardrail handles POST /v1/guardrails.
func (h *Handlers) HandleCreateGuardrail(w http.ResponseWriter, r *http.Request) {
	var req model.GuardrailRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	g := model.Guardrail{Name: req.Name, Rules: req.Rules}
	if err := g.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	created, err := h.db.CreateGuardrail(r.Context(), g)
	if err != nil {
		h.writeInternalError(w, r, "failed to create guardrail", err)
		return
	}

	h.precomputeRuleEmbeddings(created)
	writeJSON(w, r, http.StatusCreated, created)
}

// HandleGetGuardrail handles GET /v1/guardrails/{guardrail_id}.
func (h *Handlers) HandleGetGuardrail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "guardrail_id")
	if !ok {
		return
	}
	g, err := h.db.GetGuardrail(r.Context(), id)
	if err != nil {
		if !h.mapDomainError(w, r, err) {
			h.writeInternalError(w, r, "failed to load guardrail", err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, g)
}

// HandleListGuardrails handles GET /v1/guardrails.
func (h *Handlers) HandleListGuardrails(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	gs, total, err := h.db.ListGuardrails(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list guardrails", err)
		return
	}
	writeList(w, r, gs, total, limit, offset, len(gs))
}

// HandleUpdateGuardrail handles PUT /v1/guardrails/{guardrail_id}. The full
// rule set is replaced; in-flight validations keep the snapshot they loaded.
func (h *Handlers) HandleUpdateGuardrail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "guardrail_id")
	if !ok {
		return
	}

	var req model.GuardrailRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	g := model.Guardrail{ID: id, Name: req.Name, Rules: req.Rules}
	if err := g.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	updated, err := h.db.UpdateGuardrail(r.Context(), g)
	if err != nil {
		if !h.mapDomainError(w, r, err) {
			h.writeInternalError(w, r, "failed to update guardrail", err)
		}
		return
	}

	h.precomputeRuleEmbeddings(updated)
	writeJSON(w, r, http.StatusOK, updated)
}

// HandleDeleteGuardrail handles DELETE /v1/guardrails/{guardrail_id}.
func (h *Handlers) HandleDeleteGuardrail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "guardrail_id")
	if !ok {
		return
	}
	if err := h.db.DeleteGuardrail(r.Context(), id); err != nil {
		if !h.mapDomainError(w, r, err) {
			h.writeInternalError(w, r, "failed to delete guardrail", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// precomputeRuleEmbeddings embeds every active rule in the background and
// stores the vectors, then primes the semantic classifier cache. Best-effort:
// the lexical path and on-demand embedding both cover a missed precompute.
func (h *Handlers) precomputeRuleEmbeddings(g model.Guardrail) {
	if h.embedder == nil {
		return
	}
	semantic, _ := h.classifier.(*classify.Semantic)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		for _, rule := range g.ActiveRules() {
			vec, err := h.embedder.Embed(ctx, rule.Text)
			if err != nil {
				h.logger.Warn("rule embedding precompute failed",
					"guardrail_id", g.ID, "rule_id", rule.ID, "error", err)
				return
			}
			if err := h.db.UpdateRuleEmbedding(ctx, rule.ID, vec); err != nil {
				h.logger.Warn("rule embedding store failed",
					"guardrail_id", g.ID, "rule_id", rule.ID, "error", err)
				continue
			}
			if semantic != nil {
				semantic.Prime(rule.ID, rule.Text, vec)
			}
		}
	}()
}
