package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/multierr"

	"github.com/haukened/nullroute/internal/dns/common/log"
	"github.com/haukened/nullroute/internal/dns/common/utils"
	"github.com/haukened/nullroute/internal/dns/domain"
)

// decisionResponse is the body of classify and block/unblock responses.
type decisionResponse struct {
	Name    string `json:"name"`
	Verdict string `json:"verdict"`
	Apex    string `json:"apex,omitempty"`
	Changed *bool  `json:"changed,omitempty"`
}

// ruleRequest is the body of POST /api/v1/rules.
type ruleRequest struct {
	Pattern string `json:"pattern" validate:"required,max=253"`
	Kind    string `json:"kind" validate:"required,oneof=block allow redirect"`
	Address string `json:"address" validate:"omitempty,ip"`
	Enabled *bool  `json:"enabled"`
}

type ruleResponse struct {
	Pattern  string `json:"pattern"`
	Kind     string `json:"kind"`
	Address  string `json:"address,omitempty"`
	Enabled  bool   `json:"enabled"`
	Wildcard bool   `json:"wildcard"`
}

type reloadResponse struct {
	Sources  int      `json:"sources"`
	Rules    int      `json:"rules"`
	LoadedAt string   `json:"loaded_at"`
	Warnings []string `json:"warnings,omitempty"`
}

type statsResponse struct {
	Domains     int64       `json:"domains"`
	BuiltAt     string      `json:"built_at,omitempty"`
	Epoch       uint64      `json:"epoch"`
	BloomKeys   uint32      `json:"bloom_keys"`
	BloomSkips  uint64      `json:"bloom_skips"`
	StaleHits   uint64      `json:"stale_hits"`
	UpdateCount uint64      `json:"update_count"`
	Cache       cacheStats  `json:"cache"`
	Store       *storeStats `json:"store,omitempty"`
	Sources     []string    `json:"sources,omitempty"`
}

type cacheStats struct {
	Capacity  int    `json:"capacity"`
	Size      int    `json:"size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type storeStats struct {
	Version uint64 `json:"version"`
	Updated string `json:"updated,omitempty"`
	Rules   uint64 `json:"rules"`
}

func toRuleResponse(r domain.UserRule) ruleResponse {
	return ruleResponse{
		Pattern:  r.Pattern(),
		Kind:     r.Kind.String(),
		Address:  r.Redirect,
		Enabled:  r.Enabled,
		Wildcard: r.Wildcard,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "metrics disabled")
		return
	}
	s.metrics.ServeHTTP(w, r)
}

// hostParam reads and validates the {name} path parameter.
func (s *Server) hostParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := utils.CanonicalDNSName(chi.URLParam(r, "name"))
	if err := s.validate.Var(name, "required,hostname_rfc1123"); err != nil {
		writeInvalidRequest(w, "invalid hostname "+chi.URLParam(r, "name"))
		return "", false
	}
	return name, true
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	name, ok := s.hostParam(w, r)
	if !ok {
		return
	}
	d := s.repo.Decide(name)
	writeJSON(w, http.StatusOK, decisionResponse{Name: d.Name, Verdict: d.Verdict.String(), Apex: d.Apex})
}

func (s *Server) block(w http.ResponseWriter, r *http.Request) {
	name, ok := s.hostParam(w, r)
	if !ok {
		return
	}
	if s.store != nil {
		rule, err := domain.NewUserRule(name, domain.RuleBlock, "", true)
		if err != nil {
			writeInvalidRequest(w, err.Error())
			return
		}
		if err := s.store.Put(rule); err != nil {
			writeInternalError(w, err.Error())
			return
		}
	}
	changed := s.repo.Block(name)
	s.updateGauge()
	s.logger.Info(log.Fields{"name": name, "changed": changed}, "admin_block")
	writeJSON(w, http.StatusOK, decisionResponse{Name: name, Verdict: domain.Blocked.String(), Changed: &changed})
}

func (s *Server) unblock(w http.ResponseWriter, r *http.Request) {
	name, ok := s.hostParam(w, r)
	if !ok {
		return
	}
	if s.store != nil {
		if _, err := s.store.Delete(domain.RuleBlock, name, false); err != nil {
			writeInternalError(w, err.Error())
			return
		}
	}
	changed := s.repo.Unblock(name)
	s.updateGauge()
	s.logger.Info(log.Fields{"name": name, "changed": changed}, "admin_unblock")
	d := s.repo.Decide(name)
	writeJSON(w, http.StatusOK, decisionResponse{Name: name, Verdict: d.Verdict.String(), Apex: d.Apex, Changed: &changed})
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "rule store disabled")
		return
	}
	rules, err := s.store.List()
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	out := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRuleResponse(rule))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "rule store disabled")
		return
	}
	var req ruleRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeInvalidRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}
	kind, err := domain.ParseRuleKind(req.Kind)
	if err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}
	enabled := req.Enabled == nil || *req.Enabled
	rule, err := domain.NewUserRule(req.Pattern, kind, req.Address, enabled)
	if err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}
	if err := s.store.Put(rule); err != nil {
		writeInternalError(w, err.Error())
		return
	}
	s.logger.Info(log.Fields{"rule": rule.Key()}, "admin_rule_created")

	if _, err := s.applyRules(r); err != nil {
		writeInternalError(w, "rule saved but reload failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toRuleResponse(rule))
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "rule store disabled")
		return
	}
	kind, err := domain.ParseRuleKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}
	// The redirect address is irrelevant to the key; use a placeholder so
	// normalization accepts redirect rules.
	target, err := domain.NewUserRule(chi.URLParam(r, "pattern"), kind, "0.0.0.0", true)
	if err != nil {
		writeInvalidRequest(w, err.Error())
		return
	}
	found, err := s.store.Delete(kind, target.Hostname, target.Wildcard)
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	if !found {
		writeNotFound(w, "rule "+target.Key())
		return
	}
	s.logger.Info(log.Fields{"rule": target.Key()}, "admin_rule_deleted")

	if _, err := s.applyRules(r); err != nil {
		writeInternalError(w, "rule deleted but reload failed: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "reload disabled")
		return
	}
	rs, err := s.reloader.Apply(r.Context())
	if rs == nil {
		msg := "reload failed"
		if err != nil {
			msg = err.Error()
		}
		writeInternalError(w, msg)
		return
	}
	resp := reloadResponse{
		Sources:  len(rs.Sources),
		Rules:    len(rs.Rules),
		LoadedAt: formatTime(rs.LoadedAt),
	}
	for _, e := range multierr.Errors(err) {
		resp.Warnings = append(resp.Warnings, e.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	rs := s.repo.Stats()
	resp := statsResponse{
		Domains:     rs.Domains,
		BuiltAt:     formatTime(rs.BuiltAt),
		Epoch:       rs.Epoch,
		BloomKeys:   rs.BloomKeys,
		BloomSkips:  rs.BloomSkips,
		StaleHits:   rs.StaleHits,
		UpdateCount: rs.UpdateCount,
		Cache: cacheStats{
			Capacity:  rs.Cache.Capacity,
			Size:      rs.Cache.Size,
			Hits:      rs.Cache.Hits,
			Misses:    rs.Cache.Misses,
			Evictions: rs.Cache.Evictions,
		},
	}
	if s.store != nil {
		st := s.store.Stats()
		ss := &storeStats{Version: st.Version, Rules: st.Rules}
		if st.UpdatedUnix > 0 {
			ss.Updated = formatTime(time.Unix(st.UpdatedUnix, 0))
		}
		resp.Store = ss
	}
	if s.reloader != nil {
		if cur := s.reloader.Current(); cur != nil {
			resp.Sources = cur.SourceNames
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// applyRules reloads after a rule edit. Partial load errors are logged and
// do not fail the request; only a reload that applied nothing does.
func (s *Server) applyRules(r *http.Request) (bool, error) {
	if s.reloader == nil {
		return false, nil
	}
	rs, err := s.reloader.Apply(r.Context())
	if rs == nil {
		if err == nil {
			err = errors.New("no rule set produced")
		}
		return false, err
	}
	if err != nil {
		s.logger.Warn(log.Fields{"error": err.Error()}, "admin_reload_partial")
	}
	s.updateGauge()
	return true, nil
}

func (s *Server) updateGauge() {
	if s.gauge != nil {
		s.gauge.SetDomains(s.repo.Stats().Domains)
	}
}
