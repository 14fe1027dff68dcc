package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// handleDashboard returns the summary cards of the staff dashboard.
// Financial figures are only included for users who manage payments.
func (r *Router) handleDashboard(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	now := time.Now().UTC()
	summary := domain.DashboardSummary{GeneratedAt: now}

	counts, err := r.store.CountApplicationsByStatus(ctx)
	if err != nil {
		writeFailure(w, req, err, "dashboard")
		return
	}
	summary.Applications = counts

	if summary.OpenChats, err = r.store.CountOpenChats(ctx); err != nil {
		writeFailure(w, req, err, "dashboard")
		return
	}
	if summary.MissedChatsWeek, err = r.store.CountMissedChatsSince(ctx, now.Add(-7*24*time.Hour)); err != nil {
		writeFailure(w, req, err, "dashboard")
		return
	}

	for _, s := range r.statuses() {
		if s.Online {
			summary.ServersOnline++
			summary.PlayersOnline += s.PlayerCount
		}
	}

	ks, err := r.store.GetKillSwitch(ctx)
	if err != nil {
		writeFailure(w, req, err, "dashboard")
		return
	}
	summary.KillSwitch = *ks

	if authFrom(req).perms.Has(domain.PermPaymentsManage) {
		finance, err := r.store.GetFinancialSummary(ctx, now)
		if err != nil {
			zap.L().Warn("dashboard finance unavailable", zap.Error(err))
		} else {
			summary.Finance = finance
		}
	}

	writeJSON(w, http.StatusOK, summary)
}

// handleServerStats aggregates a server's snapshots over the last "hours" (default 24, max 30 days)
func (r *Router) handleServerStats(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "server")
	if !ok {
		return
	}
	stats, err := r.store.GetServerStats(req.Context(), id, parseWindow(req, 24, 24*30))
	if err != nil {
		writeFailure(w, req, err, "server stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleServerHistory returns raw snapshots for the player count chart
func (r *Router) handleServerHistory(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "server")
	if !ok {
		return
	}
	snaps, err := r.store.GetSnapshots(req.Context(), id, parseWindow(req, 24, 24*30), parseLimit(req, 1000, 10000))
	if err != nil {
		writeFailure(w, req, err, "server history")
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (r *Router) handleFinancialSummary(w http.ResponseWriter, req *http.Request) {
	summary, err := r.store.GetFinancialSummary(req.Context(), time.Now().UTC())
	if err != nil {
		writeFailure(w, req, err, "financial summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleRevenueByMonth returns the last "months" months of revenue (default 12, max 36)
// in "currency", defaulting to the currency of the latest payment
func (r *Router) handleRevenueByMonth(w http.ResponseWriter, req *http.Request) {
	months := 12
	if m := req.URL.Query().Get("months"); m != "" {
		parsed, err := strconv.Atoi(m)
		if err != nil || parsed < 1 || parsed > 36 {
			writeError(w, http.StatusBadRequest, "months must be between 1 and 36")
			return
		}
		months = parsed
	}
	revenue, err := r.store.GetRevenueByMonth(req.Context(), months, req.URL.Query().Get("currency"), time.Now().UTC())
	if err != nil {
		writeFailure(w, req, err, "revenue")
		return
	}
	writeJSON(w, http.StatusOK, revenue)
}
