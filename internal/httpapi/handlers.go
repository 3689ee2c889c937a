package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kkdo11/CueCode/internal/apiclient"
	"github.com/kkdo11/CueCode/internal/metrics"
	"github.com/kkdo11/CueCode/internal/models"
	"github.com/kkdo11/CueCode/internal/repository"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// FeedView 本地只读视图
type FeedView interface {
	Snapshot() []models.PatientRow
	Status() string
}

// AlertConfirmer 报警确认入口
type AlertConfirmer interface {
	ConfirmAlert(ctx context.Context, alertID string) error
}

// AlertHistory 报警留痕查询入口
type AlertHistory interface {
	RecentAlerts(ctx context.Context, since time.Time) ([]repository.JournalEntry, error)
}

// Server 本地查看面的 HTTP 服务
type Server struct {
	view      FeedView
	confirmer AlertConfirmer
	history   AlertHistory
	logger    *zap.Logger
}

func NewServer(view FeedView, confirmer AlertConfirmer, history AlertHistory, logger *zap.Logger) *Server {
	return &Server{
		view:      view,
		confirmer: confirmer,
		history:   history,
		logger:    logger,
	}
}

// Router 注册路由
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	r.HandleFunc("/feed/patients", s.handlePatients).Methods("GET")
	r.HandleFunc("/feed/alerts/recent", s.handleRecentAlerts).Methods("GET")
	r.HandleFunc("/feed/alerts/{alertId}/confirm", s.handleConfirm).Methods("POST")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	return r
}

type patientsResponse struct {
	Status   string              `json:"status"`
	Patients []models.PatientRow `json:"patients"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handlePatients(w http.ResponseWriter, _ *http.Request) {
	rows := s.view.Snapshot()
	if rows == nil {
		rows = []models.PatientRow{}
	}
	resp := patientsResponse{
		Status:   s.view.Status(),
		Patients: rows,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode patients response", zap.Error(err))
	}
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid hours")
			return
		}
		hours = n
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	entries, err := s.history.RecentAlerts(r.Context(), since)
	if err != nil {
		s.logger.Error("Failed to query recent alerts", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	if entries == nil {
		entries = []repository.JournalEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"alerts": entries}); err != nil {
		s.logger.Error("Failed to encode recent alerts response", zap.Error(err))
	}
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alertId"]
	if alertID == "" {
		s.writeError(w, http.StatusBadRequest, "missing alert id")
		return
	}

	err := s.confirmer.ConfirmAlert(r.Context(), alertID)
	if err != nil {
		if errors.Is(err, apiclient.ErrSessionExpired) {
			s.writeError(w, http.StatusUnauthorized, "session expired")
			return
		}
		s.logger.Error("Failed to confirm alert",
			zap.String("alert_id", alertID),
			zap.Error(err),
		)
		s.writeError(w, http.StatusBadGateway, "confirm failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"alertId": alertID, "result": "confirmed"})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
