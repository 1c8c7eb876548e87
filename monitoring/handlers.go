package monitoring

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"scalebridge/config"
	"scalebridge/sale"
	"scalebridge/scale"
	"scalebridge/session"
	"scalebridge/store"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth returns liveness and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"sse_clients":    s.broker.ClientCount(),
	})
}

// StatusResponse is the scale state snapshot returned by /api/status.
type StatusResponse struct {
	State     string            `json:"state"`
	Connected bool              `json:"connected"`
	Device    string            `json:"device"`
	Current   *scale.WeightData `json:"current,omitempty"`
	Stable    *scale.WeightData `json:"stable,omitempty"`
	Stats     session.Stats     `json:"stats"`
	LastError string            `json:"last_error,omitempty"`
}

// handleStatus returns the scale state, weights and session counters.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		State:     s.session.State().String(),
		Connected: s.session.IsConnected(),
		Device:    s.cfg.Serial.Device,
		Stats:     s.session.Stats(),
	}

	if current, ok := s.session.Current(); ok {
		resp.Current = &current
	}
	if stable, ok := s.session.StableWeight(); ok {
		resp.Stable = &stable
	}
	if err := s.session.LastError(); err != nil {
		resp.LastError = err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleConfig returns the full active configuration.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	writeJSON(w, http.StatusOK, s.cfg)
}

// handleSerialConfig applies a serial parameter edit. Rejected while a
// connection is open: the transport parameters are immutable on a live
// port. Accepted edits are persisted immediately.
func (s *Server) handleSerialConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.session.IsConnected() {
		writeError(w, http.StatusConflict, "disconnect before changing serial parameters")
		return
	}

	var edit config.SerialConfig
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := config.ValidateSerial(edit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	previous := s.cfg.Serial
	s.cfg.Serial = edit
	if err := s.cfg.Save(s.cfgPath); err != nil {
		s.cfg.Serial = previous
		s.logger.Error("Failed to persist serial config", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist configuration")
		return
	}

	s.logger.Info("Serial config updated",
		"device", edit.Device,
		"baud", edit.BaudRate,
		"parity", edit.Parity,
		"stop_bits", edit.StopBits)

	writeJSON(w, http.StatusOK, edit)
}

// handleConnect opens the scale connection. The read loop outlives the
// request, so it runs on the server context, not the request context.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.session.Connect(s.ctx); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"state":  s.session.State().String(),
		"device": s.cfg.Serial.Device,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.session.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{
		"state": s.session.State().String(),
	})
}

// handleMappings serves the PLU mapping table: GET lists, POST upserts,
// DELETE removes by ?ref=.
func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		mappings, err := s.store.ListMappings(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"mappings": mappings})

	case http.MethodPost:
		var m store.PLUMapping
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if m.DeviceRef == "" || m.ProductID == "" {
			writeError(w, http.StatusBadRequest, "device_ref and product_id are required")
			return
		}
		if m.UnitPrice.IsNegative() {
			writeError(w, http.StatusBadRequest, "unit_price must not be negative")
			return
		}
		if err := s.store.UpsertMapping(ctx, m); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, m)

	case http.MethodDelete:
		ref := r.URL.Query().Get("ref")
		if ref == "" {
			writeError(w, http.StatusBadRequest, "ref parameter required")
			return
		}
		if err := s.store.DeleteMapping(ctx, ref); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "mapping not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": ref})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleProducts serves the product catalog: GET lists, POST upserts.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		products, err := s.store.ListProducts(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})

	case http.MethodPost:
		var p store.Product
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if p.ID == "" || p.Name == "" {
			writeError(w, http.StatusBadRequest, "id and name are required")
			return
		}
		if p.UnitPrice.IsNegative() || p.Stock < 0 {
			writeError(w, http.StatusBadRequest, "unit_price and stock must not be negative")
			return
		}
		if err := s.store.AddProduct(ctx, p); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// CommitRequest selects the product for a sale commit. With a
// product_id the commit is manual; without one the device-reported
// reference on the stable reading is resolved through the mappings.
type CommitRequest struct {
	ProductID string `json:"product_id,omitempty"`
	Note      string `json:"note,omitempty"`
}

// handleSales lists recent sales on GET and commits the current stable
// weight on POST.
func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		count := 50
		if countStr := r.URL.Query().Get("count"); countStr != "" {
			if n, err := strconv.Atoi(countStr); err == nil && n > 0 {
				count = n
			}
		}
		if count > 200 {
			count = 200
		}
		sales, err := s.store.RecentSales(ctx, count)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sales": sales})

	case http.MethodPost:
		var req CommitRequest
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
				return
			}
		}

		stable, ok := s.session.StableWeight()
		if !ok {
			writeError(w, http.StatusConflict, sale.ErrNoStableWeight.Error())
			return
		}

		var product store.Product
		var err error
		if req.ProductID != "" {
			product, err = s.store.GetProduct(ctx, req.ProductID)
		} else {
			if stable.ProductRef == "" {
				writeError(w, http.StatusConflict, "reading carries no product reference")
				return
			}
			product, err = s.committer.Resolve(ctx, stable.ProductRef)
		}
		if err != nil {
			writeError(w, commitStatus(err), err.Error())
			return
		}

		rec, err := s.committer.Commit(ctx, stable, product, req.Note)
		if err != nil {
			writeError(w, commitStatus(err), err.Error())
			return
		}

		if s.txlog != nil {
			if err := s.txlog.AppendSale(rec, product.Name); err != nil {
				s.logger.Warn("Failed to append transaction log", "sale_id", rec.ID, "error", err)
			}
		}
		s.BroadcastSale(rec)
		if s.onSale != nil {
			s.onSale(rec, product.Name)
		}

		writeJSON(w, http.StatusCreated, rec)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// commitStatus maps resolution and commit failures to HTTP codes. Every
// recoverable error keeps the weight displayed; the client decides what
// to do next.
func commitStatus(err error) int {
	switch {
	case errors.Is(err, sale.ErrNoStableWeight):
		return http.StatusConflict
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, sale.ErrUnmappedReference):
		return http.StatusNotFound
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
