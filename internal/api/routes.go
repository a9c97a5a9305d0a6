package api

import (
	"context"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rawblock/keysweep/internal/db"
	"github.com/rawblock/keysweep/internal/feerate"
	"github.com/rawblock/keysweep/internal/keys"
	"github.com/rawblock/keysweep/internal/oracle"
	"github.com/rawblock/keysweep/internal/registry"
	"github.com/rawblock/keysweep/internal/scanner"
	"github.com/rawblock/keysweep/internal/txbuilder"
	"github.com/rawblock/keysweep/pkg/models"
)

// SessionOracle is what one scan session needs from its oracle
// connection: the scanner's history/unspent capability plus the optional
// fee-estimate and broadcast calls. *oracle.Client satisfies it.
type SessionOracle interface {
	oracle.HistoryOracle
	EstimateFee(targetBlocks int) (int64, error)
	Broadcast(rawTxHex string) (string, error)
	Close() error
}

// OracleDialer opens a fresh oracle connection for one scan session. Each
// session owns its connection for the duration of the scan.
type OracleDialer func() (SessionOracle, error)

// ScanRequest starts one scan session. The key is held in memory only for
// the lifetime of the scan; it is never logged, persisted, or echoed back.
type ScanRequest struct {
	Key        string `json:"key" binding:"required"`
	AddressGap uint32 `json:"addressGap"`
	AccountGap uint32 `json:"accountGap"`
	BatchSize  int    `json:"batchSize"`

	// Optional sweep: when Address is set, a successful scan is followed
	// by building (and, if Broadcast is set, submitting) the sweep
	// transaction. FeeRate falls back to the oracle's estimate when 0.
	Address   string `json:"address,omitempty"`
	FeeRate   int64  `json:"feeRate,omitempty"`
	Broadcast bool   `json:"broadcast,omitempty"`
}

// session pairs the persisted-shape record with the live scanner so the
// status endpoint can report progress mid-scan.
type session struct {
	mu      sync.Mutex
	record  models.ScanSession
	scanner *scanner.Scanner

	rawTxHex      string
	broadcastTxid string
}

func (s *session) snapshot() gin.H {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := gin.H{"session": s.record}
	if s.scanner != nil {
		out["progress"] = s.scanner.Progress()
	}
	if s.rawTxHex != "" {
		out["rawTx"] = s.rawTxHex
	}
	if s.broadcastTxid != "" {
		out["broadcastTxid"] = s.broadcastTxid
	}
	return out
}

type APIHandler struct {
	dbStore    *db.PostgresStore
	wsHub      *Hub
	dialOracle OracleDialer

	sessionsMu sync.Mutex
	sessions   map[string]*session
}

func SetupRouter(dbStore *db.PostgresStore, wsHub *Hub, dialOracle OracleDialer) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://ops.example.net
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore:    dbStore,
		wsHub:      wsHub,
		dialOracle: dialOracle,
		sessions:   make(map[string]*session),
	}

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
	}

	// ── Protected endpoints (require bearer token if API_AUTH_TOKEN set) ──
	auth := r.Group("/api/v1")
	auth.Use(BearerAuth(os.Getenv("API_AUTH_TOKEN")))
	// Rate-limit protected endpoints to 10 req/min per IP (burst=3). A
	// scan fans out into thousands of oracle probes, so admission here is
	// the cheap place to bound the load.
	auth.Use(NewRateLimiter(10, 3).Middleware())
	{
		auth.POST("/scans", handler.handleCreateScan)
		auth.GET("/scans", handler.handleListScans)
		auth.GET("/scans/:id", handler.handleGetScan)
	}

	return r
}

// handleHealth returns engine status for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	h.sessionsMu.Lock()
	active := len(h.sessions)
	h.sessionsMu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"status":         "operational",
		"engine":         "keysweep",
		"templates":      len(registry.Default()),
		"activeSessions": active,
		"dbConnected":    h.dbStore != nil,
	})
}

// handleCreateScan validates the request, registers a session, and runs
// the scan (and optional sweep) in the background. The response carries
// only the session id; progress streams over the WebSocket and the final
// state is read back from GET /scans/:id.
func (h *APIHandler) handleCreateScan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {key, addressGap, accountGap, ...}"})
		return
	}

	masterKey, err := keys.Parse(req.Key)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Key is neither a mnemonic, xprv, nor xpub"})
		return
	}
	if req.Address != "" && !masterKey.HasPrivateKey() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Sweeping requires a private master key (xprv or mnemonic)"})
		return
	}
	if req.AddressGap == 0 {
		req.AddressGap = 20
	}
	if req.BatchSize == 0 {
		req.BatchSize = scanner.MaxBatchSize
	}
	if req.FeeRate != 0 {
		if err := feerate.Sanity(float64(req.FeeRate)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	sess := &session{
		record: models.ScanSession{
			ID:         uuid.NewString(),
			Status:     "running",
			AddressGap: int(req.AddressGap),
			AccountGap: int(req.AccountGap),
			StartedAt:  time.Now().Unix(),
		},
	}
	h.sessionsMu.Lock()
	h.sessions[sess.record.ID] = sess
	h.sessionsMu.Unlock()

	go h.runSession(sess, masterKey, req)

	c.JSON(http.StatusAccepted, gin.H{"id": sess.record.ID, "status": "running"})
}

func (h *APIHandler) runSession(sess *session, masterKey *keys.MasterKey, req ScanRequest) {
	id := sess.record.ID

	conn, err := h.dialOracle()
	if err != nil {
		h.finishSession(sess, nil, err)
		return
	}
	defer conn.Close()

	s := scanner.New(conn, registry.Default(), req.AddressGap, req.AccountGap, req.BatchSize, h.sessionEvents(id))
	sess.mu.Lock()
	sess.scanner = s
	sess.mu.Unlock()

	utxos, err := s.Scan(masterKey)

	sess.mu.Lock()
	sess.record.Coverage = s.Coverage()
	sess.mu.Unlock()

	if err != nil {
		h.finishSession(sess, nil, err)
		return
	}

	if req.Address != "" && len(utxos) > 0 {
		if err := h.sweepSession(sess, conn, masterKey, utxos, req); err != nil {
			h.finishSession(sess, utxos, err)
			return
		}
	}

	h.finishSession(sess, utxos, nil)
}

// sweepSession prices and signs the sweep for a completed scan, and
// broadcasts it when asked to.
func (h *APIHandler) sweepSession(sess *session, conn SessionOracle, masterKey *keys.MasterKey, utxos []models.Utxo, req ScanRequest) error {
	rate := req.FeeRate
	if rate == 0 {
		estimated, err := conn.EstimateFee(1)
		if err != nil {
			return err
		}
		rate = estimated
	}
	if err := feerate.Sanity(float64(rate)); err != nil {
		return err
	}
	log.Printf("[Sweep] session=%s fee rate %d sat/vB (%s)", sess.record.ID, rate, feerate.Classify(float64(rate)))

	_, raw, err := txbuilder.SweepAll(masterKey, utxos, req.Address, rate)
	if err != nil {
		return err
	}
	rawHex := hex.EncodeToString(raw)

	sess.mu.Lock()
	sess.rawTxHex = rawHex
	sess.mu.Unlock()

	if !req.Broadcast {
		return nil
	}
	txid, err := conn.Broadcast(rawHex)
	if err != nil {
		return err
	}
	log.Printf("[Sweep] session=%s broadcast txid=%s", sess.record.ID, txid)
	sess.mu.Lock()
	sess.broadcastTxid = txid
	sess.mu.Unlock()
	return nil
}

func (h *APIHandler) finishSession(sess *session, utxos []models.Utxo, err error) {
	sess.mu.Lock()
	sess.record.CompletedAt = time.Now().Unix()
	sess.record.Utxos = utxos
	if err != nil {
		sess.record.Status = "failed"
		sess.record.Error = err.Error()
	} else {
		sess.record.Status = "completed"
	}
	record := sess.record
	sess.mu.Unlock()

	if err != nil {
		log.Printf("[Scan] session=%s failed: %v", record.ID, err)
	} else {
		log.Printf("[Scan] session=%s completed with %d UTXOs", record.ID, len(record.Utxos))
	}

	h.broadcastEvent(models.ScanEvent{
		Type:      "scan_" + record.Status,
		SessionID: record.ID,
		Message:   record.Error,
	})

	if h.dbStore != nil {
		if dbErr := h.dbStore.SaveScanSession(context.Background(), record); dbErr != nil {
			log.Printf("[Scan] session=%s audit-log write failed: %v", record.ID, dbErr)
		}
	}
}

// sessionEvents adapts the scanner's callback into WebSocket broadcasts.
func (h *APIHandler) sessionEvents(sessionID string) scanner.EventFunc {
	return func(d *scanner.UsedDescriptor, u *scanner.UtxoFound) {
		ev := models.ScanEvent{SessionID: sessionID}
		switch {
		case d != nil:
			ev.Type = "descriptor_used"
			ev.Message = d.Path + " (" + d.ScriptType + ")"
		case u != nil:
			ev.Type = "utxo_found"
			ev.Utxo = &models.Utxo{
				Txid:        u.Txid,
				OutputIndex: u.OutputIndex,
				AmountSat:   u.AmountSat,
				Path:        u.Path,
			}
		default:
			return
		}
		h.broadcastEvent(ev)
	}
}

func (h *APIHandler) broadcastEvent(ev models.ScanEvent) {
	if h.wsHub == nil {
		return
	}
	h.wsHub.Broadcast(ev)
}

// handleGetScan returns one session's current state: the in-memory live
// view when the session is still known to this process, else the audit
// record if a database is connected.
func (h *APIHandler) handleGetScan(c *gin.Context) {
	id := c.Param("id")

	h.sessionsMu.Lock()
	sess, ok := h.sessions[id]
	h.sessionsMu.Unlock()
	if ok {
		c.JSON(http.StatusOK, sess.snapshot())
		return
	}

	if h.dbStore != nil {
		record, err := h.dbStore.GetScanSession(c.Request.Context(), id)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"session": record})
			return
		}
		if !errors.Is(err, context.Canceled) {
			log.Printf("[Scan] session=%s audit-log read failed: %v", id, err)
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "Unknown scan session"})
}

// handleListScans returns recent sessions from the audit log, falling
// back to this process's in-memory sessions when no database is
// connected.
func (h *APIHandler) handleListScans(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if h.dbStore != nil {
		sessions, err := h.dbStore.ListScanSessions(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list scan sessions", "details": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": sessions, "count": len(sessions)})
		return
	}

	h.sessionsMu.Lock()
	records := make([]models.ScanSession, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sess.mu.Lock()
		records = append(records, sess.record)
		sess.mu.Unlock()
	}
	h.sessionsMu.Unlock()

	c.JSON(http.StatusOK, gin.H{"data": records, "count": len(records)})
}
