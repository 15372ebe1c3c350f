package httpapi

import (
	"encoding/json"
	"net/http"

	"snapearn-rewardcore/internal/config"
	"snapearn-rewardcore/pkg/errutil"
	"snapearn-rewardcore/services/job"
	"snapearn-rewardcore/services/ledger"
	"snapearn-rewardcore/services/policy"
	"snapearn-rewardcore/services/receipt"
	"snapearn-rewardcore/services/referral"
	"snapearn-rewardcore/services/signature"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	cfg        *config.Config
	db         *gorm.DB
	rdb        *redis.Client
	gate       *signature.Gate
	receipts   *receipt.Service
	qualifier  *referral.Qualifier
	queue      *job.Queue
	dispatcher *job.Dispatcher
	ledger     *ledger.Service
}

type HandlerParams struct {
	fx.In
	Cfg        *config.Config
	DB         *gorm.DB
	RDB        *redis.Client `optional:"true"`
	Gate       *signature.Gate
	Receipts   *receipt.Service
	Qualifier  *referral.Qualifier
	Queue      *job.Queue
	Dispatcher *job.Dispatcher
	Ledger     *ledger.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		cfg:        p.Cfg,
		db:         p.DB,
		rdb:        p.RDB,
		gate:       p.Gate,
		receipts:   p.Receipts,
		qualifier:  p.Qualifier,
		queue:      p.Queue,
		dispatcher: p.Dispatcher,
		ledger:     p.Ledger,
	}
}

// OCRWebhook handles the OCR-completion callback. The raw body is verified
// against the signature header before any JSON decoding happens, so
// attacker-shaped content is never parsed.
func (h *Handler) OCRWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.Error(errutil.BadRequest("failed to read request body", err))
		return
	}

	if err := h.gate.Verify(body, c.GetHeader(signature.Header)); err != nil {
		c.Error(err)
		return
	}

	var ev receipt.VerifiedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.Error(errutil.BadRequest("malformed webhook body", err))
		return
	}

	rec, err := h.receipts.Process(c.Request.Context(), &ev)
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.qualifier.OnReceiptVerified(c.Request.Context(), rec.UserID); err != nil {
		// The receipt is durably recorded; qualification retries on the next
		// verified receipt only, so surface the failure to the caller.
		c.Error(errutil.Internal("referral qualification failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"receipt_id": rec.ID,
		"status":     rec.Status,
	})
}

type signupEvent struct {
	UserID         string `json:"user_id"`
	ReferralCode   string `json:"referral_code,omitempty"`
	ReferrerUserID string `json:"referrer_user_id,omitempty"`
}

// SignupWebhook handles the account-signup callback: it enqueues the signup
// bonus job and, when a referral code rode along, records the pending referral.
// The caller gets 200 once the trigger is durably recorded, not when the credit
// lands.
func (h *Handler) SignupWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.Error(errutil.BadRequest("failed to read request body", err))
		return
	}

	if err := h.gate.Verify(body, c.GetHeader(signature.Header)); err != nil {
		c.Error(err)
		return
	}

	var ev signupEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.Error(errutil.BadRequest("malformed signup body", err))
		return
	}
	if ev.UserID == "" {
		c.Error(errutil.ValidationFailed("user_id is required", nil))
		return
	}

	j, err := h.queue.Enqueue(c.Request.Context(), policy.JobSignupBonus, ev.UserID,
		policy.SignupPayload{ReferenceKey: ev.UserID})
	if err != nil {
		c.Error(errutil.Internal("failed to enqueue signup bonus", err))
		return
	}

	if ev.ReferralCode != "" {
		if _, err := h.qualifier.Track(c.Request.Context(), ev.ReferralCode, ev.ReferrerUserID, ev.UserID); err != nil {
			c.Error(errutil.Internal("failed to record referral", err))
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "enqueued", "job_id": j.ID})
}

// RunJobs executes one dispatch pass and reports how many jobs it processed.
// Safe to invoke redundantly or concurrently.
func (h *Handler) RunJobs(c *gin.Context) {
	processed, err := h.dispatcher.RunOnce(c.Request.Context())
	if err != nil {
		c.Error(errutil.Internal("dispatch pass failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

type recoverRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	JobType string `json:"job_type" binding:"required"`
	RunNow  bool   `json:"run_now"`
}

// RecoverReward re-issues a missed automatic reward. When the ledger already
// holds the entry the call is a no-op reporting already_issued.
func (h *Handler) RecoverReward(c *gin.Context) {
	var req recoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("malformed recovery request", err))
		return
	}

	var source, referenceKey string
	var payload any
	switch req.JobType {
	case policy.JobSignupBonus:
		source = ledger.SourceWaitlistSignup
		referenceKey = req.UserID
		payload = policy.SignupPayload{ReferenceKey: req.UserID}
	default:
		c.Error(errutil.ValidationFailed("unsupported job_type for recovery", nil))
		return
	}

	issued, err := h.ledger.HasEntry(c.Request.Context(), req.UserID, source, referenceKey)
	if err != nil {
		c.Error(errutil.Internal("failed to check ledger", err))
		return
	}
	if issued {
		c.JSON(http.StatusOK, gin.H{"status": "already_issued"})
		return
	}

	j, err := h.queue.Enqueue(c.Request.Context(), req.JobType, req.UserID, payload)
	if err != nil {
		c.Error(errutil.Internal("failed to enqueue recovery job", err))
		return
	}

	zap.L().Info("manual reward recovery enqueued",
		zap.String("user_id", req.UserID),
		zap.String("job_type", req.JobType),
		zap.String("job_id", j.ID),
	)

	resp := gin.H{"status": "enqueued", "job_id": j.ID}
	if req.RunNow {
		processed, err := h.dispatcher.RunOnce(c.Request.Context())
		if err != nil {
			c.Error(errutil.Internal("recovery dispatch pass failed", err))
			return
		}
		resp["status"] = "processed"
		resp["processed"] = processed
	}

	c.JSON(http.StatusOK, resp)
}

// Healthz pings the backing store. A dead Redis only degrades dispatch latency,
// so it is reported but never fails the check.
func (h *Handler) Healthz(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}

	resp := gin.H{"status": "ok"}
	if h.rdb != nil {
		if err := h.rdb.Ping(c.Request.Context()).Err(); err != nil {
			resp["redis"] = "unreachable"
		} else {
			resp["redis"] = "ok"
		}
	}

	c.JSON(http.StatusOK, resp)
}
