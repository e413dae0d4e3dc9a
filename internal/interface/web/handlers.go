package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/ibwt-market/settler/internal/core/application"
	"github.com/ibwt-market/settler/internal/core/domain"
)

type merchantRequest struct {
	Wallet     string `json:"wallet"`
	Name       string `json:"name"`
	WebhookURL string `json:"webhookUrl"`
}

type merchantResponse struct {
	Id            string `json:"id"`
	Wallet        string `json:"wallet"`
	Name          string `json:"name"`
	ApiKey        string `json:"apiKey"`
	WebhookURL    string `json:"webhookUrl,omitempty"`
	WebhookSecret string `json:"webhookSecret,omitempty"`
}

type paymentRequest struct {
	Amount   string            `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
	// TTLSeconds overrides the default expiry window when positive.
	TTLSeconds int64 `json:"ttlSeconds"`
}

type paymentResponse struct {
	Id          string            `json:"id"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Lamports    uint64            `json:"lamports"`
	Recipient   string            `json:"recipient"`
	PaymentURI  string            `json:"paymentUri"`
	Memo        string            `json:"memo"`
	Signature   string            `json:"signature,omitempty"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   int64             `json:"createdAt"`
	ExpiresAt   int64             `json:"expiresAt"`
	ConfirmedAt int64             `json:"confirmedAt,omitempty"`
}

type taskRequest struct {
	Requester string `json:"requester"`
	Request   string `json:"request"`
	Budget    uint64 `json:"budget"`
}

type taskResponse struct {
	Id               string `json:"id"`
	Requester        string `json:"requester"`
	Request          string `json:"request"`
	Budget           uint64 `json:"budget"`
	Status           string `json:"status"`
	AcceptedBidId    string `json:"acceptedBidId,omitempty"`
	LockSignature    string `json:"lockSignature,omitempty"`
	ApproveSignature string `json:"approveSignature,omitempty"`
	DeclineSignature string `json:"declineSignature,omitempty"`
	DeclineReason    string `json:"declineReason,omitempty"`
	ReviewDeadline   int64  `json:"reviewDeadline,omitempty"`
	CreatedAt        int64  `json:"createdAt"`
}

type bidRequest struct {
	AgentId string `json:"agentId"`
	Total   uint64 `json:"total"`
}

type bidResponse struct {
	Id        string `json:"id"`
	TaskId    string `json:"taskId"`
	AgentId   string `json:"agentId"`
	Total     uint64 `json:"total"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

type acceptBidRequest struct {
	BidId         string `json:"bidId"`
	LockSignature string `json:"lockSignature"`
}

type submitResultRequest struct {
	AgentId string `json:"agentId"`
	Outputs string `json:"outputs"`
}

type settleRequest struct {
	Signature string `json:"signature"`
	Reason    string `json:"reason"`
}

type buildTxRequest struct {
	BidId    string `json:"bidId"`
	Deadline int64  `json:"deadline"`
}

type builtTxResponse struct {
	UnsignedTx    string `json:"unsignedTx"`
	EscrowAddress string `json:"escrowAddress"`
}

type verifyRequest struct {
	Signature string `json:"signature"`
}

func (s *service) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":     "settlerd",
		"currency": application.NativeCurrency,
	})
}

func (s *service) registerMerchantHandler(c *gin.Context) {
	var req merchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, application.ValidationError{Reason: err.Error()})
		return
	}

	merchant, err := s.appSvc.RegisterMerchant(
		c.Request.Context(), req.Wallet, req.Name, req.WebhookURL,
	)
	if err != nil {
		abortWithError(c, err)
		return
	}
	// credentials are returned once, at registration
	c.JSON(http.StatusCreated, merchantResponse{
		Id:            merchant.Id,
		Wallet:        merchant.Wallet,
		Name:          merchant.Name,
		ApiKey:        merchant.ApiKey,
		WebhookURL:    merchant.WebhookURL,
		WebhookSecret: merchant.WebhookSecret,
	})
}

func (s *service) createPaymentHandler(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, application.ValidationError{Reason: err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		abortWithError(c, application.ValidationError{Reason: "invalid amount"})
		return
	}

	payment, err := s.appSvc.CreatePayment(
		c.Request.Context(), bearerToken(c), application.CreatePaymentRequest{
			Amount:   amount,
			Currency: req.Currency,
			Metadata: req.Metadata,
			TTL:      time.Duration(req.TTLSeconds) * time.Second,
		},
	)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPaymentResponse(payment))
}

func (s *service) getPaymentHandler(c *gin.Context) {
	payment, err := s.appSvc.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

func (s *service) paymentQrHandler(c *gin.Context) {
	payment, err := s.appSvc.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	png, err := qrcode.Encode(payment.PaymentURI, qrcode.Medium, 256)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *service) verifyPaymentHandler(c *gin.Context) {
	var req verifyRequest
	// the body is optional, verification without a signature rescans the
	// recipient's history
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, application.ValidationError{Reason: err.Error()})
			return
		}
	}

	payment, err := s.appSvc.VerifyPayment(
		c.Request.Context(), c.Param("id"), req.Signature,
	)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

func (s *service) reconcileHandler(c *gin.Context) {
	confirmations, err := s.appSvc.Reconcile(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":         len(confirmations),
		"confirmations": confirmations,
	})
}

func (s *service) createTaskHandler(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, application.ValidationError{Reason: err.Error()})
		return
	}

	task, err := s.appSvc.CreateTask(
		c.Request.Context(), req.Requester, req.Request, req.Budget,
	)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTaskResponse(task))
}

func (s *service) getTaskHandler(c *gin.Context) {
	task, err := s.appSvc.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

func (s *service) placeBidHandler(c *gin.Context) {
	var req bidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, application.ValidationError{Reason: err.Error()})
		return
	}

	bid, err := s.appSvc.PlaceBid(
		c.Request.Context(), c.Param("id"), req.AgentId, req.Total,
	)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toBidResponse(bid))
}

func (s *service) getBidsHandler(c *gin.Context) {
	bids, err := s.appSvc.GetBidsForTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := make([]bidResponse, 0, len(bids))
	for i := range bids {
		resp = append(resp, toBidResponse(&bids[i]))
	}
	c.JSON(http.StatusOK, gin.H{"bids": resp})
}

func (s *service) acceptBidHandler(c *gin.Context) {
	var req acceptBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, application.ValidationError{Reason: err.Error()})
		return
	}

	task, err := s.appSvc.AcceptBid(
		c.Request.Context(), c.Param("id"), req.BidId, req.LockSignature,
	)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

func (s *service) submitResultHandler(c *gin.Context) {
	var req submitResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, application.ValidationError{Reason: err.Error()})
		return
	}

	task, err := s.appSvc.SubmitResult(
		c.Request.Context(), c.Param("id"), req.AgentId, req.Outputs,
	)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

func (s *service) approveTaskHandler(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, application.ValidationError{Reason: err.Error()})
		return
	}

	task, err := s.appSvc.ApproveTask(c.Request.Context(), c.Param("id"), req.Signature)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

func (s *service) declineTaskHandler(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, application.ValidationError{Reason: err.Error()})
		return
	}

	task, err := s.appSvc.DeclineTask(
		c.Request.Context(), c.Param("id"), req.Signature, req.Reason,
	)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

func (s *service) buildLockTxHandler(c *gin.Context) {
	var req buildTxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, application.ValidationError{Reason: err.Error()})
		return
	}

	tx, err := s.appSvc.BuildLockTransaction(
		c.Request.Context(), c.Param("id"), req.BidId, req.Deadline,
	)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, builtTxResponse{tx.UnsignedTx, tx.EscrowAddress})
}

func (s *service) buildApproveTxHandler(c *gin.Context) {
	tx, err := s.appSvc.BuildApproveTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, builtTxResponse{tx.UnsignedTx, tx.EscrowAddress})
}

func (s *service) buildDeclineTxHandler(c *gin.Context) {
	tx, err := s.appSvc.BuildDeclineTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, builtTxResponse{tx.UnsignedTx, tx.EscrowAddress})
}

func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var validationErr application.ValidationError
	var authErr application.AuthError
	var notFoundErr application.NotFoundError
	var upstreamErr application.UpstreamError

	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
	case errors.As(err, &notFoundErr), errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.As(err, &upstreamErr):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func toPaymentResponse(payment *domain.Payment) paymentResponse {
	return paymentResponse{
		Id:          payment.Id,
		Amount:      payment.FiatAmount.String(),
		Currency:    payment.FiatCurrency,
		Lamports:    payment.Lamports,
		Recipient:   payment.Recipient,
		PaymentURI:  payment.PaymentURI,
		Memo:        payment.Memo,
		Signature:   payment.Signature,
		Status:      payment.Status.String(),
		Metadata:    payment.Metadata,
		CreatedAt:   payment.CreatedAt,
		ExpiresAt:   payment.ExpiresAt,
		ConfirmedAt: payment.ConfirmedAt,
	}
}

func toTaskResponse(task *domain.Task) taskResponse {
	return taskResponse{
		Id:               task.Id,
		Requester:        task.Requester,
		Request:          task.Request,
		Budget:           task.Budget,
		Status:           task.Status.String(),
		AcceptedBidId:    task.AcceptedBidId,
		LockSignature:    task.LockSignature,
		ApproveSignature: task.ApproveSignature,
		DeclineSignature: task.DeclineSignature,
		DeclineReason:    task.DeclineReason,
		ReviewDeadline:   task.ReviewDeadline,
		CreatedAt:        task.CreatedAt,
	}
}

func toBidResponse(bid *domain.Bid) bidResponse {
	return bidResponse{
		Id:        bid.Id,
		TaskId:    bid.TaskId,
		AgentId:   bid.AgentId,
		Total:     bid.Total,
		Status:    bid.Status.String(),
		CreatedAt: bid.CreatedAt,
	}
}
