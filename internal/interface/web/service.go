package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/ibwt-market/settler/internal/core/application"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

type service struct {
	*gin.Engine
	appSvc     application.Service
	adminToken string
	server     *http.Server
}

func NewService(
	port uint32, adminToken string, appSvc application.Service,
) (*service, error) {
	if len(adminToken) <= 0 {
		return nil, fmt.Errorf("missing admin token")
	}

	router := gin.New()
	router.Use(gin.Recovery())

	svc := &service{
		Engine:     router,
		appSvc:     appSvc,
		adminToken: adminToken,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
	}

	v1 := svc.Group("/v1")
	v1.GET("/info", svc.infoHandler)
	v1.POST("/merchants", svc.registerMerchantHandler)

	v1.POST("/payments", svc.createPaymentHandler)
	v1.GET("/payments/:id", svc.getPaymentHandler)
	v1.GET("/payments/:id/qr", svc.paymentQrHandler)
	v1.POST("/payments/:id/verify", svc.verifyPaymentHandler)

	v1.POST("/tasks", svc.createTaskHandler)
	v1.GET("/tasks/:id", svc.getTaskHandler)
	v1.POST("/tasks/:id/bids", svc.placeBidHandler)
	v1.GET("/tasks/:id/bids", svc.getBidsHandler)
	v1.POST("/tasks/:id/accept-bid", svc.acceptBidHandler)
	v1.POST("/tasks/:id/submit-result", svc.submitResultHandler)
	v1.POST("/tasks/:id/approve", svc.approveTaskHandler)
	v1.POST("/tasks/:id/decline", svc.declineTaskHandler)
	v1.POST("/tasks/:id/lock-tx", svc.buildLockTxHandler)
	v1.POST("/tasks/:id/approve-tx", svc.buildApproveTxHandler)
	v1.POST("/tasks/:id/decline-tx", svc.buildDeclineTxHandler)

	admin := v1.Group("/", svc.requireAdminToken)
	admin.POST("/reconcile", svc.reconcileHandler)
	admin.GET("/reconcile", svc.reconcileHandler)

	return svc, nil
}

func (s *service) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("web interface exited")
		}
	}()
	log.Infof("web interface listening on %s", s.server.Addr)
	return nil
}

func (s *service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// nolint:errcheck
	s.server.Shutdown(ctx)
	log.Debug("stopped web interface")
}

func (s *service) requireAdminToken(c *gin.Context) {
	if bearerToken(c) != s.adminToken {
		c.AbortWithStatusJSON(
			http.StatusUnauthorized, gin.H{"error": "invalid admin token"},
		)
		return
	}
	c.Next()
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}
