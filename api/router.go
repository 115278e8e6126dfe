package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/n0rdy/qakka/common"
	"github.com/n0rdy/qakka/configs"
	"github.com/n0rdy/qakka/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type Router struct {
	queueService      *services.DistributedQueueService
	monitoringService *services.MonitoringService
	metricsHandler    http.Handler // nil if metrics are disabled
	appConfigs        *configs.AppConfigs
	authSecret        string
}

func NewRouter(
	queueService *services.DistributedQueueService,
	monitoringService *services.MonitoringService,
	metricsHandler http.Handler,
	appConfigs *configs.AppConfigs,
	authSecret string,
) *Router {
	return &Router{
		queueService:      queueService,
		monitoringService: monitoringService,
		metricsHandler:    metricsHandler,
		appConfigs:        appConfigs,
		authSecret:        authSecret,
	}
}

func (ar *Router) NewRouter() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger)

	router.Get("/healthcheck", ar.healthcheck)
	if ar.metricsHandler != nil {
		router.Handle("/metrics", ar.metricsHandler)
	}

	router.Route("/api/v1", func(r chi.Router) {
		if ar.appConfigs.ServerConfig.RateLimit.RequestsPerSecond > 0 {
			r.Use(middleware.RealIP)
			r.Use(clientRateLimit(ar.appConfigs.ServerConfig.RateLimit))
		}
		r.Use(apiKeyTokenAuth(ar.authSecret))

		r.Route("/queues", func(r chi.Router) {
			r.Post("/", ar.createQueue)
			r.Get("/", ar.listQueues)

			r.Route("/{queue}", func(r chi.Router) {
				r.Get("/", ar.getQueue)
				r.Put("/", ar.updateQueue)
				r.Delete("/", ar.deleteQueue)
				r.Get("/depth", ar.getQueueDepth)

				r.Route("/messages", func(r chi.Router) {
					r.Post("/", ar.sendMessages)
					r.Get("/", ar.fetchMessages)
					r.Delete("/", ar.clearMessages)

					r.Route("/{queueMessageId}", func(r chi.Router) {
						r.Post("/ack", ar.ackMessage)
						r.Post("/requeue", ar.requeueMessage)
					})
				})

				r.Get("/data/{messageId}", ar.getMessageData)
				r.Put("/data/{messageId}", ar.putMessageData)
			})
		})

		r.Get("/messages/{messageId}/audit", ar.getAuditLog)
		r.Get("/transfers", ar.listTransfers)
	})

	return router
}

func (ar *Router) createQueue(w http.ResponseWriter, req *http.Request) {
	var newQueue common.NewQueueRequest
	if !ar.decodeBody(w, req, &newQueue) {
		return
	}

	queue, err := ar.queueService.CreateQueue(req.Context(), ar.toQueue(newQueue))
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendJsonResponse(w, http.StatusCreated, queue)
}

func (ar *Router) toQueue(nq common.NewQueueRequest) common.Queue {
	retryCount := ar.appConfigs.QueueDefaults.RetryCount
	if nq.RetryCount != nil {
		retryCount = *nq.RetryCount
	}
	return common.Queue{
		Name:                nq.Name,
		Type:                nq.Type,
		Regions:             nq.Regions,
		DefaultDestinations: nq.DefaultDestinations,
		DefaultDelayMs:      nq.DefaultDelayMs,
		RetryCount:          retryCount,
		HandlingTimeoutMs:   nq.HandlingTimeoutMs,
		DeadLetterQueue:     nq.DeadLetterQueue,
	}
}

func (ar *Router) listQueues(w http.ResponseWriter, req *http.Request) {
	queues, err := ar.queueService.ListQueues(req.Context())
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	if queues == nil {
		queues = []common.Queue{}
	}
	ar.sendJsonResponse(w, http.StatusOK, common.QueuesResponse{Queues: queues})
}

func (ar *Router) getQueue(w http.ResponseWriter, req *http.Request) {
	queue, err := ar.queueService.GetQueue(req.Context(), chi.URLParam(req, "queue"))
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendJsonResponse(w, http.StatusOK, queue)
}

func (ar *Router) updateQueue(w http.ResponseWriter, req *http.Request) {
	var update common.NewQueueRequest
	if !ar.decodeBody(w, req, &update) {
		return
	}

	queue := ar.toQueue(update)
	queue.Name = chi.URLParam(req, "queue")

	updated, err := ar.queueService.UpdateQueue(req.Context(), queue)
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendJsonResponse(w, http.StatusOK, updated)
}

func (ar *Router) deleteQueue(w http.ResponseWriter, req *http.Request) {
	err := ar.queueService.DeleteQueue(req.Context(), chi.URLParam(req, "queue"))
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendNoContentEmptyResponse(w)
}

func (ar *Router) getQueueDepth(w http.ResponseWriter, req *http.Request) {
	queueName := chi.URLParam(req, "queue")

	available, err := ar.queueService.GetQueueDepth(req.Context(), queueName, common.MessageTypeDefault)
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	inflight, err := ar.queueService.GetQueueDepth(req.Context(), queueName, common.MessageTypeInflight)
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendJsonResponse(w, http.StatusOK, common.QueueDepth{
		QueueName: queueName,
		Available: available,
		Inflight:  inflight,
	})
}

func (ar *Router) sendMessages(w http.ResponseWriter, req *http.Request) {
	var newMessages common.NewMessagesRequest
	if !ar.decodeBody(w, req, &newMessages) {
		return
	}

	messageID, err := ar.queueService.SendMessages(req.Context(), common.SendMessagesRequest{
		QueueName:          chi.URLParam(req, "queue"),
		DestinationRegions: newMessages.Regions,
		DelayMs:            newMessages.DelayMs,
		ExpirationSecs:     newMessages.ExpirationSecs,
		ContentType:        newMessages.ContentType,
		Data:               newMessages.Data,
	})
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendJsonResponse(w, http.StatusCreated, common.NewMessagesResponse{MessageID: messageID})
}

// fetchMessages long-polls by default. ?wait_ms=0 turns it into a single attempt.
func (ar *Router) fetchMessages(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()

	count := 1
	if v := query.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			ar.sendErrorResponse(w, http.StatusBadRequest, common.ErrCodeBadRequestInvalidBody)
			return
		}
		count = n
	}

	waitMs := ar.appConfigs.QueueDefaults.LongPollDurationMs
	if v := query.Get("wait_ms"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			ar.sendErrorResponse(w, http.StatusBadRequest, common.ErrCodeBadRequestInvalidBody)
			return
		}
		waitMs = n
	}

	messages, err := ar.queueService.FetchMessages(req.Context(), chi.URLParam(req, "queue"), count, time.Duration(waitMs)*time.Millisecond)
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	if len(messages) == 0 {
		ar.sendNoContentEmptyResponse(w)
		return
	}
	ar.sendJsonResponse(w, http.StatusOK, common.MessagesResponse{Messages: messages})
}

func (ar *Router) clearMessages(w http.ResponseWriter, req *http.Request) {
	err := ar.queueService.ClearMessages(req.Context(), chi.URLParam(req, "queue"))
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendNoContentEmptyResponse(w)
}

func (ar *Router) ackMessage(w http.ResponseWriter, req *http.Request) {
	queueMessageID := chi.URLParam(req, "queueMessageId")
	queueName := chi.URLParam(req, "queue")

	err := ar.queueService.AckMessage(req.Context(), queueName, queueMessageID)
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendNoContentEmptyResponse(w)
}

func (ar *Router) requeueMessage(w http.ResponseWriter, req *http.Request) {
	queueMessageID := chi.URLParam(req, "queueMessageId")
	queueName := chi.URLParam(req, "queue")

	// the body is optional
	var requeue common.RequeueMessageRequest
	if req.ContentLength != 0 {
		if !ar.decodeBody(w, req, &requeue) {
			return
		}
	}

	err := ar.queueService.RequeueMessage(req.Context(), queueName, queueMessageID, requeue.DelayMs)
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendNoContentEmptyResponse(w)
}

func (ar *Router) getMessageData(w http.ResponseWriter, req *http.Request) {
	data, contentType, err := ar.queueService.GetMessageData(req.Context(), chi.URLParam(req, "queue"), chi.URLParam(req, "messageId"))
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (ar *Router) putMessageData(w http.ResponseWriter, req *http.Request) {
	maxBytes := int64(ar.appConfigs.QueueDefaults.MessageContentMaxSizeBytes)
	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ar.sendErrorResponse(w, http.StatusBadRequest, common.ErrCodeBadRequestContentExceedsLimit)
			return
		}
		log.Error().Err(err).Msg("Failed to read request body")
		ar.sendErrorResponse(w, http.StatusBadRequest, common.ErrCodeBadRequestInvalidBody)
		return
	}

	err = ar.queueService.PutMessageData(req.Context(), chi.URLParam(req, "queue"), chi.URLParam(req, "messageId"), data)
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendNoContentEmptyResponse(w)
}

func (ar *Router) getAuditLog(w http.ResponseWriter, req *http.Request) {
	entries, err := ar.queueService.GetAuditLog(req.Context(), chi.URLParam(req, "messageId"))
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendJsonResponse(w, http.StatusOK, common.AuditLogResponse{Entries: entries})
}

func (ar *Router) listTransfers(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()

	limit := 0
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			ar.sendErrorResponse(w, http.StatusBadRequest, common.ErrCodeBadRequestInvalidBody)
			return
		}
		limit = n
	}

	transfers, err := ar.queueService.ListTransfers(req.Context(), query.Get("queue"), limit)
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendJsonResponse(w, http.StatusOK, common.TransfersResponse{Transfers: transfers})
}

func (ar *Router) healthcheck(w http.ResponseWriter, req *http.Request) {
	if !ar.monitoringService.IsHealthy(req.Context()) {
		ar.sendErrorResponse(w, http.StatusServiceUnavailable, common.ErrCodeUnavailableStore)
		return
	}
	ar.sendNoContentEmptyResponse(w)
}

func (ar *Router) decodeBody(w http.ResponseWriter, req *http.Request, dst any) bool {
	err := json.NewDecoder(req.Body).Decode(dst)
	if err != nil {
		log.Error().Err(err).Msg("Failed to decode request body")
		ar.sendErrorResponse(w, http.StatusBadRequest, common.ErrCodeBadRequestInvalidBody)
		return false
	}
	return true
}

func (ar *Router) sendNoContentEmptyResponse(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func (ar *Router) sendJsonResponse(w http.ResponseWriter, httpCode int, payload interface{}) {
	respBody, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling response body")
		ar.sendErrorResponse(w, http.StatusInternalServerError, common.ErrCodeInternal)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	w.Write(respBody)
}

func (ar *Router) sendErrorResponse(w http.ResponseWriter, httpCode int, errCode string) {
	ar.sendJsonResponse(w, httpCode, common.ErrorResponse{Code: errCode})
}

func (ar *Router) sendResponseFromError(w http.ResponseWriter, err error) {
	var qe common.QakkaError
	if errors.As(err, &qe) {
		ar.sendErrorResponse(w, statusFromErrorCode(qe.Code), qe.Code)
		return
	}
	if errors.Is(err, context.Canceled) {
		// the client is gone, nobody reads the response
		return
	}
	log.Error().Err(err).Msg("Unexpected error")
	ar.sendErrorResponse(w, http.StatusInternalServerError, common.ErrCodeInternal)
}

// statusFromErrorCode maps the category of an error code (the part before the first dot) to an HTTP status.
func statusFromErrorCode(code string) int {
	category, _, _ := strings.Cut(code, ".")
	switch category {
	case "bad_request":
		return http.StatusBadRequest
	case "unauthorized":
		return http.StatusUnauthorized
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	case "too_many_requests":
		return http.StatusTooManyRequests
	case "unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
