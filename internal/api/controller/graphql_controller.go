package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/bassista/go_learn/internal/cache"
	"github.com/bassista/go_learn/internal/client"
	"github.com/bassista/go_learn/internal/link"
	"github.com/bassista/go_learn/internal/logger"
	"github.com/bassista/go_learn/internal/operation"
	"github.com/gin-gonic/gin"
)

// Operations runs one-shot operations through the facade.
type Operations interface {
	Query(ctx context.Context, op *operation.Operation, opts ...client.QueryOption) (*client.Result, error)
	Mutate(ctx context.Context, op *operation.Operation) (*client.Result, error)
}

// OperationRequest is the body of POST /graphql/query.
type OperationRequest struct {
	Query         string         `json:"query" binding:"required"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
	FetchPolicy   string         `json:"fetchPolicy"`
}

// GraphQLController lets shell pages run queries and mutations with the
// facade's cache and session handling. Subscriptions need the streaming
// channel and are rejected.
type GraphQLController struct {
	ops Operations
}

func NewGraphQLController(ops Operations) *GraphQLController {
	return &GraphQLController{ops: ops}
}

// Execute handles POST /graphql/query. Application errors come back with
// status 200 next to whatever data the server produced.
func (gc *GraphQLController) Execute(c *gin.Context) {
	log := logger.WithComponent("graphql-controller")

	var req OperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	op, err := operation.New(req.Query, req.Variables, req.OperationName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var opts []client.QueryOption
	if req.FetchPolicy != "" {
		policy, err := client.ParseFetchPolicy(req.FetchPolicy)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts = append(opts, client.WithFetchPolicy(policy))
	}

	var res *client.Result
	switch op.Kind() {
	case operation.KindQuery:
		res, err = gc.ops.Query(c.Request.Context(), op, opts...)
	case operation.KindMutation:
		res, err = gc.ops.Mutate(c.Request.Context(), op)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "subscriptions are not supported on this endpoint"})
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, cache.ErrMiss):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case c.Request.Context().Err() != nil:
			// RequestTimeout answers once the handler returns.
			log.Debugf("%s: %v", op.Name(), err)
		case link.IsTransport(err):
			log.Warnf("%s: %v", op.Name(), err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			log.Errorf("%s: %v", op.Name(), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.Header("X-Result-Source", string(res.Source))
	c.JSON(http.StatusOK, res)
}
