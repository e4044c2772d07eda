package controller

import (
	"net/http"

	"github.com/bassista/go_learn/internal/config"
	"github.com/gin-gonic/gin"
)

// ConfigurationResponse is what the frontend needs to reach the backend itself.
type ConfigurationResponse struct {
	GraphQLEndpoint   string `json:"graphqlEndpoint"`
	WebSocketEndpoint string `json:"wsEndpoint"`
	LoginPath         string `json:"loginPath"`
	WatchFetchPolicy  string `json:"watchFetchPolicy"`
	QueryFetchPolicy  string `json:"queryFetchPolicy"`
}

// ConfigurationController handles configuration-related API endpoints.
type ConfigurationController struct {
	config *config.Config
}

// NewConfigurationController creates a new ConfigurationController.
func NewConfigurationController(cfg *config.Config) *ConfigurationController {
	return &ConfigurationController{
		config: cfg,
	}
}

// GetConfiguration returns the endpoints and fetch policies in use.
func (cc *ConfigurationController) GetConfiguration(c *gin.Context) {
	response := ConfigurationResponse{
		GraphQLEndpoint:   cc.config.GraphQL.HTTPEndpoint,
		WebSocketEndpoint: cc.config.GraphQL.WSEndpoint,
		LoginPath:         cc.config.Auth.LoginPath,
		WatchFetchPolicy:  cc.config.GraphQL.WatchFetchPolicy,
		QueryFetchPolicy:  cc.config.GraphQL.QueryFetchPolicy,
	}
	c.JSON(http.StatusOK, response)
}
