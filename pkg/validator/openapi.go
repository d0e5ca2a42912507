package validator

import (
	"context"
	"fmt"
	"os"
	"sync"

	apperrors "chatroom/backend/pkg/errors"
	"chatroom/backend/pkg/logger"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

// OpenAPIValidator validates requests against an OpenAPI document
type OpenAPIValidator struct {
	swagger    *openapi3.T
	router     routers.Router
	schemaPath string
	mutex      sync.RWMutex
}

// NewOpenAPIValidator loads the schema at schemaPath.
func NewOpenAPIValidator(schemaPath string) (*OpenAPIValidator, error) {
	swagger, router, err := loadFile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI schema from %s: %w", schemaPath, err)
	}
	return &OpenAPIValidator{swagger: swagger, router: router, schemaPath: schemaPath}, nil
}

// NewOpenAPIValidatorFromData builds a validator from an in-memory document.
func NewOpenAPIValidatorFromData(data []byte) (*OpenAPIValidator, error) {
	swagger, router, err := load(func(l *openapi3.Loader) (*openapi3.T, error) {
		return l.LoadFromData(data)
	})
	if err != nil {
		return nil, err
	}
	return &OpenAPIValidator{swagger: swagger, router: router}, nil
}

// loadFile reads the document itself; the loader's file reader caches by
// URI for the life of the process, which would hide edits on reload.
func loadFile(schemaPath string) (*openapi3.T, routers.Router, error) {
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, nil, err
	}
	return load(func(l *openapi3.Loader) (*openapi3.T, error) {
		return l.LoadFromData(data)
	})
}

func load(read func(*openapi3.Loader) (*openapi3.T, error)) (*openapi3.T, routers.Router, error) {
	loader := openapi3.NewLoader()
	swagger, err := read(loader)
	if err != nil {
		return nil, nil, err
	}
	if err := swagger.Validate(loader.Context); err != nil {
		return nil, nil, fmt.Errorf("invalid OpenAPI schema: %w", err)
	}
	// Match on path and method only; the server list is deployment specific.
	swagger.Servers = nil

	router, err := gorillamux.NewRouter(swagger)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating OpenAPI router: %w", err)
	}
	return swagger, router, nil
}

// ReloadSchema reloads the OpenAPI schema from disk. A broken document
// leaves the current one in place.
func (v *OpenAPIValidator) ReloadSchema() error {
	if v.schemaPath == "" {
		return fmt.Errorf("validator was not loaded from a file")
	}
	swagger, router, err := loadFile(v.schemaPath)
	if err != nil {
		return fmt.Errorf("failed to reload OpenAPI schema from %s: %w", v.schemaPath, err)
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.swagger = swagger
	v.router = router
	return nil
}

// Validate checks one request. Requests for routes the document does not
// describe pass.
func (v *OpenAPIValidator) Validate(ctx context.Context, c *gin.Context) error {
	v.mutex.RLock()
	router := v.router
	v.mutex.RUnlock()

	route, pathParams, err := router.FindRoute(c.Request)
	if err != nil {
		return nil
	}

	return openapi3filter.ValidateRequest(ctx, &openapi3filter.RequestValidationInput{
		Request:    c.Request,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			MultiError:         false,
		},
	})
}

// Middleware rejects requests that do not match the document with a
// validation error.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.Validate(c.Request.Context(), c); err != nil {
			logger.FromContext(c).Warn("Request failed schema validation", "error", err.Error())
			_ = c.Error(apperrors.NewValidationError("Invalid request").WithDetails(err.Error()))
			c.Abort()
			return
		}
		c.Next()
	}
}
