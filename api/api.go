// Package api serves the document engine over HTTP: manifest analysis, stored findings,
// package lookups, the GraphQL schema and Prometheus metrics.
package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/graphql-go/graphql"
	"github.com/ortelius/vulnlsp/engine"
	"github.com/ortelius/vulnlsp/model"
	"github.com/ortelius/vulnlsp/parser"
	"github.com/ortelius/vulnlsp/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DocumentRequest is the body of a document analysis
type DocumentRequest struct {
	URI  string `json:"uri"`
	Text string `json:"text"`
}

// DocumentResponse returns the findings of a document
type DocumentResponse struct {
	Success  bool               `json:"success"`
	Message  string             `json:"message,omitempty"`
	URI      string             `json:"uri"`
	Findings []security.Finding `json:"findings"`
}

// ErrorResponse reports a failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Server holds the handler dependencies
type Server struct {
	engine *engine.Engine
	logger *zap.Logger
}

// New builds the fiber app. A nil gatherer disables /metrics.
func New(e *engine.Engine, schema graphql.Schema, gatherer prometheus.Gatherer, log *zap.Logger, accessLog bool) *fiber.App {
	s := &Server{engine: e, logger: log}

	app := fiber.New(fiber.Config{
		AppName:     "vulnlsp API v1.0",
		BodyLimit:   10 * 1024 * 1024,
		ReadTimeout: time.Second * 60,
	})

	// Middleware
	app.Use(fiberrecover.New())
	if accessLog {
		app.Use(logger.New())
	}
	app.Use(cors.New())

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
		})
	})

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api/v1")
	api.Post("/documents", s.PostDocument)
	api.Get("/documents", s.GetDocument)
	api.Get("/packages", s.GetPackage)
	api.Post("/graphql", GraphQLHandler(schema, log))

	return app
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(ErrorResponse{Success: false, Message: message})
}

// PostDocument runs the pipeline over a manifest. A parse failure answers 422 with the
// previous findings; a backend failure answers 200 with the findings computed from the cache.
func (s *Server) PostDocument(c *fiber.Ctx) error {
	var req DocumentRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.URI == "" {
		return fail(c, fiber.StatusBadRequest, "uri is required")
	}
	if !s.engine.CanHandle(req.URI) {
		return fail(c, fiber.StatusBadRequest, parser.ErrNoParserFound.Error()+" for "+req.URI)
	}

	findings, err := s.engine.Update(c.UserContext(), req.URI, req.Text)
	if findings == nil {
		findings = []security.Finding{}
	}

	resp := DocumentResponse{Success: err == nil, URI: req.URI, Findings: findings}
	if err != nil {
		resp.Message = err.Error()

		var parseErr *parser.ManifestParseError
		var buildErr *parser.BuildDependencyError
		if errors.As(err, &parseErr) || errors.As(err, &buildErr) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(resp)
		}
		s.logger.Warn("Document analysed with errors", zap.String("uri", req.URI), zap.Error(err))
	}
	return c.JSON(resp)
}

// GetDocument returns the stored findings of a document
func (s *Server) GetDocument(c *fiber.Ctx) error {
	uri := c.Query("uri")
	if uri == "" {
		return fail(c, fiber.StatusBadRequest, "uri query parameter is required")
	}

	findings, ok := s.engine.Findings(uri)
	if !ok {
		return fail(c, fiber.StatusNotFound, "document not found: "+uri)
	}
	return c.JSON(DocumentResponse{Success: true, URI: uri, Findings: findings})
}

// GetPackage returns the vulnerabilities of one purl
func (s *Server) GetPackage(c *fiber.Ctx) error {
	raw := c.Query("purl")
	if raw == "" {
		return fail(c, fiber.StatusBadRequest, "purl query parameter is required")
	}

	purl, err := model.ParsePurl(raw)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	info, err := s.engine.Package(c.UserContext(), purl)
	if err != nil {
		return fail(c, fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(info)
}

// GraphQLHandler handles GraphQL requests
func GraphQLHandler(schema graphql.Schema, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var params struct {
			Query         string                 `json:"query"`
			OperationName string                 `json:"operationName"`
			Variables     map[string]interface{} `json:"variables"`
		}

		if err := c.BodyParser(&params); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"errors": []map[string]interface{}{
					{
						"message": "Invalid request body",
					},
				},
			})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  params.Query,
			VariableValues: params.Variables,
			OperationName:  params.OperationName,
			Context:        c.UserContext(),
		})

		if len(result.Errors) > 0 {
			log.Sugar().Warnf("GraphQL errors: %v", result.Errors)
		}

		return c.JSON(result)
	}
}
