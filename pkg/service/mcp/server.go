// Package mcp exposes the archive as Model Context Protocol tools
package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/emoshelf/pkg/archive"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/usecase/command"
	"github.com/m-mizutani/emoshelf/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ServerName    = "emoshelf"
	ServerVersion = "0.1.0"
)

// Library is the part of the archive served over MCP
type Library interface {
	command.Library
	ReadAll(ctx context.Context, ref *model.MediaReference) ([]byte, error)
}

// Server wraps an MCP server with the archive tools registered
type Server struct {
	taxonomy *model.Taxonomy
	library  Library
	ingester command.Ingester

	localOverHTTP bool
}

type Option func(*Server)

// WithLocalLocators lets HTTP clients pass local paths and file:// locators to add_media.
// Clients on Run and RunStdio always may.
func WithLocalLocators(allowed bool) Option {
	return func(s *Server) {
		s.localOverHTTP = allowed
	}
}

type categoryParams struct {
	Category string `json:"category" jsonschema:"Emotion category name, display name or synonym"`
}

type addParams struct {
	Locator  string `json:"locator" jsonschema:"Local file path or http(s) URL of the image"`
	Category string `json:"category,omitempty" jsonschema:"Emotion category. Detected from the image when omitted"`
}

type statsParams struct{}

// NewServer serves list_media, send_media, archive_stats and add_media. Over HTTP add_media
// accepts only http(s) locators unless WithLocalLocators is given.
func NewServer(taxonomy *model.Taxonomy, library Library, ingester command.Ingester, opts ...Option) *Server {
	s := &Server{
		taxonomy: taxonomy,
		library:  library,
		ingester: ingester,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) newMCPServer(allowLocal bool) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_media",
		Description: "List stored images of an emotion category in insertion order",
	}, s.listMedia)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_media",
		Description: "Return a random stored image of an emotion category",
	}, s.sendMedia)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "archive_stats",
		Description: "Count stored images per emotion category",
	}, s.archiveStats)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_media",
		Description: "Classify an image and add it to the archive",
	}, func(ctx context.Context, req *mcp.CallToolRequest, params *addParams) (*mcp.CallToolResult, any, error) {
		return s.addMedia(ctx, params, allowLocal)
	})

	return server
}

// RunStdio serves over stdin/stdout until the client disconnects or ctx is canceled
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// Run serves a single local client over t
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	if err := s.newMCPServer(true).Run(ctx, t); err != nil {
		return goerr.Wrap(err, "mcp server failed")
	}
	return nil
}

// Handler serves the streamable HTTP transport
func (s *Server) Handler() http.Handler {
	server := s.newMCPServer(s.localOverHTTP)
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server
	}, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	r := textResult(text)
	r.IsError = true
	return r
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal tool result")
	}
	return textResult(string(raw)), nil
}

func (s *Server) resolve(name string) (model.Category, *mcp.CallToolResult) {
	if name == "" {
		return "", errorResult("category is required")
	}
	c, ok := s.taxonomy.Resolve(name)
	if !ok {
		return "", errorResult("invalid emotion: " + name)
	}
	return c, nil
}

func (s *Server) listMedia(ctx context.Context, req *mcp.CallToolRequest, params *categoryParams) (*mcp.CallToolResult, any, error) {
	c, failed := s.resolve(params.Category)
	if failed != nil {
		return failed, nil, nil
	}

	refs, err := s.library.Listing(c)
	if err != nil {
		return nil, nil, err
	}
	result, err := jsonResult(refs)
	return result, nil, err
}

func (s *Server) sendMedia(ctx context.Context, req *mcp.CallToolRequest, params *categoryParams) (*mcp.CallToolResult, any, error) {
	c, failed := s.resolve(params.Category)
	if failed != nil {
		return failed, nil, nil
	}

	ref, err := s.library.Sample(c)
	if err != nil {
		return nil, nil, err
	}
	if ref == nil {
		return errorResult("no " + string(c) + " images"), nil, nil
	}

	data, err := s.library.ReadAll(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	logging.From(ctx).Info("media sent over mcp", "category", c, "key", ref.Key)
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: ref.Key},
			&mcp.ImageContent{Data: data, MIMEType: ref.Format.MIMEType()},
		},
	}, nil, nil
}

func (s *Server) archiveStats(ctx context.Context, req *mcp.CallToolRequest, params *statsParams) (*mcp.CallToolResult, any, error) {
	result, err := jsonResult(s.library.Stats())
	return result, nil, err
}

func (s *Server) addMedia(ctx context.Context, params *addParams, allowLocal bool) (*mcp.CallToolResult, any, error) {
	if params.Locator == "" {
		return errorResult("locator is required"), nil, nil
	}
	if !allowLocal && !adapter.IsRemote(params.Locator) {
		logging.From(ctx).Warn("local locator refused over http", "locator", params.Locator)
		return errorResult("only http(s) locators are accepted"), nil, nil
	}

	result := s.ingester.Ingest(ctx, &model.IngestionRequest{
		Source:  "mcp",
		Locator: params.Locator,
		Label:   params.Category,
	})
	if !result.Admitted() {
		return errorResult(result.Message()), nil, nil
	}
	return textResult(result.Message()), nil, nil
}

var _ Library = (*archive.Archive)(nil)
