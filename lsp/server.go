// Package lsp publishes vulnerability diagnostics, hovers and version completions for manifests
// open in an editor, speaking the language server protocol over stdio.
package lsp

import (
	"context"
	"sync"

	"github.com/ortelius/vulnlsp/engine"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"
	"go.uber.org/zap"
)

const serverName = "vulnlsp"

// Server adapts the engine to the protocol handlers
type Server struct {
	engine  *engine.Engine
	logger  *zap.Logger
	version string
	handler protocol.Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a language server over e
func NewServer(e *engine.Engine, logger *zap.Logger, version string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:  e,
		logger:  logger,
		version: version,
		ctx:     ctx,
		cancel:  cancel,
	}

	s.handler = protocol.Handler{
		Initialize:             s.initialize,
		Initialized:            s.initialized,
		Shutdown:               s.shutdown,
		SetTrace:               s.setTrace,
		TextDocumentDidOpen:    s.didOpen,
		TextDocumentDidChange:  s.didChange,
		TextDocumentDidSave:    s.didSave,
		TextDocumentDidClose:   s.didClose,
		TextDocumentHover:      s.hover,
		TextDocumentCompletion: s.completion,
	}
	return s
}

// RunStdio serves until the client disconnects
func (s *Server) RunStdio() error {
	s.logger.Info("Starting language server", zap.String("version", s.version))
	defer s.cancel()
	return server.NewServer(&s.handler, serverName, false).RunStdio()
}

// Wait blocks until every scheduled analysis has published
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) initialize(_ *glsp.Context, params *protocol.InitializeParams) (any, error) {
	if params.ClientInfo != nil {
		s.logger.Info("Client connected", zap.String("client", params.ClientInfo.Name))
	}

	capabilities := s.handler.CreateServerCapabilities()
	full := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &full,
		Save:      &protocol.SaveOptions{IncludeText: &protocol.True},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    serverName,
			Version: &s.version,
		},
	}, nil
}

func (s *Server) initialized(_ *glsp.Context, _ *protocol.InitializedParams) error {
	s.logger.Debug("Client initialized")
	return nil
}

func (s *Server) shutdown(_ *glsp.Context) error {
	s.logger.Info("Shutting down language server")
	protocol.SetTraceValue(protocol.TraceValueOff)
	s.cancel()
	return nil
}

func (s *Server) setTrace(_ *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

func (s *Server) didOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.analyse(ctx.Notify, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *Server) didChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	text, ok := s.engine.Text(params.TextDocument.URI)
	changed := false

	for _, change := range params.ContentChanges {
		switch c := change.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			text, changed = c.Text, true
		case protocol.TextDocumentContentChangeEvent:
			// full sync sends whole documents; ranged edits are ignored
			if c.Range == nil {
				text, changed = c.Text, true
			}
		}
	}

	if !changed && !ok {
		return nil
	}
	s.analyse(ctx.Notify, params.TextDocument.URI, text)
	return nil
}

func (s *Server) didSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	text, ok := s.engine.Text(params.TextDocument.URI)
	if params.Text != nil {
		text, ok = *params.Text, true
	}
	if !ok {
		return nil
	}
	s.analyse(ctx.Notify, params.TextDocument.URI, text)
	return nil
}

func (s *Server) didClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.engine.Close(params.TextDocument.URI)
	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         params.TextDocument.URI,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// analyse runs the pipeline in the background and publishes the findings. Runs for the same
// document may overlap; the last publish wins.
func (s *Server) analyse(notify glsp.NotifyFunc, uri string, text string) {
	if !s.engine.CanHandle(uri) {
		s.logger.Debug("Ignoring unsupported document", zap.String("uri", uri))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		findings, err := s.engine.Update(s.ctx, uri, text)
		if err != nil {
			s.logger.Warn("Analysis incomplete", zap.String("uri", uri), zap.Error(err))
		}

		notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
			URI:         uri,
			Diagnostics: toDiagnostics(findings),
		})
	}()
}

func (s *Server) hover(_ *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, rng, ok := s.engine.Hover(params.TextDocument.URI, params.Position.Line)
	if !ok {
		return nil, nil
	}

	hoverRange := toRange(rng)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: text,
		},
		Range: &hoverRange,
	}, nil
}

func (s *Server) completion(_ *glsp.Context, params *protocol.CompletionParams) (any, error) {
	suggestions, err := s.engine.Completions(s.ctx, params.TextDocument.URI, params.Position.Line)
	if err != nil {
		s.logger.Warn("Version completion failed", zap.String("uri", params.TextDocument.URI), zap.Error(err))
		return nil, nil
	}
	return toCompletionItems(suggestions), nil
}
